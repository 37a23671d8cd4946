package grpcx

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/market-chat/pkg/logger"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const mdRequestID = "x-request-id"

// дефолтный guard, если клиент не прислал deadline
const defaultDeadline = 10 * time.Second

// Unary logging + recovery + timeout guard (если у вызова нет deadline)
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultDeadline)
			defer cancel()
		}

		reqID := requestID(ctx)
		log := logger.L().With("req_id", reqID, "method", info.FullMethod)
		ctx = logger.WithContext(ctx, log)

		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc unary panic",
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			code := status.Code(err)
			attrs := []any{"code", code.String(), "dur_ms", time.Since(start).Milliseconds()}
			switch code {
			case codes.OK:
				log.Info("grpc unary", attrs...)
			case codes.Internal, codes.Unavailable:
				log.Error("grpc unary", append(attrs, "err", errString(err))...)
			default:
				log.Warn("grpc unary", append(attrs, "err", errString(err))...)
			}
		}()

		return handler(ctx, req)
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md.Get(mdRequestID)); v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
