package grpcx

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/security"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/transport/dto"
	"github.com/cwrk-planet/market-chat/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	mdAuthorization = "authorization"
	mdUserID        = "x-user-id"
)

type Server struct {
	chats *service.ChatService
	auth  security.Authenticator
}

func NewServer(chats *service.ChatService, auth security.Authenticator) *Server {
	return &Server{chats: chats, auth: auth}
}

// NewGRPCServer wires the interceptors and registers s.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryServerInterceptor())}, opts...)
	gs := grpc.NewServer(opts...)
	Register(gs, s)
	return gs
}

// Serve блокирует до отмены ctx, затем GracefulStop.
func Serve(ctx context.Context, gs *grpc.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("grpc listening", "addr", ln.Addr().String())
		if err := gs.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// -------- helpers --------

func (s *Server) userFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	// Authorization: Bearer <access_token>
	auth := first(md.Get(mdAuthorization))
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || len(auth) <= 7 {
		return "", status.Error(codes.Unauthenticated, "missing authorization")
	}

	userID, err := s.auth.Authenticate(strings.TrimSpace(auth[7:]), first(md.Get(mdUserID)))
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return userID, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch domain.Reason(err) {
	case domain.ReasonValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.ReasonNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.ReasonUnauthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.ReasonBlocked:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Unavailable, "storage unavailable, try again")
	}
}

// -------- methods --------

func (s *Server) CreateOrGetChat(ctx context.Context, in *CreateOrGetChatRequest) (*CreateOrGetChatResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}
	chat, created, err := s.chats.CreateOrGetChat(ctx, service.CreateChatCommand{
		ActorID:         userID,
		SellerID:        in.SellerID,
		BuyerID:         in.BuyerID,
		ListingID:       in.ListingID,
		IsSystemMessage: in.IsSystemMessage,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &CreateOrGetChatResponse{Chat: dto.ChatFrom(chat), Created: created}, nil
}

func (s *Server) AppendMessage(ctx context.Context, in *AppendMessageRequest) (*AppendMessageResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.chats.SendMessage(ctx, service.SendCommand{
		ChatID:      in.ChatID,
		SenderID:    userID,
		Content:     in.Content,
		SentAt:      in.SentAt,
		ClientMsgID: in.ClientMsgID,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &AppendMessageResponse{Message: dto.MessageFrom(d.Message), Duplicate: d.Duplicate}, nil
}

func (s *Server) ListChatsForUser(ctx context.Context, _ *ListChatsForUserRequest) (*ListChatsForUserResponse, error) {
	userID, err := s.userFromMD(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &ListChatsForUserResponse{Items: dto.Summaries(items)}, nil
}
