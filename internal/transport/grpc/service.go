package grpcx

import (
	"context"
	"time"

	"github.com/cwrk-planet/market-chat/internal/transport/dto"

	"google.golang.org/grpc"
)

const serviceName = "marketchat.v1.ChatService"

type CreateOrGetChatRequest struct {
	SellerID        string `json:"sellerId"`
	BuyerID         string `json:"buyerId"`
	ListingID       string `json:"listingId"`
	IsSystemMessage bool   `json:"isSystemMessage,omitempty"`
}

type CreateOrGetChatResponse struct {
	Chat    dto.Chat `json:"chat"`
	Created bool     `json:"created"`
}

type AppendMessageRequest struct {
	ChatID      string     `json:"chatId"`
	Content     string     `json:"content"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	ClientMsgID string     `json:"clientMsgId,omitempty"`
}

type AppendMessageResponse struct {
	Message   dto.Message `json:"message"`
	Duplicate bool        `json:"duplicate,omitempty"`
}

type ListChatsForUserRequest struct{}

type ListChatsForUserResponse struct {
	Items []dto.Chat `json:"items"`
}

// ChatServiceServer is implemented by *Server.
type ChatServiceServer interface {
	CreateOrGetChat(context.Context, *CreateOrGetChatRequest) (*CreateOrGetChatResponse, error)
	AppendMessage(context.Context, *AppendMessageRequest) (*AppendMessageResponse, error)
	ListChatsForUser(context.Context, *ListChatsForUserRequest) (*ListChatsForUserResponse, error)
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrGetChat", Handler: unaryHandler("CreateOrGetChat", func(s ChatServiceServer, ctx context.Context, in *CreateOrGetChatRequest) (any, error) {
			return s.CreateOrGetChat(ctx, in)
		})},
		{MethodName: "AppendMessage", Handler: unaryHandler("AppendMessage", func(s ChatServiceServer, ctx context.Context, in *AppendMessageRequest) (any, error) {
			return s.AppendMessage(ctx, in)
		})},
		{MethodName: "ListChatsForUser", Handler: unaryHandler("ListChatsForUser", func(s ChatServiceServer, ctx context.Context, in *ListChatsForUserRequest) (any, error) {
			return s.ListChatsForUser(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketchat/v1/chat",
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// unaryHandler повторяет то, что обычно генерирует protoc-gen-go-grpc.
func unaryHandler[Req any](method string, call func(ChatServiceServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ChatServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

func Register(gs grpc.ServiceRegistrar, s ChatServiceServer) {
	gs.RegisterService(&ChatServiceDesc, s)
}

// Client calls the service with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateOrGetChat(ctx context.Context, in *CreateOrGetChatRequest, opts ...grpc.CallOption) (*CreateOrGetChatResponse, error) {
	return invoke[CreateOrGetChatResponse](ctx, c.cc, "CreateOrGetChat", in, opts)
}

func (c *Client) AppendMessage(ctx context.Context, in *AppendMessageRequest, opts ...grpc.CallOption) (*AppendMessageResponse, error) {
	return invoke[AppendMessageResponse](ctx, c.cc, "AppendMessage", in, opts)
}

func (c *Client) ListChatsForUser(ctx context.Context, in *ListChatsForUserRequest, opts ...grpc.CallOption) (*ListChatsForUserResponse, error) {
	return invoke[ListChatsForUserResponse](ctx, c.cc, "ListChatsForUser", in, opts)
}
