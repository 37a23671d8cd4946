package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/transport/dto"
	"github.com/cwrk-planet/market-chat/pkg/logger"
)

// client is the per-connection state handed to every handler.
type client struct {
	sessionID string
	conn      *wsConn
	wait      func(ctx context.Context) error // send rate limiter
}

type handlerFunc func(ctx context.Context, c *client, payload json.RawMessage)

// handlers is the explicit event table: one entry per inbound frame type.
func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypeJoin:  s.handleJoin,
		TypeLeave: s.handleLeave,
		TypeSend:  s.handleSend,
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.replyError(c, domain.ReasonValidation, "malformed frame")
		return
	}
	h, ok := s.table[f.Type]
	if !ok {
		s.replyError(c, domain.ReasonValidation, fmt.Sprintf("unknown event type %q", f.Type))
		return
	}
	h(ctx, c, f.Payload)
}

func (s *Server) handleJoin(ctx context.Context, c *client, payload json.RawMessage) {
	var p ChatRefPayload
	if err := decodePayload(payload, &p); err != nil || strings.TrimSpace(p.ChatID) == "" {
		s.replyError(c, domain.ReasonValidation, "join requires chatId")
		return
	}
	chatID := strings.TrimSpace(p.ChatID)
	if err := s.sessions.Join(c.sessionID, chatID); err != nil {
		s.replyError(c, domain.ReasonNotFound, err.Error())
		return
	}
	logger.FromContext(ctx).Debug("ws joined room", "chat_id", chatID)
	_ = c.conn.Send(Message{Type: TypeJoined, Payload: ChatRefPayload{ChatID: chatID}})
}

func (s *Server) handleLeave(ctx context.Context, c *client, payload json.RawMessage) {
	var p ChatRefPayload
	if err := decodePayload(payload, &p); err != nil || strings.TrimSpace(p.ChatID) == "" {
		s.replyError(c, domain.ReasonValidation, "leave requires chatId")
		return
	}
	chatID := strings.TrimSpace(p.ChatID)
	if err := s.sessions.Leave(c.sessionID, chatID); err != nil {
		s.replyError(c, domain.ReasonNotFound, err.Error())
		return
	}
	logger.FromContext(ctx).Debug("ws left room", "chat_id", chatID)
	_ = c.conn.Send(Message{Type: TypeLeft, Payload: ChatRefPayload{ChatID: chatID}})
}

func (s *Server) handleSend(ctx context.Context, c *client, payload json.RawMessage) {
	var p SendPayload
	if err := decodePayload(payload, &p); err != nil {
		s.replyFailed(c, p, fmt.Errorf("%w: malformed send payload", domain.ErrValidation))
		return
	}

	sender := strings.TrimSpace(p.SenderID)
	switch {
	case c.conn.UserID() == "":
		s.replyFailed(c, p, fmt.Errorf("%w: anonymous sessions cannot send", domain.ErrUnauthorized))
		return
	case sender == "":
		sender = c.conn.UserID()
	case sender != c.conn.UserID():
		s.replyFailed(c, p, fmt.Errorf("%w: senderId does not match the session user", domain.ErrUnauthorized))
		return
	}

	if err := c.wait(ctx); err != nil {
		// соединение закрывается, отвечать некому
		return
	}

	d, err := s.chats.SendMessage(ctx, service.SendCommand{
		ChatID:      p.ChatID,
		SenderID:    sender,
		Content:     p.Content,
		SentAt:      p.SentAt,
		ClientMsgID: p.ClientMsgID,
	})
	if err != nil {
		s.replyFailed(c, p, err)
		return
	}

	// повтор: комнате уже разослано, подтверждаем только отправителю.
	// не в комнате: шина до этого соединения не дойдёт
	if d.Duplicate || !s.joined(c, d.Message.ChatID) {
		_ = c.conn.Send(Message{
			Type:    TypeMessageDelivered,
			Payload: MessageDeliveredPayload{ChatID: d.Message.ChatID, Message: dto.MessageFrom(d.Message)},
		})
	}
}

func (s *Server) joined(c *client, chatID string) bool {
	sess, ok := s.sessions.Get(c.sessionID)
	return ok && sess.InRoom(chatID)
}

func (s *Server) replyFailed(c *client, p SendPayload, err error) {
	_ = c.conn.Send(Message{
		Type: TypeDeliveryFailed,
		Payload: DeliveryFailedPayload{
			ChatID:      p.ChatID,
			Reason:      domain.Reason(err),
			Message:     publicMessage(err),
			Retryable:   domain.Retryable(err),
			ClientMsgID: p.ClientMsgID,
		},
	})
}

func (s *Server) replyError(c *client, reason, msg string) {
	_ = c.conn.Send(Message{Type: TypeError, Payload: ErrorPayload{Reason: reason, Message: msg}})
}

// publicMessage hides storage details from clients.
func publicMessage(err error) string {
	if errors.Is(err, domain.ErrPersistence) || domain.Reason(err) == domain.ReasonPersistence {
		return "message could not be stored, try again"
	}
	return err.Error()
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Debug("ws payload decode failed", "err", err)
		return err
	}
	return nil
}
