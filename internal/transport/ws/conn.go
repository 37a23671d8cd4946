package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/transport/dto"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed   = errors.New("ws: connection closed")
	errSlowConsumer = errors.New("ws: outbound queue full")
)

const writeWait = 5 * time.Second

// wsConn is the session handle of one socket. Frames go through a bounded
// queue drained by writeLoop, so a publish never waits on the network.
type wsConn struct {
	conn   *websocket.Conn
	userID string
	out    chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newWsConn(c *websocket.Conn, userID string, buffer int) *wsConn {
	return &wsConn{
		conn:   c,
		userID: userID,
		out:    make(chan Message, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) UserID() string { return c.userID }

// Deliver is called by the bus for room events.
func (c *wsConn) Deliver(ev domain.Event) error {
	if ev.Kind != domain.EventMessageDelivered || ev.Message == nil {
		return nil
	}
	return c.Send(Message{
		Type:    TypeMessageDelivered,
		Payload: MessageDeliveredPayload{ChatID: ev.ChatID, Message: dto.MessageFrom(*ev.Message)},
	})
}

// Send enqueues msg; a full queue means the client cannot keep up and the
// connection is dropped.
func (c *wsConn) Send(msg Message) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		slog.Warn("ws slow consumer, closing", "user_id", c.userID)
		_ = c.Close()
		return errSlowConsumer
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writeLoop(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	defer func() { _ = c.Close() }()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("ws write failed", "user_id", c.userID, "err", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
