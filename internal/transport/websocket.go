package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsConn adapts a gorilla connection. Gorilla allows one concurrent writer,
// so Send serializes on mu.
type wsConn struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*wsConn)(nil)

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, opts DialOptions) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.timeout(),
		TLSClientConfig:  opts.TLSConfig,
		ReadBufferSize:   64 << 10,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(MaxMessageSize)
	opts.logger().Debug("websocket connected", "url", rawURL)
	return &wsConn{conn: conn}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 64 << 10,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// Upgrade accepts a WebSocket connection on an HTTP handler. It is the
// server side of DialWebSocket.
func Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
				return Message{}, ErrClosed
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return Message{}, ErrMessageTooLarge
			}
			return Message{}, fmt.Errorf("websocket read: %w", err)
		}
		switch typ {
		case websocket.TextMessage:
			return Message{Kind: KindText, Data: data}, nil
		case websocket.BinaryMessage:
			return Message{Kind: KindBinary, Data: data}, nil
		}
	}
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	var typ int
	switch msg.Kind {
	case KindText:
		typ = websocket.TextMessage
	case KindBinary:
		typ = websocket.BinaryMessage
	default:
		return ErrBadKind
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(typ, msg.Data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
