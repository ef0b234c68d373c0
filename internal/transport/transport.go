// Package transport carries session messages over WebSocket, QUIC and SRT
// behind a single message-oriented Conn. WebSocket preserves message
// boundaries natively; QUIC and SRT streams carry each message as a
// 1-byte kind, a 4-byte big-endian length and the data.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Kind distinguishes control text from media payloads.
type Kind uint8

const (
	KindText   Kind = 1
	KindBinary Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one transport message.
type Message struct {
	Kind Kind
	Data []byte
}

// Text builds a text message.
func Text(s string) Message { return Message{Kind: KindText, Data: []byte(s)} }

// Binary builds a binary message.
func Binary(b []byte) Message { return Message{Kind: KindBinary, Data: b} }

// Conn is a bidirectional message connection. Receive is called from a
// single goroutine; Send may be called concurrently.
type Conn interface {
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, msg Message) error
	Close() error
	RemoteAddr() string
}

// Sentinel errors.
var (
	ErrClosed            = errors.New("transport: connection closed")
	ErrUnsupportedScheme = errors.New("transport: unsupported URL scheme")
	ErrMessageTooLarge   = errors.New("transport: message too large")
	ErrBadKind           = errors.New("transport: unknown message kind")
)

// MaxMessageSize bounds a single inbound message.
const MaxMessageSize = 16 << 20

const defaultDialTimeout = 10 * time.Second

// DialOptions configures Dial.
type DialOptions struct {
	// TLSConfig is used for wss:// and quic://. QUIC requires it to carry
	// the playout ALPN.
	TLSConfig *tls.Config
	// Timeout bounds connection setup. Zero means 10s.
	Timeout time.Duration
	// SRTStreamID overrides the stream id sent in the SRT handshake. By
	// default the URL's streamid query parameter is used.
	SRTStreamID string
	Logger      *slog.Logger
}

func (o DialOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultDialTimeout
}

func (o DialOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Dialer opens a Conn to a URL. Session tests substitute their own.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// NewDialer returns a Dialer routing by URL scheme: ws and wss to
// WebSocket, quic to QUIC, srt to SRT.
func NewDialer(opts DialOptions) Dialer {
	return func(ctx context.Context, rawURL string) (Conn, error) {
		return Dial(ctx, rawURL, opts)
	}
}

// Dial opens a Conn to rawURL.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWebSocket(ctx, rawURL, opts)
	case "quic":
		return DialQUIC(ctx, u.Host, opts)
	case "srt":
		streamID := opts.SRTStreamID
		if streamID == "" {
			streamID = u.Query().Get("streamid")
		}
		return DialSRT(ctx, u.Host, streamID, opts)
	default:
		return nil, fmt.Errorf("dial %q: %w", u.Scheme, ErrUnsupportedScheme)
	}
}
