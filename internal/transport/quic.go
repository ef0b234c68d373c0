package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	quicIdleTimeout = 30 * time.Second
	quicKeepAlive   = 10 * time.Second

	// quicCloseNormal is the application error code sent on Close.
	quicCloseNormal quic.ApplicationErrorCode = 0
)

var quicConfig = &quic.Config{
	MaxIdleTimeout:  quicIdleTimeout,
	KeepAlivePeriod: quicKeepAlive,
}

// DialQUIC connects to a QUIC source at addr and accepts the message
// stream the source opens. opts.TLSConfig is required and must carry the
// playout ALPN (see certs.PinnedClientConfig).
func DialQUIC(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	if opts.TLSConfig == nil {
		return nil, errors.New("quic dial: TLS config required")
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, opts.TLSConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic dial: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(quicCloseNormal, "")
		return nil, fmt.Errorf("quic accept stream: %w", err)
	}
	opts.logger().Debug("quic connected", "addr", addr)
	return newQUICConn(conn, stream), nil
}

func newQUICConn(conn quic.Connection, stream quic.Stream) Conn {
	return newFramedConn(stream, 0, conn.RemoteAddr().String(), func() error {
		stream.CancelRead(0)
		_ = stream.Close()
		return conn.CloseWithError(quicCloseNormal, "")
	})
}

// QUICListener is the source side of DialQUIC: it accepts connections and
// opens the message stream on each. Tools and tests use it to feed
// sessions.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC listens on addr. tlsConf must present a certificate and the
// playout ALPN (see certs.CertInfo.ServerConfig).
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept waits for a connection and opens its message stream. The stream
// becomes visible to the peer with the first Send.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic accept: %w", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(quicCloseNormal, "")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}
	return newQUICConn(conn, stream), nil
}

// Addr returns the listening address.
func (l *QUICListener) Addr() string { return l.ln.Addr().String() }

func (l *QUICListener) Close() error { return l.ln.Close() }
