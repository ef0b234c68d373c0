package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/playout/internal/certs"
)

func TestFramedRoundTrip(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	client := newFramedConn(a, 0, "pipe", a.Close)
	server := newFramedConn(b, 7, "pipe", b.Close)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent := []Message{
		Text(`{"type":"media-offer"}`),
		Binary(bytes.Repeat([]byte{0xAB}, 5000)),
		Binary(nil),
	}
	go func() {
		for _, m := range sent {
			if err := server.Send(ctx, m); err != nil {
				t.Errorf("Send: %v", err)
				return
			}
		}
	}()

	for i, want := range sent {
		got, err := client.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if got.Kind != want.Kind || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("message %d: got %v/%d bytes, want %v/%d bytes", i, got.Kind, len(got.Data), want.Kind, len(want.Data))
		}
	}
}

func TestReadMessageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"bad kind", []byte{9, 0, 0, 0, 0}, ErrBadKind},
		{"too large", []byte{2, 0x7F, 0xFF, 0xFF, 0xFF}, ErrMessageTooLarge},
		{"truncated payload", []byte{2, 0, 0, 0, 4, 1, 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := readMessage(bytes.NewReader(tt.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAppendMessageRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	if _, err := appendMessage(nil, Message{Kind: 7}); !errors.Is(err, ErrBadKind) {
		t.Errorf("got %v, want ErrBadKind", err)
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	c := newFramedConn(a, 0, "pipe", a.Close)
	defer c.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestReceiveAfterPeerClose(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	c := newFramedConn(a, 0, "pipe", a.Close)
	defer c.Close()
	b.Close()

	if _, err := c.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "rtmp://example.com/live", DialOptions{})
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("got %v, want ErrUnsupportedScheme", err)
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo until the client goes away.
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			if err := conn.Send(ctx, msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dial := NewDialer(DialOptions{})
	conn, err := dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, m := range []Message{Text("hello"), Binary([]byte{0, 0, 0, 1, 0x65})} {
		if err := conn.Send(ctx, m); err != nil {
			t.Fatalf("Send: %v", err)
		}
		got, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got.Kind != m.Kind || !bytes.Equal(got.Data, m.Data) {
			t.Errorf("echo: got %v %q, want %v %q", got.Kind, got.Data, m.Kind, m.Data)
		}
	}

	if err := conn.Send(ctx, Message{Kind: 0}); !errors.Is(err, ErrBadKind) {
		t.Errorf("bad kind: got %v", err)
	}
}

func TestQUIC(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := ListenQUIC("127.0.0.1:0", cert.ServerConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	offer := Text(`{"type":"media-offer"}`)
	answer := make(chan Message, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()
		if err := conn.Send(ctx, offer); err != nil {
			t.Errorf("send offer: %v", err)
			return
		}
		msg, err := conn.Receive(ctx)
		if err != nil {
			t.Errorf("receive answer: %v", err)
			return
		}
		answer <- msg
	}()

	conn, err := Dial(ctx, "quic://"+ln.Addr(), DialOptions{TLSConfig: certs.PinnedClientConfig(cert.Fingerprint)})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	got, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("receive offer: %v", err)
	}
	if got.Kind != KindText || string(got.Data) != string(offer.Data) {
		t.Errorf("offer: got %v %q", got.Kind, got.Data)
	}
	if err := conn.Send(ctx, Text("ok")); err != nil {
		t.Fatalf("send answer: %v", err)
	}
	select {
	case msg := <-answer:
		if string(msg.Data) != "ok" {
			t.Errorf("answer: got %q", msg.Data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for answer")
	}
}

func TestQUICRequiresTLS(t *testing.T) {
	t.Parallel()
	if _, err := DialQUIC(context.Background(), "127.0.0.1:1", DialOptions{}); err == nil {
		t.Error("expected error without TLS config")
	}
}
