package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const frameHeaderSize = 5

// readDeadliner and writeDeadliner are implemented by QUIC streams. On
// streams without deadlines a cancelled Receive closes the connection.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// framedConn carries messages over a byte stream as
// [kind:1][len:4 BE][data]. maxWrite splits each encoded message into
// writes of at most that many bytes (SRT live mode payload size); zero
// writes it whole.
type framedConn struct {
	stream   io.ReadWriter
	r        *bufio.Reader
	maxWrite int
	remote   string
	close    func() error

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ Conn = (*framedConn)(nil)

func newFramedConn(s io.ReadWriter, maxWrite int, remote string, closeFn func() error) *framedConn {
	return &framedConn{
		stream:   s,
		r:        bufio.NewReaderSize(s, 64<<10),
		maxWrite: maxWrite,
		remote:   remote,
		close:    closeFn,
		closed:   make(chan struct{}),
	}
}

func (c *framedConn) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() {
		if d, ok := c.stream.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now())
			return
		}
		_ = c.Close()
	})
	defer stop()

	msg, err := readMessage(c.r)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		select {
		case <-c.closed:
			return Message{}, ErrClosed
		default:
		}
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	return msg, nil
}

func (c *framedConn) Send(ctx context.Context, msg Message) error {
	buf, err := appendMessage(nil, msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		if wd, ok := c.stream.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(d)
			defer wd.SetWriteDeadline(time.Time{})
		}
	}
	for len(buf) > 0 {
		n := len(buf)
		if c.maxWrite > 0 && n > c.maxWrite {
			n = c.maxWrite
		}
		if _, err := c.stream.Write(buf[:n]); err != nil {
			select {
			case <-c.closed:
				return ErrClosed
			default:
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (c *framedConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *framedConn) RemoteAddr() string { return c.remote }

func appendMessage(buf []byte, msg Message) ([]byte, error) {
	if msg.Kind != KindText && msg.Kind != KindBinary {
		return nil, ErrBadKind
	}
	if len(msg.Data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf = append(buf, byte(msg.Kind))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Data)))
	return append(buf, msg.Data...), nil
}

func readMessage(r io.Reader) (Message, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	kind := Kind(hdr[0])
	if kind != KindText && kind != KindBinary {
		return Message{}, fmt.Errorf("read: %w %d", ErrBadKind, hdr[0])
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > MaxMessageSize {
		return Message{}, fmt.Errorf("read %d bytes: %w", n, ErrMessageTooLarge)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("read payload: %w", err)
	}
	return Message{Kind: kind, Data: data}, nil
}
