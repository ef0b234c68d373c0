package transport

import (
	"context"
	"fmt"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const (
	// srtPayloadSize is the SRT live-mode payload size.
	srtPayloadSize = 1316
	// srtLatencyNs is the receiver latency (120ms).
	srtLatencyNs = 120_000_000
)

// DialSRT connects to an SRT listener in caller mode. srtgo.Dial blocks
// without a context, so the dial runs in a goroutine and a connection that
// completes after the deadline is closed.
func DialSRT(ctx context.Context, addr, streamID string, opts DialOptions) (Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if streamID != "" {
		cfg.StreamID = streamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timeout := opts.timeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial: %w", res.err)
		}
		opts.logger().Debug("srt connected", "addr", addr, "stream_id", streamID)
		return newFramedConn(res.conn, srtPayloadSize, res.conn.RemoteAddr().String(), res.conn.Close), nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("srt dial timed out after %s", timeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}
