package playout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink consumes one dispatched packet. data is the materialized payload.
type Sink func(ctx context.Context, pkt Packet, data []byte) error

// DispatchStats counts dispatcher activity.
type DispatchStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Drains    int64 `json:"drains"`
}

// Dispatcher drains one Queue into a Sink. Drive starts a drain loop unless
// one is already running; the loop runs until the queue is empty at its
// emptiness check. Per-packet failures are reported and do not stop the
// loop. Packets reach the sink in queue order.
type Dispatcher struct {
	log     *slog.Logger
	queue   *Queue
	sink    Sink
	onError func(Packet, error)

	busy atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	drains    atomic.Int64
}

// NewDispatcher binds a dispatcher to q and sink. If log is nil,
// slog.Default() is used.
func NewDispatcher(q *Queue, sink Sink, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:    log.With("component", "dispatcher"),
		queue:  q,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnError registers fn to receive per-packet failures. It must be set
// before the first Drive.
func (d *Dispatcher) OnError(fn func(Packet, error)) {
	d.onError = fn
}

// Drive starts draining the queue if no drain is in progress. It is safe to
// call from any goroutine and returns immediately.
func (d *Dispatcher) Drive() {
	if !d.busy.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.busy.Store(false)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.drains.Add(1)
	go d.run()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		d.drain()
		d.busy.Store(false)

		// A packet enqueued after the last emptiness check but before the
		// busy flag cleared saw a busy dispatcher and did not start a loop.
		if d.ctx.Err() != nil || d.queue.IsEmpty() {
			return
		}
		if !d.busy.CompareAndSwap(false, true) {
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for d.ctx.Err() == nil {
		pkt, ok := d.queue.Dequeue()
		if !ok {
			return
		}
		d.dispatch(pkt)
	}
}

func (d *Dispatcher) dispatch(pkt Packet) {
	data, err := pkt.Payload.Materialize(d.ctx)
	if err == nil {
		err = d.sink(d.ctx, pkt, data)
	}
	if err != nil {
		d.failed.Add(1)
		if d.ctx.Err() != nil {
			return
		}
		d.log.Debug("dispatch failed", "seq", pkt.Seq, "error", err)
		if d.onError != nil {
			d.onError(pkt, err)
		}
		return
	}
	d.processed.Add(1)
}

// Busy reports whether a drain loop is running.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Drains:    d.drains.Load(),
	}
}

// Close stops the drain loop and waits for the in-flight packet. Later
// Drive calls are no-ops. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
