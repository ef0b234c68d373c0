// Package playout buffers received media between the transport and the
// codec engine. A [Queue] bounds memory with a drop-oldest policy and a
// [Dispatcher] drains it into the decode step with at most one drain loop
// in flight.
package playout

import (
	"context"
	"sync"
	"time"
)

// Default queue bounds.
const (
	DefaultMaxPackets = 100
	DefaultMaxBytes   = 10 << 20
)

// Payload is the content of a queued packet: either bytes already in
// memory, or a deferred blob that must be loaded before decoding.
type Payload struct {
	data []byte
	load func(context.Context) ([]byte, error)
	size int
}

// Bytes wraps an in-memory payload.
func Bytes(b []byte) Payload {
	return Payload{data: b, size: len(b)}
}

// Deferred wraps a payload of the given size whose bytes are produced by
// load when the packet is dispatched.
func Deferred(size int, load func(context.Context) ([]byte, error)) Payload {
	return Payload{load: load, size: size}
}

// Size returns the byte size used for queue accounting.
func (p Payload) Size() int { return p.size }

// IsDeferred reports whether the payload must be materialized.
func (p Payload) IsDeferred() bool { return p.load != nil }

// Materialize returns the payload bytes, loading deferred payloads.
func (p Payload) Materialize(ctx context.Context) ([]byte, error) {
	if p.load == nil {
		return p.data, nil
	}
	return p.load(ctx)
}

// Packet is a payload with its enqueue metadata.
type Packet struct {
	Payload    Payload
	EnqueuedAt time.Time // carries a monotonic reading
	Size       int
	Seq        uint64
}

// QueueStats is a point-in-time view of queue counters and occupancy.
type QueueStats struct {
	TotalEnqueued      int64 `json:"totalEnqueued"`
	TotalDequeued      int64 `json:"totalDequeued"`
	TotalOverflows     int64 `json:"totalOverflows"`
	TotalBytesEnqueued int64 `json:"totalBytesEnqueued"`
	TotalBytesDequeued int64 `json:"totalBytesDequeued"`
	TotalBytesDropped  int64 `json:"totalBytesDropped"`

	CurrentPackets int `json:"currentPackets"`
	CurrentBytes   int `json:"currentBytes"`
	MaxPackets     int `json:"maxPackets"`
	MaxBytes       int `json:"maxBytes"`
}

// PacketUsage returns occupancy as a percentage of the packet bound.
func (s QueueStats) PacketUsage() float64 {
	if s.MaxPackets == 0 {
		return 0
	}
	return float64(s.CurrentPackets) / float64(s.MaxPackets) * 100
}

// ByteUsage returns occupancy as a percentage of the byte bound.
func (s QueueStats) ByteUsage() float64 {
	if s.MaxBytes == 0 {
		return 0
	}
	return float64(s.CurrentBytes) / float64(s.MaxBytes) * 100
}

// QueueConfig bounds a Queue. Zero fields select the defaults.
type QueueConfig struct {
	MaxPackets int
	MaxBytes   int
}

// Queue is a FIFO of packets bounded by count and aggregate size. When an
// enqueue would exceed either bound, the single oldest packet is evicted
// first; enqueue never refuses new data. Queue is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	packets    []Packet
	head       int
	bytes      int
	maxPackets int
	maxBytes   int
	seq        uint64
	stats      QueueStats
	now        func() time.Time
}

// NewQueue creates a Queue with the given bounds.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxPackets <= 0 {
		cfg.MaxPackets = DefaultMaxPackets
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Queue{
		maxPackets: cfg.MaxPackets,
		maxBytes:   cfg.MaxBytes,
		now:        time.Now,
	}
}

// Enqueue appends p, first evicting the oldest packet if the queue is at
// its count bound or p would push it past its byte bound. At most one
// packet is evicted per call. It always returns true.
func (q *Queue) Enqueue(p Payload) bool {
	size := p.Size()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() > 0 && (q.lenLocked() >= q.maxPackets || q.bytes+size > q.maxBytes) {
		old := q.popLocked()
		q.stats.TotalOverflows++
		q.stats.TotalBytesDropped += int64(old.Size)
	}

	q.seq++
	q.packets = append(q.packets, Packet{
		Payload:    p,
		EnqueuedAt: q.now(),
		Size:       size,
		Seq:        q.seq,
	})
	q.bytes += size
	q.stats.TotalEnqueued++
	q.stats.TotalBytesEnqueued += int64(size)
	return true
}

// Dequeue removes and returns the oldest packet.
func (q *Queue) Dequeue() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return Packet{}, false
	}
	p := q.popLocked()
	q.stats.TotalDequeued++
	q.stats.TotalBytesDequeued += int64(p.Size)
	return p, true
}

// Peek returns the oldest packet without removing it.
func (q *Queue) Peek() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return Packet{}, false
	}
	return q.packets[q.head], true
}

// Clear drops every queued packet. Counters are kept.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.packets = nil
	q.head = 0
	q.bytes = 0
	q.mu.Unlock()
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// IsEmpty reports whether no packets are queued.
func (q *Queue) IsEmpty() bool { return q.Len() == 0 }

// IsFull reports whether either bound has been reached.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked() >= q.maxPackets || q.bytes >= q.maxBytes
}

// Stats returns a snapshot of counters and occupancy.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.CurrentPackets = q.lenLocked()
	s.CurrentBytes = q.bytes
	s.MaxPackets = q.maxPackets
	s.MaxBytes = q.maxBytes
	return s
}

func (q *Queue) lenLocked() int { return len(q.packets) - q.head }

func (q *Queue) popLocked() Packet {
	p := q.packets[q.head]
	q.packets[q.head] = Packet{}
	q.head++
	q.bytes -= p.Size
	// Compact once the dead prefix dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.packets) {
		n := copy(q.packets, q.packets[q.head:])
		clear(q.packets[n:])
		q.packets = q.packets[:n]
		q.head = 0
	}
	return p
}
