package playout

import (
	"context"
	"errors"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{})
	for i := 0; i < 5; i++ {
		if !q.Enqueue(Bytes([]byte{byte(i)})) {
			t.Fatal("Enqueue returned false")
		}
	}
	if p, ok := q.Peek(); !ok || p.Seq != 1 {
		t.Fatalf("Peek: got seq %d ok=%v", p.Seq, ok)
	}
	for i := 0; i < 5; i++ {
		p, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: empty", i)
		}
		data, _ := p.Payload.Materialize(context.Background())
		if data[0] != byte(i) {
			t.Errorf("Dequeue %d: got %d", i, data[0])
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should report false")
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty")
	}
}

func TestQueueCountBoundEvictsOldest(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{MaxPackets: 3})
	for i := 0; i < 5; i++ {
		q.Enqueue(Bytes([]byte{byte(i)}))
	}
	if q.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", q.Len())
	}
	p, _ := q.Peek()
	if p.Seq != 3 {
		t.Errorf("oldest remaining seq: got %d, want 3", p.Seq)
	}
	s := q.Stats()
	if s.TotalOverflows != 2 || s.TotalBytesDropped != 2 || s.TotalEnqueued != 5 {
		t.Errorf("stats: %+v", s)
	}
}

func TestQueueByteBoundSingleStepEviction(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{MaxPackets: 100, MaxBytes: 100})
	for i := 0; i < 4; i++ {
		q.Enqueue(Bytes(make([]byte, 20)))
	}
	// 80 bytes queued; a 50-byte packet overflows by 30, but only one
	// 20-byte packet is evicted.
	q.Enqueue(Bytes(make([]byte, 50)))

	s := q.Stats()
	if s.TotalOverflows != 1 {
		t.Errorf("overflows: got %d, want 1", s.TotalOverflows)
	}
	if s.CurrentPackets != 4 || s.CurrentBytes != 110 {
		t.Errorf("occupancy: %d packets %d bytes, want 4 and 110", s.CurrentPackets, s.CurrentBytes)
	}
	if !q.IsFull() {
		t.Error("queue over its byte bound should report full")
	}
}

func TestQueueOversizedPacketIntoEmptyQueue(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{MaxBytes: 10})
	if !q.Enqueue(Bytes(make([]byte, 64))) {
		t.Fatal("Enqueue returned false")
	}
	if q.Len() != 1 || q.Stats().TotalOverflows != 0 {
		t.Errorf("len %d overflows %d", q.Len(), q.Stats().TotalOverflows)
	}
}

func TestQueueStatsAccounting(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{MaxPackets: 4, MaxBytes: 1000})
	sizes := []int{10, 20, 30, 40, 50, 60}
	var enqBytes int
	for _, n := range sizes {
		q.Enqueue(Bytes(make([]byte, n)))
		enqBytes += n
	}
	q.Dequeue()

	s := q.Stats()
	if s.TotalBytesEnqueued != int64(enqBytes) {
		t.Errorf("bytes enqueued: got %d, want %d", s.TotalBytesEnqueued, enqBytes)
	}
	if got := s.TotalBytesEnqueued - s.TotalBytesDequeued - s.TotalBytesDropped; got != int64(s.CurrentBytes) {
		t.Errorf("byte conservation: %d != current %d", got, s.CurrentBytes)
	}
	if got := s.TotalEnqueued - s.TotalDequeued - s.TotalOverflows; got != int64(s.CurrentPackets) {
		t.Errorf("count conservation: %d != current %d", got, s.CurrentPackets)
	}
	if s.PacketUsage() != 75 {
		t.Errorf("packet usage: got %v, want 75", s.PacketUsage())
	}
}

func TestQueueClearKeepsCounters(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{})
	q.Enqueue(Bytes([]byte{1, 2}))
	q.Enqueue(Bytes([]byte{3}))
	q.Clear()
	s := q.Stats()
	if s.CurrentPackets != 0 || s.CurrentBytes != 0 {
		t.Errorf("occupancy after Clear: %+v", s)
	}
	if s.TotalEnqueued != 2 || s.TotalBytesEnqueued != 3 {
		t.Errorf("counters reset by Clear: %+v", s)
	}
	if q.IsFull() || !q.IsEmpty() {
		t.Error("cleared queue should be empty and not full")
	}
}

func TestQueueLongRunCompaction(t *testing.T) {
	t.Parallel()
	q := NewQueue(QueueConfig{MaxPackets: 8})
	for i := 0; i < 1000; i++ {
		q.Enqueue(Bytes([]byte{byte(i)}))
		if i%3 == 0 {
			q.Dequeue()
		}
	}
	if q.Len() > 8 {
		t.Fatalf("Len %d exceeds bound", q.Len())
	}
	prev := uint64(0)
	for !q.IsEmpty() {
		p, _ := q.Dequeue()
		if p.Seq <= prev {
			t.Fatalf("sequence out of order: %d after %d", p.Seq, prev)
		}
		prev = p.Seq
	}
}

func TestDeferredPayload(t *testing.T) {
	t.Parallel()
	called := false
	p := Deferred(3, func(context.Context) ([]byte, error) {
		called = true
		return []byte{1, 2, 3}, nil
	})
	if !p.IsDeferred() || p.Size() != 3 {
		t.Fatalf("deferred payload: deferred=%v size=%d", p.IsDeferred(), p.Size())
	}
	data, err := p.Materialize(context.Background())
	if err != nil || len(data) != 3 || !called {
		t.Errorf("Materialize: %v %v", data, err)
	}

	wantErr := errors.New("blob gone")
	bad := Deferred(1, func(context.Context) ([]byte, error) { return nil, wantErr })
	if _, err := bad.Materialize(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}
