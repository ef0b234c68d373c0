package wire

import (
	"errors"
	"sync"
)

// DefaultMaxEntries is the number of partially received frames a
// Reassembler tracks before evicting the oldest.
const DefaultMaxEntries = 16

// Status is the outcome of pushing one frame into a Reassembler.
type Status int

// Push outcomes.
const (
	StatusComplete Status = iota
	StatusPending
	StatusSkip
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPending:
		return "pending"
	case StatusSkip:
		return "skip"
	default:
		return "error"
	}
}

type partial struct {
	id       uint16
	head     Header
	haveHead bool
	parts    [][]byte
	received int
}

// ReassemblyStats counts Reassembler activity.
type ReassemblyStats struct {
	Complete  int64 `json:"complete"`
	Fragments int64 `json:"fragments"`
	Evicted   int64 `json:"evicted"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// Reassembler rebuilds fragmented frames. It is safe for concurrent use.
type Reassembler struct {
	mu         sync.Mutex
	maxEntries int
	entries    []*partial // oldest first
	stats      ReassemblyStats
}

// NewReassembler creates a Reassembler tracking up to maxEntries frames in
// flight. maxEntries <= 0 selects DefaultMaxEntries.
func NewReassembler(maxEntries int) *Reassembler {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Reassembler{maxEntries: maxEntries}
}

// Push parses one wire frame. It returns StatusComplete with the frame when
// a whole payload is available, StatusPending while fragments are missing,
// StatusSkip for frames of another protocol version, and StatusError with
// the cause otherwise. The returned payload never aliases data.
func (r *Reassembler) Push(data []byte) (Status, *Frame, error) {
	h, payload, err := Parse(data)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrVersion) {
			r.stats.Skipped++
			return StatusSkip, nil, nil
		}
		r.stats.Errors++
		return StatusError, nil, err
	}

	if !h.Fragmented() {
		r.stats.Complete++
		return StatusComplete, &Frame{Header: h, Payload: append([]byte(nil), payload...)}, nil
	}

	r.stats.Fragments++
	p := r.find(h.FrameID)
	if p == nil {
		p = r.alloc(h.FrameID, int(h.TotalFragments))
	}

	idx := int(h.FragmentIndex)
	if h.FragmentIndex == 0 {
		p.head = h
		p.haveHead = true
	}
	if idx < len(p.parts) && p.parts[idx] == nil {
		p.parts[idx] = append(make([]byte, 0, len(payload)), payload...)
		p.received++
	}

	if p.received < len(p.parts) {
		return StatusPending, nil, nil
	}

	r.remove(p)
	size := 0
	for _, part := range p.parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for _, part := range p.parts {
		out = append(out, part...)
	}

	head := p.head
	if !p.haveHead {
		head = h
	}
	head.Flags &^= FlagFragment
	r.stats.Complete++
	return StatusComplete, &Frame{Header: head, Payload: out}, nil
}

// Pending returns the number of frames awaiting fragments.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stats returns reassembly counters.
func (r *Reassembler) Stats() ReassemblyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Reset drops every partially received frame.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *Reassembler) find(id uint16) *partial {
	for _, p := range r.entries {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (r *Reassembler) alloc(id uint16, total int) *partial {
	if len(r.entries) >= r.maxEntries {
		r.entries = r.entries[1:]
		r.stats.Evicted++
	}
	p := &partial{id: id, parts: make([][]byte, total)}
	r.entries = append(r.entries, p)
	return p
}

func (r *Reassembler) remove(p *partial) {
	for i, e := range r.entries {
		if e == p {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}
