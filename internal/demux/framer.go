package demux

import (
	"log/slog"

	"github.com/zsiec/playout/internal/media"
)

// DefaultMaxPending bounds the bytes a StreamFramer holds for one
// incomplete unit.
const DefaultMaxPending = 8 << 20

// FramerStats counts framer activity.
type FramerStats struct {
	Units          int64 `json:"units"`
	AccessUnits    int64 `json:"accessUnits"`
	DiscardedBytes int64 `json:"discardedBytes"`
}

// StreamFramer turns an Annex B byte stream delivered in arbitrary chunks
// into access units. Unlike Scan, it never emits a unit until the start
// code of the next unit has arrived; the trailing unit is held until more
// data or Flush. A StreamFramer is not safe for concurrent use.
type StreamFramer struct {
	log        *slog.Logger
	asm        *Assembler
	pending    []byte
	maxPending int
	stats      FramerStats
}

// NewStreamFramer creates a framer for the given family. If log is nil,
// slog.Default() is used.
func NewStreamFramer(family *Family, log *slog.Logger) *StreamFramer {
	if log == nil {
		log = slog.Default()
	}
	return &StreamFramer{
		log:        log.With("component", "framer"),
		asm:        NewAssembler(family, log),
		maxPending: DefaultMaxPending,
	}
}

// Assembler returns the underlying access-unit assembler.
func (f *StreamFramer) Assembler() *Assembler { return f.asm }

// Stats returns framer counters.
func (f *StreamFramer) Stats() FramerStats { return f.stats }

// Write appends chunk and returns the access units completed by it.
func (f *StreamFramer) Write(chunk []byte) []*media.AccessUnit {
	f.pending = append(f.pending, chunk...)

	markers := findStartCodes(f.pending)
	if len(markers) == 0 {
		// Keep a possible partial start code.
		if keep := 3; len(f.pending) > keep {
			f.discard(len(f.pending) - keep)
		}
		return nil
	}
	if markers[0].offset > 0 {
		f.discard(markers[0].offset)
		markers = findStartCodes(f.pending)
	}

	last := markers[len(markers)-1].offset
	var out []*media.AccessUnit
	if last > 0 {
		for _, u := range f.asm.family.Scan(f.pending[:last]) {
			f.stats.Units++
			if au := f.asm.Push(u); au != nil {
				out = append(out, au)
			}
		}
		f.pending = append([]byte(nil), f.pending[last:]...)
	}

	if len(f.pending) > f.maxPending {
		f.log.Warn("dropping oversized incomplete unit", "bytes", len(f.pending))
		f.discard(len(f.pending))
	}

	f.stats.AccessUnits += int64(len(out))
	return out
}

// Flush emits the held trailing unit and the open access unit.
func (f *StreamFramer) Flush() []*media.AccessUnit {
	var out []*media.AccessUnit
	for _, u := range f.asm.family.Scan(f.pending) {
		f.stats.Units++
		if au := f.asm.Push(u); au != nil {
			out = append(out, au)
		}
	}
	f.pending = nil
	if au := f.asm.Flush(); au != nil {
		out = append(out, au)
	}
	f.stats.AccessUnits += int64(len(out))
	return out
}

func (f *StreamFramer) discard(n int) {
	f.stats.DiscardedBytes += int64(n)
	f.pending = append([]byte(nil), f.pending[n:]...)
}
