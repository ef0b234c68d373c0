// Package audio implements a software audio output that schedules decoded
// PCM against the wall clock and exposes the playback position as the
// master clock for AV sync.
package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/media"
)

// Stats reports playback counters.
type Stats struct {
	Frames     int64   `json:"frames"`
	Samples    int64   `json:"samples"`
	Underruns  int64   `json:"underruns"`
	BufferedMs float64 `json:"bufferedMs"`
}

// Config configures a Player.
type Config struct {
	// Output receives interleaved signed 16-bit little-endian PCM. Nil
	// discards samples while still advancing the clock.
	Output io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// Player schedules audio blocks back to back. The clock is anchored on
// the first block: it reads the elapsed wall time since that block was
// scheduled plus the block's PTS.
type Player struct {
	log *slog.Logger
	out io.Writer
	now func() time.Time

	mu       sync.Mutex
	started  bool
	closed   bool
	baseTime time.Time
	basePTS  float64
	nextPlay time.Time
	stats    Stats
}

var _ codec.AudioOutput = (*Player)(nil)

// NewPlayer creates a Player.
func NewPlayer(cfg Config) *Player {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Player{
		log:     log.With("component", "audio"),
		out:     cfg.Output,
		now:     now,
		basePTS: -1,
	}
}

// PlayFrame schedules frame after the previously scheduled block. A block
// that would start in the past is moved to now and counted as an underrun.
func (p *Player) PlayFrame(frame *media.AudioFrame) {
	if frame == nil || frame.SampleRate <= 0 || frame.Channels <= 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := p.now()
	if !p.started {
		p.started = true
		p.basePTS = frame.PTS
		p.baseTime = now
		p.nextPlay = now
	}
	if p.nextPlay.Before(now) {
		p.stats.Underruns++
		p.nextPlay = now
	}
	p.nextPlay = p.nextPlay.Add(time.Duration(frame.DurationMs() * float64(time.Millisecond)))
	p.stats.Frames++
	p.stats.Samples += int64(frame.Samples)

	var pcm []byte
	if p.out != nil {
		pcm = p.encode(frame)
	}
	out := p.out
	p.mu.Unlock()

	if out != nil {
		if _, err := out.Write(pcm); err != nil {
			p.log.Warn("audio write failed", "error", err)
		}
	}
}

func (p *Player) encode(frame *media.AudioFrame) []byte {
	n := frame.Samples * frame.Channels
	if n > len(frame.Data) {
		n = len(frame.Data)
	}
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := frame.Data[i]
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		s := int16(math.Round(float64(v) * math.MaxInt16))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

// ClockMs returns the playback position in stream milliseconds, or -1
// before the first block.
func (p *Player) ClockMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.closed {
		return -1
	}
	return float64(p.now().Sub(p.baseTime))/float64(time.Millisecond) + p.basePTS
}

// Active reports whether the clock is running.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed && p.basePTS >= 0
}

// Stats returns playback counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	if p.started {
		if ahead := p.nextPlay.Sub(p.now()); ahead > 0 {
			s.BufferedMs = float64(ahead) / float64(time.Millisecond)
		}
	}
	return s
}

// Close stops the clock. It is safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.started = false
	p.basePTS = -1
	return nil
}
