package session

import (
	"time"

	"github.com/zsiec/playout/internal/avsync"
	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/demux"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/wire"
)

// Stats is a point-in-time view of one session.
type Stats struct {
	ID               string  `json:"id"`
	URL              string  `json:"url"`
	State            State   `json:"state"`
	Framing          Framing `json:"framing"`
	BytesReceived    int64   `json:"bytesReceived"`
	MessagesReceived int64   `json:"messagesReceived"`
	ConnectedAt      int64   `json:"connectedAt,omitempty"`
	UptimeMs         int64   `json:"uptimeMs"`
	// DataRate is the inbound rate in KiB/s, recomputed at most once per
	// second.
	DataRate     float64 `json:"dataRate"`
	DecodeErrors int64   `json:"decodeErrors"`
	Captions     int64   `json:"captions"`

	Video      demux.VideoInfo       `json:"video"`
	Decoder    codec.DecoderStats    `json:"decoder"`
	Queue      playout.QueueStats    `json:"queue"`
	Dispatch   playout.DispatchStats `json:"dispatch"`
	Sync       avsync.Stats          `json:"sync"`
	Framer     *demux.FramerStats    `json:"framer,omitempty"`
	Reassembly *wire.ReassemblyStats `json:"reassembly,omitempty"`
}

// rateMeter derives the inbound data rate from the byte counter.
type rateMeter struct {
	last      time.Time
	lastBytes int64
	kibps     float64
}

func (m *rateMeter) update(now time.Time, total int64) {
	elapsed := now.Sub(m.last)
	if elapsed < time.Second {
		return
	}
	m.kibps = float64(total-m.lastBytes) / elapsed.Seconds() / 1024
	m.last = now
	m.lastBytes = total
}

func (s *Session) updateRate() {
	s.mu.Lock()
	s.rate.update(time.Now(), s.bytesReceived.Load())
	s.mu.Unlock()
}

// notifyStats delivers stats to the callback, at most once per
// StatsInterval.
func (s *Session) notifyStats() {
	fn := s.callbacks().stats
	if fn == nil || !s.limiter.Allow() {
		return
	}
	fn(s.Stats())
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:               s.id,
		URL:              s.cfg.URL,
		State:            s.state,
		Framing:          s.cfg.Framing,
		BytesReceived:    s.bytesReceived.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		DataRate:         s.rate.kibps,
		DecodeErrors:     s.decodeErrors.Load(),
		Captions:         s.captionCount.Load(),
		Video:            s.video,
		Queue:            s.queue.Stats(),
	}
	if !s.connectedAt.IsZero() {
		st.ConnectedAt = s.connectedAt.UnixMilli()
		st.UptimeMs = time.Since(s.connectedAt).Milliseconds()
	}
	engine, disp, ctrl, reasm := s.engine, s.disp, s.sync, s.reasm
	s.mu.Unlock()

	if engine != nil {
		st.Decoder = engine.Stats()
	}
	if disp != nil {
		st.Dispatch = disp.Stats()
	}
	if ctrl != nil {
		st.Sync = ctrl.Stats()
	}

	if reasm != nil {
		rs := reasm.Stats()
		st.Reassembly = &rs
	}
	st.Framer = s.framerStats.Load()
	return st
}

// Offer returns the negotiated media offer.
func (s *Session) Offer() MediaOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offer
}
