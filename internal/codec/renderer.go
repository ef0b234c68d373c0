package codec

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/playout/internal/media"
)

// LogRenderer is a Renderer for headless playback: it counts pictures and
// logs every Nth one at debug level.
type LogRenderer struct {
	log   *slog.Logger
	every int64
	count atomic.Int64
	last  atomic.Value // float64 PTS
}

var _ Renderer = (*LogRenderer)(nil)

// NewLogRenderer logs one picture in every. every <= 0 logs every picture.
func NewLogRenderer(log *slog.Logger, every int) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	if every <= 0 {
		every = 1
	}
	return &LogRenderer{log: log.With("component", "renderer"), every: int64(every)}
}

func (r *LogRenderer) Render(frame *media.VideoFrame) {
	n := r.count.Add(1)
	r.last.Store(frame.PTS)
	if n%r.every == 0 {
		r.log.Debug("render", "n", n, "pts", frame.PTS, "width", frame.Width, "height", frame.Height)
	}
}

// Rendered returns the number of pictures presented.
func (r *LogRenderer) Rendered() int64 { return r.count.Load() }

// LastPTS returns the PTS of the last picture presented, or -1.
func (r *LogRenderer) LastPTS() float64 {
	if v, ok := r.last.Load().(float64); ok {
		return v
	}
	return -1
}
