package codec

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/playout/internal/media"
)

const statsWindow = 30

// DecoderStats summarizes decoder performance.
type DecoderStats struct {
	TotalFrames   int64   `json:"totalFrames"`
	DroppedFrames int64   `json:"droppedFrames"`
	AudioFrames   int64   `json:"audioFrames"`
	AvgDecodeMs   float64 `json:"avgDecodeTimeMs"`
	CurrentFPS    float64 `json:"currentFps"`
}

// Instrumented wraps an Engine, validating presentation times and
// measuring decode time and output rate over the last 30 pictures.
type Instrumented struct {
	Engine
	now func() time.Time

	mu          sync.Mutex
	stats       DecoderStats
	decodeTimes []float64
	intervals   []float64
	lastFrame   time.Time
}

var _ Engine = (*Instrumented)(nil)

// Instrument wraps e.
func Instrument(e Engine) *Instrumented {
	return &Instrumented{Engine: e, now: time.Now}
}

// Decode rejects negative PTS, then decodes and records timing for every
// returned picture. ErrNeedMoreData is passed through uncounted.
func (i *Instrumented) Decode(ctx context.Context, data []byte, pts float64) (*media.VideoFrame, error) {
	if pts < 0 {
		return nil, ErrNegativePTS
	}
	start := i.now()
	frame, err := i.Engine.Decode(ctx, data, pts)
	if err != nil {
		if !errors.Is(err, ErrNeedMoreData) {
			i.mu.Lock()
			i.stats.DroppedFrames++
			i.mu.Unlock()
		}
		return nil, err
	}
	if frame != nil {
		i.record(start)
	}
	return frame, nil
}

// DecodeAudio counts decoded audio blocks.
func (i *Instrumented) DecodeAudio(ctx context.Context, data []byte, pts float64) (*media.AudioFrame, error) {
	if pts < 0 {
		return nil, ErrNegativePTS
	}
	frame, err := i.Engine.DecodeAudio(ctx, data, pts)
	if err == nil && frame != nil {
		i.mu.Lock()
		i.stats.AudioFrames++
		i.mu.Unlock()
	}
	return frame, err
}

func (i *Instrumented) record(start time.Time) {
	end := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stats.TotalFrames++
	i.decodeTimes = pushWindow(i.decodeTimes, float64(end.Sub(start))/float64(time.Millisecond))
	i.stats.AvgDecodeMs = mean(i.decodeTimes)

	if !i.lastFrame.IsZero() {
		i.intervals = pushWindow(i.intervals, float64(end.Sub(i.lastFrame))/float64(time.Millisecond))
		if avg := mean(i.intervals); avg > 0 {
			i.stats.CurrentFPS = 1000 / avg
		}
	}
	i.lastFrame = end
}

// Stats returns a snapshot of decoder counters.
func (i *Instrumented) Stats() DecoderStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

func pushWindow(w []float64, v float64) []float64 {
	w = append(w, v)
	if len(w) > statsWindow {
		w = w[len(w)-statsWindow:]
	}
	return w
}

func mean(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}
