// Package codec defines the contracts between the playout path and the
// codec engine, renderer and audio output it drives, plus reference
// implementations usable without a native decoder.
package codec

import (
	"context"
	"errors"

	"github.com/zsiec/playout/internal/media"
)

// Sentinel errors returned by engines.
var (
	// ErrNeedMoreData reports that the engine accepted the input but has
	// no picture or audio block to return yet. It is not a failure.
	ErrNeedMoreData   = errors.New("codec: need more data")
	ErrNotInitialized = errors.New("codec: not initialized")
	ErrNegativePTS    = errors.New("codec: negative presentation time")
	ErrUnsupported    = errors.New("codec: unsupported codec")
)

// AudioCodec names an audio codec as negotiated ("aac", "g711a", "g711u",
// "g726").
type AudioCodec string

// Negotiated audio codecs.
const (
	AudioAAC   AudioCodec = "aac"
	AudioG711A AudioCodec = "g711a"
	AudioG711U AudioCodec = "g711u"
	AudioG726  AudioCodec = "g726"
)

// AudioParams configures the audio path of an engine.
type AudioParams struct {
	Codec      AudioCodec
	SampleRate int
	Channels   int
}

// Engine decodes one stream. Calls are made from a single goroutine.
// PTS values are in milliseconds.
type Engine interface {
	Init(ctx context.Context, codec media.Codec) error
	Decode(ctx context.Context, data []byte, pts float64) (*media.VideoFrame, error)
	Flush(ctx context.Context) ([]*media.VideoFrame, error)

	InitAudio(ctx context.Context, params AudioParams) error
	DecodeAudio(ctx context.Context, data []byte, pts float64) (*media.AudioFrame, error)
	FlushAudio(ctx context.Context) error

	Destroy() error
}

// Renderer presents decoded pictures.
type Renderer interface {
	Render(frame *media.VideoFrame)
}

// AudioOutput plays decoded audio and exposes the playback clock used for
// AV sync. ClockMs returns a negative value before playback starts.
type AudioOutput interface {
	PlayFrame(frame *media.AudioFrame)
	ClockMs() float64
	Active() bool
	Close() error
}
