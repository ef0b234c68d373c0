package codec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/playout/internal/demux"
	"github.com/zsiec/playout/internal/media"
)

// Inspector is an Engine that parses access units without decoding
// pixels. It reports one metadata-only picture per coded picture once a
// keyframe and SPS have been seen, and decodes G.711 audio to PCM.
type Inspector struct {
	log *slog.Logger

	mu        sync.Mutex
	family    *demux.Family
	info      demux.VideoInfo
	keyframed bool
	lastPTS   float64

	audio AudioParams
}

var _ Engine = (*Inspector)(nil)

// NewInspector creates an Inspector. If log is nil, slog.Default() is used.
func NewInspector(log *slog.Logger) *Inspector {
	if log == nil {
		log = slog.Default()
	}
	return &Inspector{log: log.With("component", "inspector"), lastPTS: -1}
}

func (in *Inspector) Init(_ context.Context, codec media.Codec) error {
	family := demux.FamilyFor(codec)
	if family == nil {
		return fmt.Errorf("init %v: %w", codec, ErrUnsupported)
	}
	in.mu.Lock()
	in.family = family
	in.keyframed = false
	in.info = demux.VideoInfo{}
	in.lastPTS = -1
	in.mu.Unlock()
	return nil
}

func (in *Inspector) Decode(_ context.Context, data []byte, pts float64) (*media.VideoFrame, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.family == nil {
		return nil, ErrNotInitialized
	}

	pictures := 0
	for _, u := range demux.Scan(data) {
		t := demux.Classify(in.family, u)
		if kind, ok := in.family.ParamKindOf(t); ok && kind == demux.ParamSPS {
			info, err := in.family.ParseVideoInfo(u.Data)
			if err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			if info != in.info {
				in.log.Info("video format", "codec", info.Codec, "width", info.Width, "height", info.Height)
			}
			in.info = info
			continue
		}
		if in.family.IsPicture(t) {
			pictures++
			if in.family.IsKeyframe(t) {
				in.keyframed = true
			}
		}
	}

	if pictures == 0 || !in.keyframed || in.info.Width == 0 {
		return nil, ErrNeedMoreData
	}

	frame := &media.VideoFrame{Width: in.info.Width, Height: in.info.Height, PTS: pts}
	if in.lastPTS >= 0 && pts > in.lastPTS {
		frame.Duration = pts - in.lastPTS
	}
	in.lastPTS = pts
	return frame, nil
}

// Flush returns nothing; the Inspector holds no reordering buffer.
func (in *Inspector) Flush(context.Context) ([]*media.VideoFrame, error) { return nil, nil }

// VideoInfo returns the format of the last parsed SPS.
func (in *Inspector) VideoInfo() demux.VideoInfo {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.info
}

func (in *Inspector) InitAudio(_ context.Context, params AudioParams) error {
	switch params.Codec {
	case AudioG711A, AudioG711U:
	default:
		return fmt.Errorf("init audio %q: %w", params.Codec, ErrUnsupported)
	}
	if params.Channels <= 0 || params.SampleRate <= 0 {
		return fmt.Errorf("init audio: invalid format %d Hz x %d", params.SampleRate, params.Channels)
	}
	in.mu.Lock()
	in.audio = params
	in.mu.Unlock()
	return nil
}

func (in *Inspector) DecodeAudio(_ context.Context, data []byte, pts float64) (*media.AudioFrame, error) {
	in.mu.Lock()
	params := in.audio
	in.mu.Unlock()

	var table *[256]float32
	switch params.Codec {
	case AudioG711A:
		table = &alawTable
	case AudioG711U:
		table = &ulawTable
	default:
		return nil, ErrNotInitialized
	}

	samples := len(data) / params.Channels
	if samples == 0 {
		return nil, ErrNeedMoreData
	}
	pcm := make([]float32, samples*params.Channels)
	for i := range pcm {
		pcm[i] = table[data[i]]
	}
	return &media.AudioFrame{
		SampleRate: params.SampleRate,
		Channels:   params.Channels,
		Samples:    samples,
		PTS:        pts,
		Data:       pcm,
	}, nil
}

func (in *Inspector) FlushAudio(context.Context) error { return nil }

func (in *Inspector) Destroy() error {
	in.mu.Lock()
	in.family = nil
	in.audio = AudioParams{}
	in.mu.Unlock()
	return nil
}
