package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/demux"
	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/wire"
)

// Caption is one caption update from the stream.
type Caption struct {
	StreamID string
	PTS      int64
	Channel  int
	Text     string
	Frame    *ccx.CaptionFrame
}

// decode is the dispatcher sink. It runs on the single drain goroutine.
func (s *Session) decode(ctx context.Context, pkt playout.Packet, data []byte) error {
	if s.framer != nil {
		pts := s.relativeMs(pkt.EnqueuedAt)
		aus := s.framer.Write(data)
		fs := s.framer.Stats()
		s.framerStats.Store(&fs)

		var errs []error
		for _, au := range aus {
			if err := s.decodeVideo(ctx, au, pts); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return s.decodeFrame(ctx, data)
}

// decodeFrame handles one wire frame or fragment.
func (s *Session) decodeFrame(ctx context.Context, data []byte) error {
	status, frame, err := s.reasm.Push(data)
	switch status {
	case wire.StatusPending:
		return nil
	case wire.StatusSkip:
		s.log.Debug("skipping frame", "error", err)
		return nil
	case wire.StatusError:
		return fmt.Errorf("parse frame: %w", err)
	}

	pts := float64(frame.Timestamp)
	switch frame.MsgType {
	case wire.MsgVideo:
		au := s.split(frame.Payload)
		au.Keyframe = frame.Keyframe()
		for _, nal := range au.Units {
			if t, ok := s.family.Type(nal); ok {
				if kind, ok := s.family.ParamKindOf(t); ok && kind == demux.ParamSPS {
					s.noteSPS(nal)
				}
			}
		}
		return s.decodeVideo(ctx, au, pts)
	case wire.MsgAudio:
		return s.decodeAudio(ctx, frame.Payload, pts)
	default:
		s.log.Debug("ignoring frame", "type", frame.MsgType, "bytes", len(frame.Payload))
		return nil
	}
}

// split wraps an access unit received whole.
func (s *Session) split(payload []byte) *media.AccessUnit {
	units := demux.Scan(payload)
	au := &media.AccessUnit{Codec: s.family.Codec, Units: make([][]byte, 0, len(units))}
	for _, u := range units {
		au.Units = append(au.Units, u.Data)
	}
	return au
}

func (s *Session) decodeVideo(ctx context.Context, au *media.AccessUnit, pts float64) error {
	if s.captions != nil {
		for _, cf := range s.captions.Extract(au, int64(pts)) {
			s.captionCount.Add(1)
			if fn := s.callbacks().caption; fn != nil {
				fn(Caption{StreamID: s.id, PTS: cf.PTS, Channel: cf.Channel, Text: cf.Text, Frame: cf})
			}
		}
	}

	frame, err := s.engine.Decode(ctx, au.Bytes(), pts)
	if err != nil {
		if errors.Is(err, codec.ErrNeedMoreData) {
			return nil
		}
		return fmt.Errorf("decode video: %w", err)
	}
	if frame == nil || s.closed.Load() {
		return nil
	}
	s.sync.Process(frame)
	return nil
}

func (s *Session) decodeAudio(ctx context.Context, payload []byte, pts float64) error {
	if s.audio == nil {
		return nil
	}
	frame, err := s.engine.DecodeAudio(ctx, payload, pts)
	if err != nil {
		if errors.Is(err, codec.ErrNeedMoreData) {
			return nil
		}
		return fmt.Errorf("decode audio: %w", err)
	}
	if frame == nil || s.closed.Load() {
		return nil
	}
	s.audio.PlayFrame(frame)
	return nil
}

// render is the AV sync output.
func (s *Session) render(frame *media.VideoFrame) {
	if s.closed.Load() {
		return
	}
	s.opts.Renderer.Render(frame)
}

// noteSPS records the stream format from a sequence parameter set.
func (s *Session) noteSPS(sps []byte) {
	info, err := s.family.ParseVideoInfo(sps)
	if err != nil {
		s.log.Debug("unparseable SPS", "error", err)
		return
	}
	s.mu.Lock()
	changed := info != s.video
	s.video = info
	s.mu.Unlock()
	if changed {
		s.log.Info("video format", "codec", info.Codec, "width", info.Width, "height", info.Height)
	}
}

// relativeMs converts a wall time into milliseconds since the session
// started streaming.
func (s *Session) relativeMs(t time.Time) float64 {
	s.mu.Lock()
	start := s.connectedAt
	s.mu.Unlock()
	if start.IsZero() || t.Before(start) {
		return 0
	}
	return float64(t.Sub(start)) / float64(time.Millisecond)
}
