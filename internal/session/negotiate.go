package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zsiec/playout/internal/codec"
	"github.com/zsiec/playout/internal/media"
)

// Control message types.
const (
	MsgMediaOffer  = "media-offer"
	MsgMediaAnswer = "media-answer"
)

// Defaults applied to audio stream descriptions that omit them.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// ErrNegotiation matches every *NegotiationError.
var ErrNegotiation = errors.New("session: negotiation failed")

// NegotiationError reports a rejected or failed media negotiation.
type NegotiationError struct {
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	return "negotiation rejected: " + e.Reason
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// Is reports ErrNegotiation as a match.
func (e *NegotiationError) Is(target error) bool { return target == ErrNegotiation }

// Envelope is the JSON control message wrapper.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamDesc describes one elementary stream in a media offer.
type StreamDesc struct {
	Type       string  `json:"type"`
	Codec      string  `json:"codec"`
	Framerate  float64 `json:"framerate,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
}

// MediaOffer is sent by the source after the transport opens.
type MediaOffer struct {
	Version int          `json:"version"`
	Streams []StreamDesc `json:"streams"`
}

// MediaAnswer accepts or rejects an offer.
type MediaAnswer struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// EncodeOffer marshals an offer envelope.
func EncodeOffer(o MediaOffer) ([]byte, error) { return encodeEnvelope(MsgMediaOffer, o) }

// EncodeAnswer marshals an answer envelope.
func EncodeAnswer(a MediaAnswer) ([]byte, error) { return encodeEnvelope(MsgMediaAnswer, a) }

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// parseOffer returns the offer carried by a text message, or ok=false for
// anything that is not a well-formed media-offer.
func parseOffer(data []byte) (MediaOffer, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != MsgMediaOffer {
		return MediaOffer{}, false
	}
	var offer MediaOffer
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return MediaOffer{}, false
		}
	}
	return offer, true
}

// find returns the first stream of the given type.
func (o MediaOffer) find(typ string) (StreamDesc, bool) {
	for _, s := range o.Streams {
		if s.Type == typ {
			return s, true
		}
	}
	return StreamDesc{}, false
}

// videoCodec resolves the offered video codec. An offer without a video
// stream or codec name means H.264.
func (o MediaOffer) videoCodec() (media.Codec, error) {
	v, ok := o.find("video")
	if !ok || v.Codec == "" {
		return media.CodecH264, nil
	}
	c, ok := media.ParseCodec(v.Codec)
	if !ok {
		return 0, fmt.Errorf("video codec %q: %w", v.Codec, codec.ErrUnsupported)
	}
	return c, nil
}

var audioCodecs = map[string]codec.AudioCodec{
	"aac":       codec.AudioAAC,
	"pcm_alaw":  codec.AudioG711A,
	"pcm_mulaw": codec.AudioG711U,
	"g726":      codec.AudioG726,
}

// audioParams resolves the offered audio stream. ok is false when there is
// no audio stream or its codec is not one the player maps; such streams
// are played video-only.
func (o MediaOffer) audioParams() (codec.AudioParams, bool) {
	a, ok := o.find("audio")
	if !ok {
		return codec.AudioParams{}, false
	}
	c, ok := audioCodecs[a.Codec]
	if !ok {
		return codec.AudioParams{}, false
	}
	p := codec.AudioParams{Codec: c, SampleRate: a.SampleRate, Channels: a.Channels}
	if p.SampleRate <= 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.Channels <= 0 {
		p.Channels = DefaultChannels
	}
	return p, true
}
