// Package media defines the unit types that flow through the playout path,
// from framed access units through decoded pictures and audio blocks.
package media

import "fmt"

// Codec identifies the video codec family of a stream. The family selects
// the NAL header layout and the unit-type table used by the framer.
type Codec int

// Supported video codec families.
const (
	CodecH264 Codec = iota + 1
	CodecH265
)

// String returns the short codec name used in negotiation ("h264", "h265").
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// ParseCodec maps a negotiation codec name to a Codec. Both "h265" and
// "hevc" name the H.265 family.
func ParseCodec(name string) (Codec, bool) {
	switch name {
	case "h264", "avc":
		return CodecH264, true
	case "h265", "hevc":
		return CodecH265, true
	}
	return 0, false
}

// AccessUnit is the set of NAL units making up one coded picture, plus any
// parameter sets prepended for decoder initialization. Units hold NAL data
// without start codes. An AccessUnit is not modified after it is emitted.
type AccessUnit struct {
	Codec           Codec
	Units           [][]byte
	Keyframe        bool
	ParamsPrepended bool
}

// Size returns the Annex B encoded size of the access unit.
func (au *AccessUnit) Size() int {
	n := 0
	for _, u := range au.Units {
		n += 4 + len(u)
	}
	return n
}

// Bytes returns the access unit as an Annex B byte stream with a 4-byte
// start code before each unit.
func (au *AccessUnit) Bytes() []byte {
	out := make([]byte, 0, au.Size())
	for _, u := range au.Units {
		out = append(out, 0, 0, 0, 1)
		out = append(out, u...)
	}
	return out
}

// VideoFrame is one decoded picture. PTS and Duration are in milliseconds.
// The plane slices may be nil when the engine only reports metadata.
type VideoFrame struct {
	Width    int
	Height   int
	PTS      float64
	Duration float64

	Y, U, V                   []byte
	YStride, UStride, VStride int
}

// AudioFrame is one decoded block of interleaved float32 PCM. PTS is in
// milliseconds.
type AudioFrame struct {
	SampleRate int
	Channels   int
	Samples    int
	PTS        float64
	Data       []float32
}

// DurationMs returns the playback duration of the block.
func (f *AudioFrame) DurationMs() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(f.Samples) * 1000 / float64(f.SampleRate)
}
