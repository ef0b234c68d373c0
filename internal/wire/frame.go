// Package wire encodes and parses the binary envelope that carries access
// units and audio blocks between the streaming server and the player.
//
// Every frame starts with a 20-byte big-endian header:
//
//	magic(2) version(1) msg_type(1) flags(1) timestamp(8)
//	ext_length(1) payload_length(4) reserved(2)
//
// followed by ext_length bytes of extension headers (fragment, common,
// then the type-specific video or audio header) and the payload. Payloads
// larger than FragmentThreshold are split into fragments that share a
// frame id; only the first fragment carries the common and type headers.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol constants.
const (
	Magic             uint16 = 0xEB01
	Version           uint8  = 1
	HeaderSize               = 20
	FragmentThreshold        = 16384
	MaxFragments             = 256

	fragmentExtSize = 6
	commonExtSize   = 10
	mediaExtSize    = 4
)

// MsgType identifies the payload carried by a frame.
type MsgType uint8

// Message types.
const (
	MsgVideo    MsgType = 0x01
	MsgAudio    MsgType = 0x02
	MsgImage    MsgType = 0x03
	MsgMetadata MsgType = 0x04
	MsgControl  MsgType = 0x05
)

// Frame flags.
const (
	FlagFragment   uint8 = 0x01
	FlagEncrypted  uint8 = 0x02
	FlagCompressed uint8 = 0x04
	FlagHasCommon  uint8 = 0x08
)

// Common extension flags.
const (
	CommonAbsTime uint8 = 0x01
)

// VideoCodec is the codec id carried in the video extension header.
type VideoCodec uint8

// Video codecs.
const (
	VideoH264  VideoCodec = 1
	VideoH265  VideoCodec = 2
	VideoMJPEG VideoCodec = 3
)

// FrameType is the picture kind carried in the video extension header.
type FrameType uint8

// Video frame types.
const (
	FrameIDR    FrameType = 1
	FrameI      FrameType = 2
	FrameP      FrameType = 3
	FrameB      FrameType = 4
	FrameSPSPPS FrameType = 5
	FrameVPS    FrameType = 6
)

// AudioCodec is the codec id carried in the audio extension header.
type AudioCodec uint8

// Audio codecs.
const (
	AudioG711A AudioCodec = 1
	AudioG711U AudioCodec = 2
	AudioG726  AudioCodec = 3
	AudioAAC   AudioCodec = 4
)

var sampleRates = [...]int{0, 8000, 16000, 44100, 48000}

// SampleRateCode maps a sample rate in Hz to its wire code. Unknown rates
// map to the 8 kHz code.
func SampleRateCode(hz int) uint8 {
	for code, r := range sampleRates {
		if r == hz && code > 0 {
			return uint8(code)
		}
	}
	return 1
}

// SampleRateHz maps a wire code to a sample rate in Hz, or 0 if unknown.
func SampleRateHz(code uint8) int {
	if int(code) >= len(sampleRates) {
		return 0
	}
	return sampleRates[code]
}

// Sentinel errors returned by Parse.
var (
	ErrShortFrame     = errors.New("wire: frame shorter than header")
	ErrBadMagic       = errors.New("wire: bad magic")
	ErrVersion        = errors.New("wire: unsupported version")
	ErrTruncated      = errors.New("wire: frame shorter than declared length")
	ErrFragmentHeader = errors.New("wire: invalid fragment header")
)

// Header is the decoded fixed header plus extension headers of one frame.
type Header struct {
	MsgType   MsgType
	Flags     uint8
	Timestamp int64
	AbsTime   int64

	FrameID        uint16
	FragmentIndex  uint16
	TotalFragments uint16

	VideoCodec VideoCodec
	FrameType  FrameType
	Resolution uint16

	AudioCodec AudioCodec
	SampleRate int
	Channels   uint8
}

// Fragmented reports whether the frame is one fragment of a larger payload.
func (h *Header) Fragmented() bool { return h.Flags&FlagFragment != 0 }

// Frame is a complete (reassembled) message.
type Frame struct {
	Header
	Payload []byte
}

// Keyframe reports whether the frame is a video IDR or I picture.
func (f *Frame) Keyframe() bool {
	return f.MsgType == MsgVideo && (f.FrameType == FrameIDR || f.FrameType == FrameI)
}

// ParseError describes a frame that could not be decoded.
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse frame at byte %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes one frame. The returned payload aliases data.
func Parse(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, nil, &ParseError{Offset: 0, Err: ErrShortFrame}
	}
	if binary.BigEndian.Uint16(data[0:2]) != Magic {
		return h, nil, &ParseError{Offset: 0, Err: ErrBadMagic}
	}
	if data[2] != Version {
		return h, nil, &ParseError{Offset: 2, Err: ErrVersion}
	}

	h.MsgType = MsgType(data[3])
	h.Flags = data[4]
	h.Timestamp = int64(binary.BigEndian.Uint64(data[5:13]))
	extLen := int(data[13])
	payloadLen := int(binary.BigEndian.Uint32(data[14:18]))

	if len(data) < HeaderSize+extLen+payloadLen {
		return h, nil, &ParseError{Offset: 14, Err: ErrTruncated}
	}

	parseExt(&h, data[HeaderSize:HeaderSize+extLen])
	if h.Fragmented() && (h.TotalFragments == 0 || h.TotalFragments > MaxFragments) {
		return h, nil, &ParseError{Offset: HeaderSize, Err: ErrFragmentHeader}
	}

	start := HeaderSize + extLen
	return h, data[start : start+payloadLen], nil
}

func parseExt(h *Header, ext []byte) {
	off := 0
	if h.Flags&FlagFragment != 0 && off+fragmentExtSize <= len(ext) {
		h.FrameID = binary.BigEndian.Uint16(ext[off:])
		h.FragmentIndex = binary.BigEndian.Uint16(ext[off+2:])
		h.TotalFragments = binary.BigEndian.Uint16(ext[off+4:])
		off += fragmentExtSize
	}

	if h.Flags&FlagHasCommon != 0 && off+2 <= len(ext) {
		commonLen := int(ext[off])
		commonFlags := ext[off+1]
		if commonFlags&CommonAbsTime != 0 && 2+8 <= commonLen && off+2+8 <= len(ext) {
			h.AbsTime = int64(binary.BigEndian.Uint64(ext[off+2:]))
		}
		off += commonLen
	}

	if off+mediaExtSize > len(ext) {
		return
	}
	switch h.MsgType {
	case MsgVideo:
		h.VideoCodec = VideoCodec(ext[off])
		h.FrameType = FrameType(ext[off+1])
		h.Resolution = binary.BigEndian.Uint16(ext[off+2:])
	case MsgAudio:
		h.AudioCodec = AudioCodec(ext[off])
		h.SampleRate = SampleRateHz(ext[off+1])
		h.Channels = ext[off+2]
	}
}
