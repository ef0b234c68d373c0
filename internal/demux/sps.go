package demux

import (
	"errors"
	"fmt"
	"math/bits"
)

var errSPSTooShort = errors.New("SPS data too short")

// VideoInfo is the stream description recovered from a sequence parameter
// set.
type VideoInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Codec  string `json:"codec"` // RFC 6381 codec string
}

// bitReader reads big-endian bit fields from RBSP data. The first read past
// the end latches err; later reads return zero.
type bitReader struct {
	data []byte
	pos  int
	err  error
}

func (r *bitReader) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if r.pos>>3 >= len(r.data) {
			r.err = errSPSTooShort
			return 0
		}
		b := (r.data[r.pos>>3] >> (7 - uint(r.pos&7))) & 1
		v = v<<1 | uint(b)
		r.pos++
	}
	return v
}

func (r *bitReader) flag() bool { return r.u(1) == 1 }

func (r *bitReader) ue() uint {
	zeros := 0
	for r.err == nil && r.u(1) == 0 {
		zeros++
		if zeros > 31 {
			r.err = errSPSTooShort
			return 0
		}
	}
	if r.err != nil || zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + r.u(zeros)
}

func (r *bitReader) se() int {
	v := r.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (r *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// unescapeRBSP strips emulation-prevention bytes (00 00 03).
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// highProfiles carry chroma format and scaling lists in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS reads resolution and profile/level from an H.264 SPS unit
// (NAL header included, start code excluded).
func ParseSPS(nal []byte) (VideoInfo, error) {
	if len(nal) < 4 {
		return VideoInfo{}, errSPSTooShort
	}
	r := &bitReader{data: unescapeRBSP(nal[1:])}

	profile := r.u(8)
	constraints := r.u(8)
	level := r.u(8)
	r.ue() // seq_parameter_set_id

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		chromaFormat = r.ue()
		if chromaFormat == 3 {
			separatePlanes = r.flag()
		}
		r.ue() // bit_depth_luma_minus8
		r.ue() // bit_depth_chroma_minus8
		r.u(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if r.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.skipScalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue()
	case 1:
		r.u(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue() // max_num_ref_frames
	r.u(1) // gaps_in_frame_num_value_allowed_flag
	widthMbs := r.ue() + 1
	heightMapUnits := r.ue() + 1
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.u(1) // mb_adaptive_frame_field_flag
	}
	r.u(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if r.flag() {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return VideoInfo{}, fmt.Errorf("parse SPS: %w", r.err)
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subW, subH = 1, 1
	case chromaFormat == 2:
		subW, subH = 2, 1
	}
	cropUnitY := subH * (2 - frameMbsOnly)

	return VideoInfo{
		Width:  int(widthMbs*16 - subW*(cropL+cropR)),
		Height: int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropT+cropB)),
		Codec:  fmt.Sprintf("avc1.%02X%02X%02X", profile, constraints, level),
	}, nil
}

// ParseHEVCSPS reads resolution and profile/tier/level from an H.265 SPS
// unit (2-byte NAL header included).
func ParseHEVCSPS(nal []byte) (VideoInfo, error) {
	if len(nal) < 4 {
		return VideoInfo{}, errSPSTooShort
	}
	r := &bitReader{data: unescapeRBSP(nal[2:])}

	r.u(4) // sps_video_parameter_set_id
	maxSubLayers := r.u(3)
	r.u(1) // sps_temporal_id_nesting_flag

	r.u(2) // general_profile_space
	tier := r.u(1)
	profile := r.u(5)
	compat := uint32(r.u(16))<<16 | uint32(r.u(16))
	var constraint [6]byte
	for i := range constraint {
		constraint[i] = byte(r.u(8))
	}
	level := r.u(8)

	if maxSubLayers > 0 {
		var profilePresent, levelPresent [8]bool
		for i := uint(0); i < maxSubLayers; i++ {
			profilePresent[i] = r.flag()
			levelPresent[i] = r.flag()
		}
		for i := maxSubLayers; i < 8; i++ {
			r.u(2)
		}
		for i := uint(0); i < maxSubLayers; i++ {
			if profilePresent[i] {
				r.u(32)
				r.u(32)
				r.u(24)
			}
			if levelPresent[i] {
				r.u(8)
			}
		}
	}

	r.ue() // sps_seq_parameter_set_id
	chromaFormat := r.ue()
	if chromaFormat == 3 {
		r.u(1)
	}
	width := int(r.ue())
	height := int(r.ue())
	if r.err != nil {
		return VideoInfo{}, fmt.Errorf("parse HEVC SPS: %w", r.err)
	}

	if r.flag() {
		left, right, top, bottom := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err == nil {
			subW, subH := uint(1), uint(1)
			switch chromaFormat {
			case 1:
				subW, subH = 2, 2
			case 2:
				subW, subH = 2, 1
			}
			width -= int((left + right) * subW)
			height -= int((top + bottom) * subH)
		}
	}

	tierChar := "L"
	if tier == 1 {
		tierChar = "H"
	}
	codec := fmt.Sprintf("hev1.%d.%X.%s%d", profile, bits.Reverse32(compat), tierChar, level)
	last := -1
	for i := len(constraint) - 1; i >= 0; i-- {
		if constraint[i] != 0 {
			last = i
			break
		}
	}
	for i := 0; i <= last; i++ {
		codec += fmt.Sprintf(".%X", constraint[i])
	}

	return VideoInfo{Width: width, Height: height, Codec: codec}, nil
}

// ParseVideoInfo parses the SPS of the given family.
func (f *Family) ParseVideoInfo(sps []byte) (VideoInfo, error) {
	if f.HeaderLen == 2 {
		return ParseHEVCSPS(sps)
	}
	return ParseSPS(sps)
}
