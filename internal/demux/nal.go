package demux

import "github.com/zsiec/playout/internal/media"

// H.264 NAL unit type codes (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// H.265 NAL unit type codes (ITU-T H.265 Table 7-1).
const (
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
)

// ParamKind orders the parameter-set kinds of a family. Lower kinds are
// defined first and are prepended first.
type ParamKind int

// Parameter-set kinds, in prepend order.
const (
	ParamVPS ParamKind = iota
	ParamSPS
	ParamPPS
	numParamKinds
)

// Family describes how one codec family frames and classifies NAL units.
type Family struct {
	Codec media.Codec

	// HeaderLen is the number of NAL header bytes needed to read the type.
	HeaderLen int

	// Params maps a parameter-set unit type to its kind.
	Params map[byte]ParamKind

	Delimiter  byte
	PictureMin byte
	PictureMax byte
	Keyframes  []byte
	SEI        byte

	typeOf func(b0 byte) byte
}

// Families holds the framing table for each supported codec.
var Families = map[media.Codec]*Family{
	media.CodecH264: {
		Codec:     media.CodecH264,
		HeaderLen: 1,
		Params: map[byte]ParamKind{
			NALTypeSPS: ParamSPS,
			NALTypePPS: ParamPPS,
		},
		Delimiter:  NALTypeAUD,
		PictureMin: NALTypeSlice,
		PictureMax: NALTypeIDR,
		Keyframes:  []byte{NALTypeIDR},
		SEI:        NALTypeSEI,
		typeOf:     func(b0 byte) byte { return b0 & 0x1F },
	},
	media.CodecH265: {
		Codec:     media.CodecH265,
		HeaderLen: 2,
		Params: map[byte]ParamKind{
			HEVCNALVPS: ParamVPS,
			HEVCNALSPS: ParamSPS,
			HEVCNALPPS: ParamPPS,
		},
		Delimiter:  HEVCNALAUD,
		PictureMin: 0,
		PictureMax: 31,
		Keyframes:  []byte{HEVCNALIDRWRadl, HEVCNALIDRNlp, HEVCNALCraNut},
		SEI:        HEVCNALSEIPrefix,
		typeOf:     func(b0 byte) byte { return (b0 >> 1) & 0x3F },
	},
}

// FamilyFor returns the framing table for codec, or nil if unsupported.
func FamilyFor(codec media.Codec) *Family {
	return Families[codec]
}

// Type extracts the unit type code from NAL data (without start code).
// Units shorter than the family header report ok=false.
func (f *Family) Type(nal []byte) (byte, bool) {
	if len(nal) < f.HeaderLen {
		return 0, false
	}
	return f.typeOf(nal[0]), true
}

// IsPicture reports whether t is a coded-picture (VCL) type.
func (f *Family) IsPicture(t byte) bool {
	return t >= f.PictureMin && t <= f.PictureMax
}

// IsKeyframe reports whether t is a keyframe picture type.
func (f *Family) IsKeyframe(t byte) bool {
	for _, k := range f.Keyframes {
		if k == t {
			return true
		}
	}
	return false
}

// ParamKindOf returns the parameter-set kind of t, if t is one.
func (f *Family) ParamKindOf(t byte) (ParamKind, bool) {
	k, ok := f.Params[t]
	return k, ok
}

// TypeUnknown is the type code of a unit that was not classified or is too
// short to carry a header.
const TypeUnknown byte = 0xFF

// RawUnit is one NAL unit located by Scan. Data aliases the scanned buffer
// and excludes the start code.
type RawUnit struct {
	Offset    int  // offset of the start code within the buffer
	Length    int  // length of Data
	MarkerLen int  // 3 or 4
	Type      byte // set by Family.Scan; TypeUnknown from Scan
	Data      []byte
}

// Scan locates every NAL unit in an Annex B buffer. Both 3-byte (00 00 01)
// and 4-byte (00 00 00 01) start codes are recognized; a 4-byte code is
// reported once with MarkerLen 4. A buffer without a start code yields no
// units. The bytes after the last start code form the final unit even if
// the unit is incomplete; use StreamFramer when input arrives in pieces.
func Scan(buf []byte) []RawUnit {
	markers := findStartCodes(buf)
	if len(markers) == 0 {
		return nil
	}
	units := make([]RawUnit, 0, len(markers))
	for i, m := range markers {
		dataStart := m.offset + m.length
		end := len(buf)
		if i+1 < len(markers) {
			end = markers[i+1].offset
		}
		if dataStart >= end {
			continue
		}
		units = append(units, RawUnit{
			Offset:    m.offset,
			Length:    end - dataStart,
			MarkerLen: m.length,
			Type:      TypeUnknown,
			Data:      buf[dataStart:end],
		})
	}
	return units
}

type startCode struct {
	offset int
	length int
}

func findStartCodes(buf []byte) []startCode {
	var out []startCode
	n := len(buf)
	for i := 0; i+2 < n; {
		if buf[i] != 0 || buf[i+1] != 0 {
			i++
			continue
		}
		if i+3 < n && buf[i+2] == 0 && buf[i+3] == 1 {
			out = append(out, startCode{offset: i, length: 4})
			i += 4
			continue
		}
		if buf[i+2] == 1 {
			out = append(out, startCode{offset: i, length: 3})
			i += 3
			continue
		}
		i++
	}
	return out
}

// Classify returns the unit type code of u under family f. Units too short
// to carry a header classify as 0xFF.
func Classify(f *Family, u RawUnit) byte {
	t, ok := f.Type(u.Data)
	if !ok {
		return TypeUnknown
	}
	return t
}

// Scan is Scan with each unit's Type classified for the family.
func (f *Family) Scan(buf []byte) []RawUnit {
	units := Scan(buf)
	for i := range units {
		units[i].Type = Classify(f, units[i])
	}
	return units
}
