package demux

import (
	"github.com/zsiec/ccx"

	"github.com/zsiec/playout/internal/media"
)

// CaptionExtractor decodes CEA-608 caption text carried in the SEI units
// of access units. It keeps per-channel decoder state across access units
// and is not safe for concurrent use.
type CaptionExtractor struct {
	family *Family
	decs   map[int]*ccx.CEA608Decoder

	// Control codes are transmitted twice; the repeat is dropped.
	lastCtrl  [2][2]byte
	ctrlValid [2]bool
}

// NewCaptionExtractor creates an extractor for the given family.
func NewCaptionExtractor(family *Family) *CaptionExtractor {
	return &CaptionExtractor{
		family: family,
		decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

// Extract returns the caption updates carried by au. pts is in milliseconds.
func (e *CaptionExtractor) Extract(au *media.AccessUnit, pts int64) []*ccx.CaptionFrame {
	var out []*ccx.CaptionFrame
	for _, nal := range au.Units {
		t, ok := e.family.Type(nal)
		if !ok || t != e.family.SEI || len(nal) <= e.family.HeaderLen {
			continue
		}
		out = append(out, e.decodeSEI(nal, pts)...)
	}
	return out
}

func (e *CaptionExtractor) decodeSEI(nal []byte, pts int64) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(nal)
	if cd == nil {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}

		if cc1 >= 0x10 && cc1 <= 0x1F {
			code := [2]byte{cc1, cc2}
			if e.ctrlValid[f] && e.lastCtrl[f] == code {
				e.ctrlValid[f] = false
				continue
			}
			e.lastCtrl[f] = code
			e.ctrlValid[f] = true
		} else {
			e.ctrlValid[f] = false
		}

		dec := e.decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			out = append(out, frame)
		}
	}
	return out
}
