package demux

import (
	"bytes"
	"log/slog"

	"github.com/zsiec/playout/internal/media"
)

// Assembler groups scanned NAL units into access units for one session.
// It caches the latest parameter set of each kind and prepends them to the
// first keyframe picture the session sees. An Assembler is not safe for
// concurrent use.
type Assembler struct {
	log    *slog.Logger
	family *Family

	params        [numParamKinds][]byte
	sawKeyframe   bool
	cur           *media.AccessUnit
	hasPicture    bool
	onParamUpdate func(kind ParamKind, data []byte)
}

// NewAssembler creates an Assembler for the given family. If log is nil,
// slog.Default() is used.
func NewAssembler(family *Family, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		log:    log.With("component", "assembler", "codec", family.Codec.String()),
		family: family,
	}
}

// OnParamUpdate registers fn to be called whenever a parameter set is cached.
func (a *Assembler) OnParamUpdate(fn func(kind ParamKind, data []byte)) {
	a.onParamUpdate = fn
}

// Param returns a copy of the cached parameter set of the given kind, or nil.
func (a *Assembler) Param(kind ParamKind) []byte {
	if kind < 0 || kind >= numParamKinds || a.params[kind] == nil {
		return nil
	}
	out := make([]byte, len(a.params[kind]))
	copy(out, a.params[kind])
	return out
}

// Group assembles units into access units. Parameter sets are cached and
// never emitted on their own. A delimiter closes the open access unit if
// it holds a picture; a second picture in the open access unit closes it
// first. Only the last open access unit, emitted at the end of units, may
// lack a picture.
func (a *Assembler) Group(units []RawUnit) []*media.AccessUnit {
	var out []*media.AccessUnit
	for _, u := range units {
		if au := a.Push(u); au != nil {
			out = append(out, au)
		}
	}
	if au := a.Flush(); au != nil {
		out = append(out, au)
	}
	return out
}

// Push adds one unit and returns the access unit it closed, if any. The
// open access unit is kept across calls until it is closed or flushed.
func (a *Assembler) Push(u RawUnit) *media.AccessUnit {
	t, ok := a.family.Type(u.Data)
	if !ok {
		return nil
	}

	if kind, isParam := a.family.ParamKindOf(t); isParam {
		a.cacheParam(kind, u.Data)
		return nil
	}

	var closed *media.AccessUnit
	switch {
	case t == a.family.Delimiter:
		// Units seen since the last delimiter carry into the next access
		// unit until a picture arrives.
		if a.hasPicture {
			closed = a.Flush()
		}
	case a.family.IsPicture(t):
		if a.hasPicture {
			closed = a.Flush()
		}
		au := a.open()
		a.hasPicture = true
		if a.family.IsKeyframe(t) {
			au.Keyframe = true
			if !a.sawKeyframe {
				a.sawKeyframe = true
				au.ParamsPrepended = a.prependParams(au)
			}
		}
	}

	au := a.open()
	au.Units = append(au.Units, bytes.Clone(u.Data))
	return closed
}

// Flush closes and returns the open access unit, or nil if none is open.
func (a *Assembler) Flush() *media.AccessUnit {
	au := a.cur
	a.cur = nil
	a.hasPicture = false
	if au == nil || len(au.Units) == 0 {
		return nil
	}
	return au
}

func (a *Assembler) open() *media.AccessUnit {
	if a.cur == nil {
		a.cur = &media.AccessUnit{Codec: a.family.Codec}
	}
	return a.cur
}

func (a *Assembler) cacheParam(kind ParamKind, data []byte) {
	cp := bytes.Clone(data)
	a.params[kind] = cp
	if a.onParamUpdate != nil {
		a.onParamUpdate(kind, cp)
	}
}

func (a *Assembler) prependParams(au *media.AccessUnit) bool {
	added := false
	for kind := ParamKind(0); kind < numParamKinds; kind++ {
		if a.params[kind] != nil {
			au.Units = append(au.Units, a.params[kind])
			added = true
		}
	}
	if !added {
		a.log.Warn("first keyframe arrived with no cached parameter sets")
	}
	return added
}

// Reset forgets cached parameter sets, the open access unit and the
// first-keyframe state.
func (a *Assembler) Reset() {
	a.params = [numParamKinds][]byte{}
	a.sawKeyframe = false
	a.cur = nil
	a.hasPicture = false
}
