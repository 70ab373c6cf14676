// Package cpu is the boundary to the CPU model registry: a closed
// enumeration of models per architecture, each mapping to a default
// feature bitset. Codegen consults the session's current bitset, which
// callers may derive from these defaults and then override per feature.
package cpu

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slate/compiler/set"
	"github.com/slowlang/slate/compiler/target"
)

type (
	Model   int
	Feature int
)

const (
	CortexA53 Model = iota
	CortexA72
	NeoverseN1
	AppleM1

	PA7100
	PA8700

	EZ80F91

	modelCount
)

// Feature ids are bit positions in a set.Bitmap. The ids are flat
// across architectures; a model's defaults only ever name features of
// its own architecture.
const (
	FeatFP Feature = iota
	FeatNEON
	FeatCRC
	FeatLSE
	FeatAES
	FeatSHA2
	FeatDotProd
	FeatFP16
	FeatSVE
	FeatPAuth

	FeatMAX2 // hppa multimedia extensions
	FeatMLT  // ez80 hardware multiply
)

var ErrUnknownModel = errors.New("unknown cpu model")

type modelDesc struct {
	name string
	arch target.Arch
	feat []Feature
}

var models = [modelCount]modelDesc{
	CortexA53:  {name: "cortex-a53", arch: target.ARM64, feat: []Feature{FeatFP, FeatNEON, FeatCRC}},
	CortexA72:  {name: "cortex-a72", arch: target.ARM64, feat: []Feature{FeatFP, FeatNEON, FeatCRC}},
	NeoverseN1: {name: "neoverse-n1", arch: target.ARM64, feat: []Feature{FeatFP, FeatNEON, FeatCRC, FeatLSE, FeatAES, FeatSHA2, FeatDotProd}},
	AppleM1:    {name: "apple-m1", arch: target.ARM64, feat: []Feature{FeatFP, FeatNEON, FeatCRC, FeatLSE, FeatAES, FeatSHA2, FeatDotProd, FeatFP16, FeatPAuth}},

	PA7100: {name: "pa7100", arch: target.HPPA, feat: []Feature{FeatFP}},
	PA8700: {name: "pa8700", arch: target.HPPA, feat: []Feature{FeatFP, FeatMAX2}},

	EZ80F91: {name: "ez80f91", arch: target.EZ80, feat: []Feature{FeatMLT}},
}

// Default returns a fresh copy of the model's default feature bitset.
func Default(m Model) (set.Bitmap, error) {
	if m < 0 || m >= modelCount {
		return set.Bitmap{}, errors.Wrap(ErrUnknownModel, "%d", int(m))
	}

	s := set.MakeBitmap(64)

	for _, f := range models[m].feat {
		s.Set(int(f))
	}

	return s, nil
}

func Models(a target.Arch) []Model {
	var r []Model

	for m := Model(0); m < modelCount; m++ {
		if models[m].arch == a {
			r = append(r, m)
		}
	}

	return r
}

func ModelArch(m Model) target.Arch {
	if m < 0 || m >= modelCount {
		return -1
	}

	return models[m].arch
}

func ParseModel(name string) (Model, error) {
	for m := Model(0); m < modelCount; m++ {
		if models[m].name == name {
			return m, nil
		}
	}

	return -1, errors.Wrap(ErrUnknownModel, "%v", name)
}

func (m Model) String() string {
	if m < 0 || m >= modelCount {
		return "unknown"
	}

	return models[m].name
}
