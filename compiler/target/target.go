// Package target enumerates the supported architectures and ABI
// variants and serves static per-architecture facts.
package target

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	Arch int
	ABI  int

	FPFormat int

	// Info is the static description of one architecture. Pointers
	// returned by Get stay valid for the process lifetime.
	Info struct {
		Arch Arch
		Name string

		PtrSize  int // bytes
		AddrBus  int // bits
		WordSize int // bytes

		GPRs int
		FPRs int

		BigEndian    bool
		StackGrowsUp bool

		FPFormat   FPFormat
		CondCodes  bool
		DelaySlots bool
	}
)

const (
	ARM64 Arch = iota
	AMD64
	HPPA
	EZ80

	archCount
)

const (
	ELF ABI = iota
	Darwin
)

const (
	FPNone FPFormat = iota
	FPIEEE754
)

var ErrUnknownArch = errors.New("unknown architecture")

var infos = [archCount]Info{
	ARM64: {
		Arch: ARM64, Name: "arm64",
		PtrSize: 8, AddrBus: 48, WordSize: 8,
		GPRs: 31, FPRs: 32,
		FPFormat: FPIEEE754, CondCodes: true,
	},
	AMD64: {
		Arch: AMD64, Name: "amd64",
		PtrSize: 8, AddrBus: 48, WordSize: 8,
		GPRs: 16, FPRs: 16,
		FPFormat: FPIEEE754, CondCodes: true,
	},
	HPPA: {
		Arch: HPPA, Name: "hppa",
		PtrSize: 4, AddrBus: 32, WordSize: 4,
		GPRs: 32, FPRs: 32,
		BigEndian: true, StackGrowsUp: true,
		FPFormat: FPIEEE754, DelaySlots: true,
	},
	EZ80: {
		Arch: EZ80, Name: "ez80",
		PtrSize: 3, AddrBus: 24, WordSize: 1,
		GPRs: 7,
		CondCodes: true,
	},
}

var abiNames = map[ABI]string{
	ELF:    "elf",
	Darwin: "darwin",
}

func Get(a Arch) (*Info, error) {
	if a < 0 || a >= archCount {
		return nil, errors.Wrap(ErrUnknownArch, "%d", int(a))
	}

	return &infos[a], nil
}

func Infos() []*Info {
	r := make([]*Info, archCount)

	for i := range infos {
		r[i] = &infos[i]
	}

	return r
}

func ParseArch(name string) (Arch, error) {
	for i := range infos {
		if infos[i].Name == name {
			return Arch(i), nil
		}
	}

	return -1, errors.Wrap(ErrUnknownArch, "%v", name)
}

func ParseABI(name string) (ABI, error) {
	for abi, n := range abiNames {
		if n == name {
			return abi, nil
		}
	}

	return -1, errors.New("unknown abi: %v", name)
}

func (a Arch) String() string {
	if a < 0 || a >= archCount {
		return "unknown"
	}

	return infos[a].Name
}

func (a ABI) String() string {
	if n, ok := abiNames[a]; ok {
		return n
	}

	return "unknown"
}

func (f FPFormat) String() string {
	switch f {
	case FPNone:
		return "none"
	case FPIEEE754:
		return "ieee754"
	default:
		return "unknown"
	}
}

func (info *Info) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 5)
	b = e.AppendKeyValue(b, "arch", info.Name)
	b = e.AppendKeyInt(b, "ptr", info.PtrSize)
	b = e.AppendKeyInt(b, "bus", info.AddrBus)
	b = e.AppendKeyValue(b, "be", info.BigEndian)
	b = e.AppendKeyValue(b, "stack_up", info.StackGrowsUp)

	return b
}
