package arm64

// A tiny interpreter for the integer subset of the emitted assembly.
// It executes the exact text the backend produces, which keeps the
// end-to-end tests honest without an external toolchain. Floating
// point, address relocations and external calls are not simulated,
// tests that need them assert on the text instead.

import (
	"strconv"
	"strings"
	"testing"
)

type machine struct {
	t *testing.T

	lines  []string
	labels map[string]int

	r   [32]uint64 // 31 is sp
	mem map[uint64]byte

	cmpL, cmpR uint64
}

const (
	simStack = uint64(1) << 20
	simHalt  = ^uint64(0)
)

func newMachine(t *testing.T, asm string) *machine {
	t.Helper()

	m := &machine{
		t:      t,
		lines:  strings.Split(asm, "\n"),
		labels: map[string]int{},
		mem:    map[uint64]byte{},
	}

	for i, ln := range m.lines {
		ln = strings.TrimSpace(ln)

		if strings.HasSuffix(ln, ":") {
			m.labels[strings.TrimSuffix(ln, ":")] = i
		}
	}

	return m
}

// run executes from the named symbol with up to eight integer args
// and returns x0.
func (m *machine) run(entry string, args ...int64) int64 {
	m.t.Helper()

	pc, ok := m.labels[entry]
	if !ok {
		m.t.Fatalf("no symbol %q", entry)
	}

	m.r = [32]uint64{}
	m.r[31] = simStack
	m.r[30] = simHalt

	for i, a := range args {
		m.r[i] = uint64(a)
	}

	for steps := 0; ; steps++ {
		if steps > 1_000_000 {
			m.t.Fatalf("no halt after %d steps", steps)
		}

		if pc < 0 || pc >= len(m.lines) {
			m.t.Fatalf("pc out of range: %d", pc)
		}

		next := m.step(pc)
		if next == -1 {
			break
		}

		pc = next
	}

	return int64(m.r[0])
}

// step executes one line and returns the next pc, or -1 on halt.
func (m *machine) step(pc int) int {
	ln := m.lines[pc]

	if i := strings.Index(ln, "//"); i >= 0 {
		ln = ln[:i]
	}

	ln = strings.TrimSpace(ln)

	if ln == "" || strings.HasSuffix(ln, ":") || strings.HasPrefix(ln, ".") {
		return pc + 1
	}

	tok := strings.Fields(strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ',', '!':
			return ' '
		}

		return r
	}, ln))

	op := tok[0]

	reg := func(i int) int {
		r, _ := m.regArg(tok[i])
		return r
	}
	val := func(i int) uint64 { return m.value(tok[i]) }

	switch op {
	case "movz":
		m.r[reg(1)] = val(2) << val(4)
	case "movk":
		sh := val(4)
		m.r[reg(1)] = m.r[reg(1)]&^(0xffff<<sh) | val(2)<<sh
	case "mov":
		r, w := m.regArg(tok[1])
		m.setReg(r, w, m.value(tok[2]))
	case "sxtb":
		m.r[reg(1)] = uint64(int64(int8(m.r[reg(2)])))
	case "sxth":
		m.r[reg(1)] = uint64(int64(int16(m.r[reg(2)])))
	case "sxtw":
		m.r[reg(1)] = uint64(int64(int32(m.r[reg(2)])))
	case "add":
		m.r[reg(1)] = val(2) + val(3)
	case "sub":
		m.r[reg(1)] = val(2) - val(3)
	case "mul":
		m.r[reg(1)] = val(2) * val(3)
	case "sdiv":
		m.r[reg(1)] = uint64(int64(val(2)) / int64(val(3)))
	case "udiv":
		m.r[reg(1)] = val(2) / val(3)
	case "msub":
		m.r[reg(1)] = val(4) - val(2)*val(3)
	case "and":
		m.r[reg(1)] = val(2) & val(3)
	case "orr":
		m.r[reg(1)] = val(2) | val(3)
	case "eor":
		m.r[reg(1)] = val(2) ^ val(3)
	case "lsl":
		m.r[reg(1)] = val(2) << (val(3) & 63)
	case "lsr":
		m.r[reg(1)] = val(2) >> (val(3) & 63)
	case "asr":
		m.r[reg(1)] = uint64(int64(val(2)) >> (val(3) & 63))
	case "ldur", "ldr":
		r, w := m.regArg(tok[1])
		m.setReg(r, w, m.load(m.addr(tok[2:]), w))
	case "stur", "str":
		_, w := m.regArg(tok[1])
		m.store(m.addr(tok[2:]), w, m.value(tok[1]))
	case "ldrsb":
		m.r[reg(1)] = uint64(int64(int8(m.load(m.addr(tok[2:]), 1))))
	case "ldrb":
		m.r[reg(1)] = m.load(m.addr(tok[2:]), 1)
	case "ldrsh":
		m.r[reg(1)] = uint64(int64(int16(m.load(m.addr(tok[2:]), 2))))
	case "ldrh":
		m.r[reg(1)] = m.load(m.addr(tok[2:]), 2)
	case "ldrsw":
		m.r[reg(1)] = uint64(int64(int32(m.load(m.addr(tok[2:]), 4))))
	case "strb":
		m.store(m.addr(tok[2:]), 1, m.value(tok[1]))
	case "strh":
		m.store(m.addr(tok[2:]), 2, m.value(tok[1]))
	case "stp":
		sp := m.r[31] - 16
		m.store(sp, 8, m.r[reg(1)])
		m.store(sp+8, 8, m.r[reg(2)])
		m.r[31] = sp
	case "ldp":
		m.r[reg(1)] = m.load(m.r[31], 8)
		m.r[reg(2)] = m.load(m.r[31]+8, 8)
		m.r[31] += 16
	case "cmp":
		m.cmpL, m.cmpR = val(1), val(2)
	case "cset":
		m.r[reg(1)] = 0
		if m.cond(tok[2]) {
			m.r[reg(1)] = 1
		}
	case "cbnz":
		if m.r[reg(1)] != 0 {
			return m.jump(tok[2])
		}
	case "b":
		return m.jump(tok[1])
	case "bl":
		m.r[30] = uint64(pc + 1)
		return m.jump(tok[1])
	case "ret":
		if m.r[30] == simHalt {
			return -1
		}

		return int(m.r[30])
	case "paciasp", "autiasp", "nop":
	default:
		if strings.HasPrefix(op, "b.") {
			if m.condName(op[2:]) {
				return m.jump(tok[1])
			}

			return pc + 1
		}

		m.t.Fatalf("unsupported instruction %q", ln)
	}

	return pc + 1
}

func (m *machine) jump(label string) int {
	pc, ok := m.labels[label]
	if !ok {
		m.t.Fatalf("unknown label %q", label)
	}

	return pc
}

func (m *machine) cond(cc string) bool { return m.condName(cc) }

func (m *machine) condName(cc string) bool {
	l, r := int64(m.cmpL), int64(m.cmpR)

	switch cc {
	case "eq":
		return m.cmpL == m.cmpR
	case "ne":
		return m.cmpL != m.cmpR
	case "lt":
		return l < r
	case "le":
		return l <= r
	case "gt":
		return l > r
	case "ge":
		return l >= r
	case "lo":
		return m.cmpL < m.cmpR
	case "ls":
		return m.cmpL <= m.cmpR
	case "hi":
		return m.cmpL > m.cmpR
	case "hs":
		return m.cmpL >= m.cmpR
	}

	m.t.Fatalf("unsupported condition %q", cc)

	return false
}

// regArg parses a register token into its index and access width.
func (m *machine) regArg(s string) (r, width int) {
	switch {
	case s == "sp":
		return 31, 8
	case s[0] == 'x':
		width = 8
	case s[0] == 'w':
		width = 4
	default:
		m.t.Fatalf("bad register %q", s)
	}

	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 30 {
		m.t.Fatalf("bad register %q", s)
	}

	return n, width
}

func (m *machine) setReg(r, width int, v uint64) {
	if width == 4 {
		v &= 0xffffffff
	}

	m.r[r] = v
}

// value evaluates a register or #immediate token.
func (m *machine) value(s string) uint64 {
	if s[0] == '#' {
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s[1:], 0, 64)
			if uerr != nil {
				m.t.Fatalf("bad immediate %q: %v", s, err)
			}

			return u
		}

		return uint64(v)
	}

	r, w := m.regArg(s)

	if w == 4 {
		return m.r[r] & 0xffffffff
	}

	return m.r[r]
}

// addr evaluates an address operand: base, base+imm or base+reg.
func (m *machine) addr(tok []string) uint64 {
	a := m.value(tok[0])

	if len(tok) > 1 {
		a += m.value(tok[1])
	}

	return a
}

func (m *machine) load(a uint64, width int) (v uint64) {
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.mem[a+uint64(i)])
	}

	return v
}

func (m *machine) store(a uint64, width int, v uint64) {
	for i := 0; i < width; i++ {
		m.mem[a+uint64(i)] = byte(v)
		v >>= 8
	}
}
