// Package tp implements the type table: canonical type descriptors
// addressed by stable integer ids, with sizes and layout resolved
// against the target pointer width.
package tp

type (
	ID   int
	Kind int

	Field struct {
		Name   string
		Offset int
		Type   ID
	}

	Type struct {
		Kind Kind

		Bits   int  // Int, Float
		Signed bool // Int

		Elem ID  // Ptr, Array
		Len  int // Array

		Fields []Field // Struct

		In       []ID // Func
		Out      ID   // Func, Nil for no result
		Variadic bool // Func
	}

	Table struct {
		ptrSize int

		types []Type

		void ID
		prim map[primKey]ID
	}

	primKey struct {
		kind   Kind
		bits   int
		signed bool
	}
)

const Nil ID = -1

const (
	Void Kind = iota
	Int
	Float
	Ptr
	Array
	Struct
	Func
)

// New creates an empty table. ptrSize is the target pointer width in
// bytes (3, 4, or 8 for the currently known targets).
func New(ptrSize int) *Table {
	tt := &Table{
		ptrSize: ptrSize,
		void:    Nil,
		prim:    map[primKey]ID{},
	}

	tt.void = tt.add(Type{Kind: Void})

	return tt
}

func (tt *Table) PtrSize() int { return tt.ptrSize }

func (tt *Table) Void() ID { return tt.void }

func (tt *Table) Int(bits int, signed bool) ID {
	switch bits {
	case 8, 16, 32, 64:
	default:
		panic(bits)
	}

	k := primKey{kind: Int, bits: bits, signed: signed}

	id, ok := tt.prim[k]
	if !ok {
		id = tt.add(Type{Kind: Int, Bits: bits, Signed: signed})
		tt.prim[k] = id
	}

	return id
}

func (tt *Table) Float(bits int) ID {
	switch bits {
	case 32, 64:
	default:
		panic(bits)
	}

	k := primKey{kind: Float, bits: bits}

	id, ok := tt.prim[k]
	if !ok {
		id = tt.add(Type{Kind: Float, Bits: bits})
		tt.prim[k] = id
	}

	return id
}

func (tt *Table) Ptr(elem ID) ID {
	return tt.add(Type{Kind: Ptr, Elem: elem})
}

func (tt *Table) Array(elem ID, n int) ID {
	return tt.add(Type{Kind: Array, Elem: elem, Len: n})
}

// Struct lays the fields out sequentially, each aligned to its own
// alignment, and fills in the offsets. No reordering, no packing.
func (tt *Table) Struct(fields []Field) ID {
	fs := make([]Field, len(fields))
	off := 0

	for i, f := range fields {
		off = alignUp(off, tt.AlignOf(f.Type))

		fs[i] = Field{Name: f.Name, Offset: off, Type: f.Type}

		off += tt.SizeOf(f.Type)
	}

	return tt.add(Type{Kind: Struct, Fields: fs})
}

func (tt *Table) Func(in []ID, out ID, variadic bool) ID {
	return tt.add(Type{Kind: Func, In: append([]ID{}, in...), Out: out, Variadic: variadic})
}

func (tt *Table) add(t Type) ID {
	id := ID(len(tt.types))
	tt.types = append(tt.types, t)

	return id
}

func (tt *Table) Kind(id ID) Kind {
	return tt.types[id].Kind
}

func (tt *Table) Of(id ID) Type {
	return tt.types[id]
}

func (tt *Table) Elem(id ID) ID {
	return tt.types[id].Elem
}

// SizeOf returns the type size in bytes. Void and Func have no size;
// asking for one is a caller bug and yields 0.
func (tt *Table) SizeOf(id ID) int {
	t := &tt.types[id]

	switch t.Kind {
	case Void, Func:
		return 0
	case Int, Float:
		return t.Bits / 8
	case Ptr:
		return tt.ptrSize
	case Array:
		return tt.SizeOf(t.Elem) * t.Len
	case Struct:
		if len(t.Fields) == 0 {
			return 0
		}

		last := t.Fields[len(t.Fields)-1]
		size := last.Offset + tt.SizeOf(last.Type)

		return alignUp(size, tt.AlignOf(id))
	default:
		panic(t.Kind)
	}
}

// AlignOf returns the type alignment in bytes. Primitives are
// self-aligned; a struct takes the max alignment of its fields;
// a non-power-of-two pointer width means byte addressing.
func (tt *Table) AlignOf(id ID) int {
	t := &tt.types[id]

	switch t.Kind {
	case Void, Func:
		return 1
	case Int, Float:
		return t.Bits / 8
	case Ptr:
		if tt.ptrSize&(tt.ptrSize-1) != 0 {
			return 1
		}

		return tt.ptrSize
	case Array:
		return tt.AlignOf(t.Elem)
	case Struct:
		a := 1

		for _, f := range t.Fields {
			if fa := tt.AlignOf(f.Type); fa > a {
				a = fa
			}
		}

		return a
	default:
		panic(t.Kind)
	}
}

// Equal compares two types structurally. Field names do not take part
// in the comparison.
func (tt *Table) Equal(a, b ID) bool {
	if a == b {
		return true
	}
	if a == Nil || b == Nil {
		return false
	}

	x, y := &tt.types[a], &tt.types[b]

	if x.Kind != y.Kind {
		return false
	}

	switch x.Kind {
	case Void:
		return true
	case Int:
		return x.Bits == y.Bits && x.Signed == y.Signed
	case Float:
		return x.Bits == y.Bits
	case Ptr:
		return tt.Equal(x.Elem, y.Elem)
	case Array:
		return x.Len == y.Len && tt.Equal(x.Elem, y.Elem)
	case Struct:
		if len(x.Fields) != len(y.Fields) {
			return false
		}

		for i := range x.Fields {
			if !tt.Equal(x.Fields[i].Type, y.Fields[i].Type) {
				return false
			}
		}

		return true
	case Func:
		if len(x.In) != len(y.In) || x.Variadic != y.Variadic {
			return false
		}

		if !tt.Equal(x.Out, y.Out) {
			return false
		}

		for i := range x.In {
			if !tt.Equal(x.In[i], y.In[i]) {
				return false
			}
		}

		return true
	default:
		panic(x.Kind)
	}
}

func (tt *Table) AppendString(b []byte, id ID) []byte {
	if id == Nil {
		return append(b, "nil"...)
	}

	t := &tt.types[id]

	switch t.Kind {
	case Void:
		return append(b, "void"...)
	case Int:
		c := byte('i')
		if !t.Signed {
			c = 'u'
		}

		return appendInt(append(b, c), t.Bits)
	case Float:
		return appendInt(append(b, 'f'), t.Bits)
	case Ptr:
		return tt.AppendString(append(b, '*'), t.Elem)
	case Array:
		b = append(b, '[')
		b = appendInt(b, t.Len)
		b = append(b, ']')

		return tt.AppendString(b, t.Elem)
	case Struct:
		b = append(b, "struct{"...)

		for i, f := range t.Fields {
			if i != 0 {
				b = append(b, ", "...)
			}

			if f.Name != "" {
				b = append(b, f.Name...)
				b = append(b, ' ')
			}

			b = tt.AppendString(b, f.Type)
		}

		return append(b, '}')
	case Func:
		b = append(b, "func("...)

		for i, in := range t.In {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = tt.AppendString(b, in)
		}

		if t.Variadic {
			if len(t.In) != 0 {
				b = append(b, ", "...)
			}

			b = append(b, "..."...)
		}

		b = append(b, ')')

		if t.Out != Nil && tt.types[t.Out].Kind != Void {
			b = append(b, ' ')
			b = tt.AppendString(b, t.Out)
		}

		return b
	default:
		panic(t.Kind)
	}
}

func (tt *Table) String(id ID) string {
	return string(tt.AppendString(nil, id))
}

func alignUp(x, a int) int {
	if a <= 1 {
		return x
	}

	return (x + a - 1) &^ (a - 1)
}

func appendInt(b []byte, x int) []byte {
	if x == 0 {
		return append(b, '0')
	}

	var buf [20]byte
	i := len(buf)

	for x > 0 {
		i--
		buf[i] = byte('0' + x%10)
		x /= 10
	}

	return append(b, buf[i:]...)
}
