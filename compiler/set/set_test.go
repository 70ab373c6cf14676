package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapWordBoundary(t *testing.T) {
	var s Bitmap

	s.Set(63)

	assert.True(t, s.IsSet(63))
	assert.False(t, s.IsSet(64))

	s.Set(64)

	assert.Equal(t, 2, s.Size())

	s.Clear(64)

	assert.True(t, s.IsSet(63), "clearing the first bit of a word must not touch the last bit of the previous one")
	assert.False(t, s.IsSet(64))

	s.Clear(63)

	assert.Equal(t, 0, s.Size())
}

func TestBitmapRoundTrip(t *testing.T) {
	s := MakeBitmap(128)

	s.Set(0)
	s.Set(17)
	s.Set(63)
	s.Set(100)

	orig := s.Copy()

	for f := 0; f < 128; f++ {
		s.Set(f)
		s.Clear(f)

		if orig.IsSet(f) {
			s.Set(f)
		}

		assert.True(t, s.Equal(orig), "feature %v", f)
	}
}

func TestBitmapRange(t *testing.T) {
	var s Bitmap

	s.Set(3)
	s.Set(64)
	s.Set(65)

	var got []int

	s.Range(func(i int) bool {
		got = append(got, i)
		return true
	})

	assert.Equal(t, []int{3, 64, 65}, got)
	assert.Equal(t, 3, s.First())
}

func TestBitmapOrCopy(t *testing.T) {
	var a, b Bitmap

	a.Set(1)
	b.Set(70)

	c := a.Copy()
	c.Or(b)

	assert.True(t, c.IsSet(1))
	assert.True(t, c.IsSet(70))
	assert.False(t, a.IsSet(70), "copy must not alias the source")
}

func TestBits(t *testing.T) {
	type id int

	s := MakeBits[id](0)

	s.SetAll(2, 63, 64)

	assert.True(t, s.IsSet(2))
	assert.True(t, s.IsSet(63))
	assert.True(t, s.IsSet(64))
	assert.False(t, s.IsSet(65))
	assert.Equal(t, 3, s.Size())

	s.Clear(63)

	assert.False(t, s.IsSet(63))
	assert.True(t, s.IsSet(64))

	var got []id

	s.Range(func(k id) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []id{2, 64}, got)
}
