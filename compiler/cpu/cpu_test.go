package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slate/compiler/target"
)

func TestDefaults(t *testing.T) {
	a53, err := Default(CortexA53)
	require.NoError(t, err)

	assert.True(t, a53.IsSet(int(FeatFP)))
	assert.True(t, a53.IsSet(int(FeatNEON)))
	assert.False(t, a53.IsSet(int(FeatLSE)))
	assert.False(t, a53.IsSet(int(FeatPAuth)))

	m1, err := Default(AppleM1)
	require.NoError(t, err)

	assert.True(t, m1.IsSet(int(FeatLSE)))
	assert.True(t, m1.IsSet(int(FeatPAuth)))
}

func TestDefaultIsCopy(t *testing.T) {
	a, err := Default(CortexA53)
	require.NoError(t, err)

	a.Set(int(FeatPAuth))

	b, err := Default(CortexA53)
	require.NoError(t, err)

	assert.False(t, b.IsSet(int(FeatPAuth)), "mutating one default set must not leak into the next")
}

func TestModels(t *testing.T) {
	arm := Models(target.ARM64)
	assert.Contains(t, arm, CortexA53)
	assert.Contains(t, arm, AppleM1)
	assert.NotContains(t, arm, PA8700)

	assert.Equal(t, target.HPPA, ModelArch(PA7100))

	for _, m := range arm {
		assert.Equal(t, target.ARM64, ModelArch(m))
	}
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel("neoverse-n1")
	require.NoError(t, err)
	assert.Equal(t, NeoverseN1, m)
	assert.Equal(t, "neoverse-n1", m.String())

	_, err = ParseModel("i486")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = Default(Model(999))
	assert.ErrorIs(t, err, ErrUnknownModel)
}
