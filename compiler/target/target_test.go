package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfos(t *testing.T) {
	bigUp := 0

	for _, info := range Infos() {
		assert.NotEmpty(t, info.Name)
		assert.Contains(t, []int{3, 4, 8}, info.PtrSize, "%v", info.Name)
		assert.NotZero(t, info.AddrBus, "%v", info.Name)
		assert.NotZero(t, info.GPRs, "%v", info.Name)

		if info.BigEndian && info.StackGrowsUp {
			bigUp++
		}

		got, err := Get(info.Arch)
		require.NoError(t, err)
		assert.Same(t, info, got, "Get must return the stable registry pointer")
	}

	assert.Equal(t, 1, bigUp, "exactly one family is big-endian with the stack growing up")
}

func TestARM64Info(t *testing.T) {
	info, err := Get(ARM64)
	require.NoError(t, err)

	assert.Equal(t, 8, info.PtrSize)
	assert.False(t, info.BigEndian)
	assert.False(t, info.StackGrowsUp)
	assert.True(t, info.CondCodes)
	assert.False(t, info.DelaySlots)
	assert.Equal(t, FPIEEE754, info.FPFormat)
}

func TestHPPAInfo(t *testing.T) {
	info, err := Get(HPPA)
	require.NoError(t, err)

	assert.True(t, info.BigEndian)
	assert.True(t, info.StackGrowsUp)
	assert.True(t, info.DelaySlots)
	assert.Equal(t, 4, info.PtrSize)
}

func TestEZ80Info(t *testing.T) {
	info, err := Get(EZ80)
	require.NoError(t, err)

	assert.Equal(t, 3, info.PtrSize)
	assert.Equal(t, 24, info.AddrBus)
	assert.Equal(t, FPNone, info.FPFormat)
}

func TestParse(t *testing.T) {
	a, err := ParseArch("arm64")
	require.NoError(t, err)
	assert.Equal(t, ARM64, a)

	_, err = ParseArch("pdp11")
	assert.ErrorIs(t, err, ErrUnknownArch)

	abi, err := ParseABI("darwin")
	require.NoError(t, err)
	assert.Equal(t, Darwin, abi)

	_, err = ParseABI("wasm")
	assert.Error(t, err)
}
