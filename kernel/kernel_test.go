package kernel_test

import (
	"crypto/sha256"
	"testing"

	"github.com/Ethan-cw/HighPerformanceComputing/kernel"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowExponentZero(t *testing.T) {
	for x := 1; x <= 65535; x++ {
		if got := kernel.Pow(uint16(x), 0); got != 1 {
			t.Fatalf("Pow(%d, 0) = %d", x, got)
		}
	}
}

func TestPow(t *testing.T) {
	cases := []struct {
		x, y uint16
		want int64
	}{
		{2, 10, 1024},
		{3, 4, 81},
		{1, 65535, 1},
		{10, 9, 1000000000},
		{2, 31, 1 << 31},
		// squared base wraps at 32 bits: 2^32 becomes 0
		{2, 32, 0},
		// 65535^2 overflows the 32-bit base
		{65535, 2, -131071},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, kernel.Pow(c.x, c.y), "Pow(%d, %d)", c.x, c.y)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	for _, in := range [][2]uint16{{2, 10}, {65535, 65535}, {12345, 54321}, {7, 0}} {
		assert.Equal(t, kernel.Compute(in[0], in[1]), kernel.Compute(in[0], in[1]))
	}
}

func TestChainAppliesTenRounds(t *testing.T) {
	d := sha256.Sum256([]byte("1024"))
	for i := 1; i < 10; i++ {
		d = sha256.Sum256(d[:])
	}
	assert.Equal(t, d, kernel.Compute(2, 10))

	once := sha256.Sum256([]byte("1024"))
	assert.NotEqual(t, once, kernel.Compute(2, 10))
}

func TestChainNegativeAccumulator(t *testing.T) {
	d := sha256.Sum256([]byte("-131071"))
	for i := 1; i < kernel.Rounds; i++ {
		d = sha256.Sum256(d[:])
	}
	assert.Equal(t, d, kernel.Compute(65535, 2))
}

func TestVerify(t *testing.T) {
	r := kernel.ComputeTask(wire.Task{ID: 1, X: 2, Y: 10})
	expected, ok := kernel.Verify(r)
	require.True(t, ok)
	assert.Len(t, expected, 64)
	assert.Equal(t, kernel.Hex(r.Digest), expected)

	r.Digest[0] ^= 0xff
	_, ok = kernel.Verify(r)
	assert.False(t, ok)
}
