// Package kernel is the per-task computation shared by the executor and the
// validator. Both sides must produce bit-identical digests, so every step
// uses fixed-width wraparound arithmetic.
package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/Ethan-cw/HighPerformanceComputing/wire"
)

// Rounds is the number of chained SHA-256 applications.
const Rounds = 10

type Digest = [wire.DigestSize]byte

// Pow computes x^y by square-and-multiply. The accumulator is a signed
// 64-bit integer and the squared base a signed 32-bit integer; both wrap
// silently on overflow.
func Pow(x, y uint16) int64 {
	acc := int64(1)
	base := int32(x)
	for e := y; e > 0; e >>= 1 {
		if e&1 == 1 {
			acc *= int64(base)
		}
		base *= base
	}
	return acc
}

// Chain hashes the signed decimal rendering of acc, then re-hashes the raw
// digest until Rounds applications have been made.
func Chain(acc int64) Digest {
	var buf [20]byte
	d := sha256.Sum256(strconv.AppendInt(buf[:0], acc, 10))
	for i := 1; i < Rounds; i++ {
		d = sha256.Sum256(d[:])
	}
	return d
}

// Compute is Chain(Pow(x, y)).
func Compute(x, y uint16) Digest {
	return Chain(Pow(x, y))
}

// ComputeTask returns the result record for t.
func ComputeTask(t wire.Task) wire.Result {
	return wire.Result{Task: t, Digest: Compute(t.X, t.Y)}
}

// Hex renders a digest as lowercase hex.
func Hex(d Digest) string {
	return hex.EncodeToString(d[:])
}

// Verify recomputes r and reports whether the transmitted digest matches.
func Verify(r wire.Result) (expected string, ok bool) {
	expected = Hex(Compute(r.X, r.Y))
	return expected, expected == Hex(r.Digest)
}
