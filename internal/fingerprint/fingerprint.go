// Package fingerprint implements the deterministic, cross-process-stable
// byte encoding and hash used to compute TaskGraph node fingerprints.
//
// The specification requires that two processes building the same
// (tasks, scope) produce byte-identical fingerprints, which rules out
// Go's built-in map iteration order and the randomly-seeded runtime hash
// used by the "maphash" family. We get determinism by encoding every value
// as a fixed-endian, length-prefixed byte stream before hashing it with
// xxhash, which - unlike FNV or the stdlib hash/maphash - is seedless and
// gives the same Sum64 for the same bytes on every platform and process.
package fingerprint

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher accumulates a deterministic byte stream and reduces it to a single
// 64-bit sum. The zero value is not usable; construct with New.
type Hasher struct {
	digest *xxhash.Digest
	buf    [8]byte
}

// New returns a ready-to-use Hasher.
func New() *Hasher {
	return &Hasher{digest: xxhash.New()}
}

// WriteUint64 appends v in a fixed (little-endian) byte order.
func (h *Hasher) WriteUint64(v uint64) *Hasher {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.digest.Write(h.buf[:])
	return h
}

// WriteInt appends v widened to a uint64.
func (h *Hasher) WriteInt(v int) *Hasher {
	return h.WriteUint64(uint64(v))
}

// WriteBool appends v as a uint64 discriminant (1 for true, 0 for false).
func (h *Hasher) WriteBool(v bool) *Hasher {
	if v {
		return h.WriteUint64(1)
	}
	return h.WriteUint64(0)
}

// WriteFloat64 appends the IEEE-754 bit pattern of v.
func (h *Hasher) WriteFloat64(v float64) *Hasher {
	return h.WriteUint64(math.Float64bits(v))
}

// WriteBytes appends b, length-prefixed so that e.g. WriteString("ab") then
// WriteString("c") cannot collide with WriteString("a") then
// WriteString("bc").
func (h *Hasher) WriteBytes(b []byte) *Hasher {
	h.WriteUint64(uint64(len(b)))
	h.digest.Write(b)
	return h
}

// WriteString appends s, length-prefixed.
func (h *Hasher) WriteString(s string) *Hasher {
	return h.WriteBytes([]byte(s))
}

// WriteTag appends a short discriminant string identifying which variant of
// a tagged union is being hashed - the byte-level equivalent of matching on
// a Rust enum's variant before hashing its payload. Callers should write a
// tag before every variant's fields so that two variants with
// structurally-identical fields but different kinds never collide.
func (h *Hasher) WriteTag(tag string) *Hasher {
	return h.WriteString(tag)
}

// WriteChild folds another Hasher's current sum into this one. Used to
// combine a parent node's fingerprint into a child's without re-hashing the
// parent's entire structure.
func (h *Hasher) WriteChild(child *Hasher) *Hasher {
	return h.WriteUint64(child.Sum())
}

// WriteFingerprint folds a previously computed fingerprint value into this
// one, e.g. a parent node's already-computed id_fingerprint/state_fingerprint.
func (h *Hasher) WriteFingerprint(v uint64) *Hasher {
	return h.WriteUint64(v)
}

// Sum returns the current 64-bit hash of everything written so far. Sum may
// be called multiple times and does not reset the accumulated state.
func (h *Hasher) Sum() uint64 {
	return h.digest.Sum64()
}
