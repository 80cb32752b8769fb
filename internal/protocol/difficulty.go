package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Custom difficulty bounds.  A custom difficulty is accepted only when
// MinCustomDiff <= v < MaxCustomDiff.
const (
	MinCustomDiff uint64 = 100
	MaxCustomDiff uint64 = math.MaxInt32
)

// ValidCustomDiff reports whether v may be stored as a custom difficulty.
func ValidCustomDiff(v uint64) bool {
	return v >= MinCustomDiff && v < MaxCustomDiff
}

// EffectiveDiff returns the difficulty a miner is actually given: the
// custom ceiling when it is set and lower than the pool difficulty,
// otherwise the pool difficulty.
func EffectiveDiff(diff, custom uint64) uint64 {
	if custom != 0 && custom < diff {
		return custom
	}
	return diff
}

// Target encodes diff as the little-endian hex target miners compare
// hashes against.  Difficulties that fit the compact form use a 32-bit
// target, larger ones the full 64-bit target.
func Target(diff uint64) string {
	if diff == 0 {
		diff = 1
	}
	t := math.MaxUint64 / diff

	if t>>32 != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(t>>32))
		return hex.EncodeToString(b[:])
	}

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], t)
	return hex.EncodeToString(b[:])
}

// ShareDiff returns the difficulty met by a submitted 32-byte result hash,
// read from its last eight bytes.  It returns 0 for a malformed hash.
func ShareDiff(resultHex string) uint64 {
	if len(resultHex) != 64 {
		return 0
	}
	var tail [8]byte
	if _, err := hex.Decode(tail[:], []byte(resultHex[48:])); err != nil {
		return 0
	}
	v := binary.LittleEndian.Uint64(tail[:])
	if v == 0 {
		return math.MaxUint64
	}
	return math.MaxUint64 / v
}
