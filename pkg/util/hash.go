package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// DoubleSHA256 computes SHA256(SHA256(data)), used extensively in Bitcoin-family
// serialization.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Keccak256 computes the legacy Keccak-256 digest (pre-NIST padding, as used by
// ProgPoW-family seed hashes — not SHA3-256).
func Keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// ReverseBytes returns a new slice with bytes reversed.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// HashToHex returns a reversed hex string of a hash (display order).
func HashToHex(hash [32]byte) string {
	return hex.EncodeToString(ReverseBytes(hash[:]))
}

// HexToHash converts a display-order hex string back to a [32]byte hash.
func HexToHash(s string) ([32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	if len(b) != 32 {
		return [32]byte{}, hex.ErrLength
	}
	var h [32]byte
	copy(h[:], ReverseBytes(b))
	return h, nil
}

// MerkleRoot folds a list of 32-byte transaction ids (internal byte order)
// into the block merkle root. An empty list hashes the empty string, a single
// id is its own root, and odd levels duplicate their last element.
func MerkleRoot(txids [][32]byte) [32]byte {
	if len(txids) == 0 {
		return DoubleSHA256(nil)
	}

	level := make([][32]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var pair [64]byte
			copy(pair[:32], level[i][:])
			copy(pair[32:], level[i+1][:])
			next = append(next, DoubleSHA256(pair[:]))
		}
		level = next
	}

	return level[0]
}

// FormatDifficulty renders the difficulty implied by a 64-char mining target as
// a human-readable string: 2^64 divided by the top 8 bytes of the target, with
// a T/G/M/K suffix.
func FormatDifficulty(targetHex string) string {
	if len(targetHex) < 16 {
		return "?"
	}
	top, err := strconv.ParseUint(targetHex[:16], 16, 64)
	if err != nil || top == 0 {
		return "?"
	}
	diff := math.Ldexp(1, 64) / float64(top)

	units := []struct {
		limit  float64
		suffix string
	}{
		{1e12, "T"},
		{1e9, "G"},
		{1e6, "M"},
		{1e3, "K"},
	}
	for _, u := range units {
		if diff > u.limit {
			return fmt.Sprintf("%.2f%s", diff/u.limit, u.suffix)
		}
	}
	return fmt.Sprintf("%.2f", diff)
}
