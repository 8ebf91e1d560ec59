package work

import "github.com/meowcoin/stratum-proxy/pkg/util"

// EpochLength is the KAWPOW DAG epoch length in blocks.
const EpochLength = 7500

// SeedHash computes the epoch seed for a height from scratch: Keccak-256
// iterated height/EpochLength times over the 32-byte zero block.
func SeedHash(height int64) []byte {
	seed := make([]byte, 32)
	for i := int64(0); i < height/EpochLength; i++ {
		h := util.Keccak256(seed)
		seed = h[:]
	}
	return seed
}

// nextSeed advances a seed by one epoch.
func nextSeed(seed []byte) []byte {
	h := util.Keccak256(seed)
	return h[:]
}

// updateSeed applies the epoch seed rule to the state for a height change
// that has not yet been committed (s.Height is still the previous height).
//
// Forward progress re-hashes the cached seed rather than recomputing the
// whole chain; a reorg recomputes from scratch only when it crossed an epoch
// boundary backwards. Within an epoch the seed never changes.
func updateSeed(s *TemplateState, newHeight int64) {
	switch {
	case s.Height == -1 || newHeight > s.Height:
		if s.SeedHash == nil {
			s.SeedHash = SeedHash(newHeight)
		} else if s.Height%EpochLength == 0 {
			s.SeedHash = nextSeed(s.SeedHash)
		}
	case s.Height > newHeight:
		if s.Height%EpochLength-(s.Height-newHeight) < 0 {
			s.SeedHash = SeedHash(newHeight)
		}
	}
}
