package bloomfilter

import (
	"github.com/dgryski/go-metro"
	"github.com/zeebo/xxh3"
)

// Hasher computes the two 64-bit base hash values from which a filter
// derives its probe positions. Implementations must be deterministic:
// the same key always yields the same pair.
type Hasher func(key []byte) (h1, h2 uint64)

// XXH3 is the default Hasher. It splits a single unseeded 128-bit XXH3
// digest into the two base values, so filters built with it hash keys
// identically across processes.
func XXH3(key []byte) (uint64, uint64) {
	h := xxh3.Hash128(key)
	return h.Lo, h.Hi
}

// Metro returns a Hasher backed by seeded MetroHash128. Distinct seeds give
// statistically independent filters over the same key set, which is useful
// when one filter's false positives must not correlate with another's.
func Metro(seed uint64) Hasher {
	return func(key []byte) (uint64, uint64) {
		return metro.Hash128(key, seed)
	}
}
