package bloomfilter_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zhenjl/cityhash"

	"github.com/Schaudge/streammd/bloomfilter"
)

// cityHash128 adapts CityHash to the Hasher shape so the distribution
// comparison below can run the same workload over a third hash family.
func cityHash128(key []byte) (uint64, uint64) {
	h := cityhash.CityHash128(key, uint32(len(key)))
	return h.Lower64(), h.Higher64()
}

// TestBaseHashComparison checks that every supported base hash realizes the
// advertised false-positive bound. A weak or low-entropy hash shows up here
// as an observed rate well above target.
func TestBaseHashComparison(t *testing.T) {
	const (
		n = 100_000
		p = 0.01
	)
	hashers := []struct {
		name string
		hash bloomfilter.Hasher
	}{
		{"xxh3", bloomfilter.XXH3},
		{"metro", bloomfilter.Metro(0x5eed)},
		{"cityhash", cityHash128},
	}

	for _, h := range hashers {
		t.Run(h.name, func(t *testing.T) {
			bf, err := bloomfilter.NewWithHasher(n, p, h.hash)
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				bf.Add([]byte(fmt.Sprintf("inserted_%d", i)))
			}
			misses, fps := 0, 0
			for i := 0; i < n; i++ {
				if !bf.Contains([]byte(fmt.Sprintf("inserted_%d", i))) {
					misses++
				}
				if bf.Contains([]byte(fmt.Sprintf("absent_%d", i))) {
					fps++
				}
			}
			fpr := float64(fps) / float64(n)
			t.Logf("%-8s fpr=%.4f (target %.4f), estimate=%.0f", h.name, fpr, p, bf.CountEstimate())

			require.Zero(t, misses, "false negatives must never occur")
			require.LessOrEqual(t, fpr, 2*p)
		})
	}
}
