// Package bloomfilter implements the probabilistic set-membership structure
// at the heart of streammd: a Bloom filter sized from an expected item count
// n and a target false-positive rate p.
//
// A Bloom filter answers "definitely not seen" or "probably seen" with a
// bounded false-positive rate and no false negatives, which is exactly what
// duplicate marking needs: a template end signature that is definitely new
// cannot be a duplicate.
//
// The k probe positions for a key are derived from two 64-bit base hashes
// via the double-hashing construction of Kirsch and Mitzenmacher (2006),
// position(i) = h1 + i*h2 mod m, so only one base hash computation is needed
// per operation.
//
// Instances are not safe for concurrent use; callers sharing a filter across
// goroutines must supply their own synchronization.
package bloomfilter

import (
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// KMax is the largest hash count considered by MKMem when solving for k
// under a fixed memory budget.
const KMax = 100

var (
	// ErrZeroItems is returned when the expected item count is zero.
	ErrZeroItems = errors.New("bloomfilter: expected item count must be positive")

	// ErrFPRate is returned when the target false-positive rate is not in
	// the open interval (0, 1).
	ErrFPRate = errors.New("bloomfilter: false-positive rate must be in (0, 1)")

	// ErrNoMemSolution is returned by MKMem when no k <= KMax satisfies the
	// target false-positive rate within the given memory.
	ErrNoMemSolution = errors.New("bloomfilter: no k satisfies n, p within mem")
)

// BloomFilter is a fixed-size Bloom filter. The sizing parameters are set at
// construction and never change; the bit array is the only mutable state.
type BloomFilter struct {
	n uint64  // expected number of items
	p float64 // target false-positive rate at n items
	m uint64  // bit array size
	k uint64  // probe positions per key

	hash Hasher
	bits *bitset.BitSet
	nset uint64 // bits currently set, maintained incrementally
}

// New returns a filter sized by MKMin for n expected items at a target
// false-positive rate of p, hashing keys with XXH3.
func New(n uint64, p float64) (*BloomFilter, error) {
	return NewWithHasher(n, p, XXH3)
}

// NewWithHasher is New with a caller-chosen base hash. The hash must be
// deterministic for the lifetime of the filter.
func NewWithHasher(n uint64, p float64, hash Hasher) (*BloomFilter, error) {
	m, k, err := MKMin(n, p)
	if err != nil {
		return nil, err
	}
	return &BloomFilter{
		n:    n,
		p:    p,
		m:    m,
		k:    k,
		hash: hash,
		bits: bitset.New(uint(m)),
	}, nil
}

// MKMin returns the memory-optimal bit array size m and hash count k for a
// filter holding n items with a false-positive rate of p.
//
// The n*ln(p) product is evaluated in single precision before the divide,
// matching the arithmetic of the C++ streammd implementation so both produce
// identical filter geometry for the same inputs. k uses ceil rather than the
// textbook round(m/n*ln2), again matching streammd; for borderline inputs
// this costs one extra probe and errs toward fewer false positives.
func MKMin(n uint64, p float64) (m, k uint64, err error) {
	if err := checkParams(n, p); err != nil {
		return 0, 0, err
	}
	ln2 := math.Ln2
	nLogP := float32(-float64(n) * math.Log(p))
	m = uint64(math.Ceil(float64(nLogP) / (ln2 * ln2)))
	k = uint64(math.Ceil(ln2 * float64(m) / float64(n)))
	return m, k, nil
}

// MKMem returns the bit array size m filling exactly mem bytes, and the
// smallest hash count k that achieves a false-positive rate below p for n
// items at that size. Unlike MKMin there is no closed form for k, so it is
// solved by evaluating p(k) = (1 - (1 - 1/m)^(k*n))^k for k = 1..KMax.
//
// Allowing more than the MKMin memory buys a smaller k and therefore faster
// operations; k is very sensitive to m near the optimum.
func MKMem(n uint64, p float64, mem uint64) (m, k uint64, err error) {
	if err := checkParams(n, p); err != nil {
		return 0, 0, err
	}
	if mem == 0 {
		return 0, 0, fmt.Errorf("bloomfilter: mem must be positive")
	}
	m = mem * 8
	q := 1.0 - 1.0/float64(m)
	for k = 1; k <= KMax; k++ {
		fp := math.Pow(1.0-math.Pow(q, float64(k)*float64(n)), float64(k))
		if fp < p {
			return m, k, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: n=%d p=%g mem=%d k<=%d", ErrNoMemSolution, n, p, mem, KMax)
}

func checkParams(n uint64, p float64) error {
	if n == 0 {
		return ErrZeroItems
	}
	if p <= 0 || p >= 1 || math.IsNaN(p) {
		return fmt.Errorf("%w: got %g", ErrFPRate, p)
	}
	return nil
}

// Add inserts key into the filter. It returns true if the key was probably
// new, i.e. at least one of its probe positions was previously unset.
// A false return means every position was already set, either because the
// key was added before or because other keys collided onto all k positions.
func (bf *BloomFilter) Add(key []byte) bool {
	h1, h2 := bf.hash(key)
	added := false
	for i := uint64(0); i < bf.k; i++ {
		pos := uint((h1 + i*h2) % bf.m)
		if !bf.bits.Test(pos) {
			bf.bits.Set(pos)
			bf.nset++
			added = true
		}
	}
	return added
}

// Contains reports whether key is possibly in the filter. A false return
// guarantees the key was never added; a true return is subject to the
// configured false-positive rate.
func (bf *BloomFilter) Contains(key []byte) bool {
	h1, h2 := bf.hash(key)
	for i := uint64(0); i < bf.k; i++ {
		if !bf.bits.Test(uint((h1 + i*h2) % bf.m)) {
			return false
		}
	}
	return true
}

// CountEstimate returns the maximum-likelihood estimate of the number of
// distinct keys added so far, -(m/k)*ln(1 - X/m) for X set bits
// (Swamidass & Baldi 2007). When the filter is saturated (X == m) the
// estimate diverges and +Inf is returned.
func (bf *BloomFilter) CountEstimate() float64 {
	return -(float64(bf.m) / float64(bf.k)) * math.Log(1.0-float64(bf.nset)/float64(bf.m))
}

// ExpectedItems returns n, the item count the filter was sized for.
func (bf *BloomFilter) ExpectedItems() uint64 { return bf.n }

// FPRate returns p, the target false-positive rate at n items.
func (bf *BloomFilter) FPRate() float64 { return bf.p }

// BitCount returns m, the size of the bit array in bits.
func (bf *BloomFilter) BitCount() uint64 { return bf.m }

// HashCount returns k, the number of probe positions per key.
func (bf *BloomFilter) HashCount() uint64 { return bf.k }

// SetBitCount returns the number of bits currently set. It is tracked
// incrementally by Add, so this is O(1).
func (bf *BloomFilter) SetBitCount() uint64 { return bf.nset }
