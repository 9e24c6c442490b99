package bloomfilter_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/Schaudge/streammd/bloomfilter"
)

// BenchmarkStoreGuard measures the filter in its intended role: sitting in
// front of a backing store and turning miss-heavy lookups into cheap hash
// probes. Every benchmarked key is absent, so the guarded path only touches
// the store on a false positive.
func BenchmarkStoreGuard(b *testing.B) {
	const (
		n      = 100_000
		p      = 0.001
		bucket = "signatures"
	)

	db, err := bbolt.Open(filepath.Join(b.TempDir(), "guard.db"), 0o600, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()

	bf, err := bloomfilter.New(n, p)
	if err != nil {
		b.Fatal(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("present_%d", i))
			if err := bkt.Put(key, []byte{1}); err != nil {
				return err
			}
			bf.Add(key)
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}

	absent := make([][]byte, 10_000)
	for i := range absent {
		absent[i] = []byte(fmt.Sprintf("absent_%d", i))
	}

	lookup := func(key []byte) bool {
		found := false
		_ = db.View(func(tx *bbolt.Tx) error {
			found = tx.Bucket([]byte(bucket)).Get(key) != nil
			return nil
		})
		return found
	}

	b.Run("direct", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			lookup(absent[i%len(absent)])
		}
	})

	b.Run("guarded", func(b *testing.B) {
		storeHits := 0
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			key := absent[i%len(absent)]
			if bf.Contains(key) {
				lookup(key)
				storeHits++
			}
		}
		b.ReportMetric(float64(storeHits)/float64(b.N)*100, "store_hit_%")
	})
}
