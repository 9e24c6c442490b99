// Command memcalc prints the Bloom filter memory requirement and number of
// hash functions k for n items at a target maximum false-positive rate p.
//
//	memcalc 1000000000 1e-6       # minimum mem required
//	memcalc 1000000000 1e-6 4GiB  # k when 4GiB is allowed
//
// Allowing more than the minimum memory reduces k and so improves
// performance; as a rule of thumb 1.25x the minimum roughly halves k.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Schaudge/streammd/bloomfilter"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: memcalc N_ITEMS FP_RATE [MEM]")
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 2 || flag.NArg() > 3 {
		usage()
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "memcalc: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	// accept scientific notation for n, e.g. 1e9
	nFloat, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil || nFloat < 0 {
		log.Fatalw("invalid N_ITEMS", "value", flag.Arg(0))
	}
	n := uint64(nFloat)
	p, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		log.Fatalw("invalid FP_RATE", "value", flag.Arg(1))
	}

	var (
		m, k   uint64
		memStr string
	)
	if flag.NArg() == 3 {
		memStr = flag.Arg(2)
		memBytes, err := humanize.ParseBytes(memStr)
		if err != nil {
			log.Fatalw("invalid MEM", "value", memStr, "error", err)
		}
		m, k, err = bloomfilter.MKMem(n, p, memBytes)
		if errors.Is(err, bloomfilter.ErrNoMemSolution) {
			log.Warnw("no solution", "error", err)
			os.Exit(1)
		}
		if err != nil {
			log.Fatalw("memcalc failed", "error", err)
		}
	} else {
		m, k, err = bloomfilter.MKMin(n, p)
		if err != nil {
			log.Fatalw("memcalc failed", "error", err)
		}
		memStr = formatBits(m)
	}

	log.Infow("parameters", "n", n, "p", p)
	fmt.Printf("mem=%s; k=%d\n", memStr, k)
}

// formatBits renders a bit count as a byte size, using binary units when the
// count is a power of two.
func formatBits(m uint64) string {
	if m&(m-1) == 0 {
		return humanize.IBytes(m / 8)
	}
	return humanize.Bytes(m / 8)
}
