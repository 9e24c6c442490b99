// Package markdups marks duplicate templates on a qname-grouped SAM stream
// in a single pass, using a Bloom filter of template end signatures instead
// of a coordinate-sorted pass over the whole input.
//
// Header lines are passed through untouched. For every qname group the end
// signature of the template is offered to a shared filter; a signature that
// was already present means the whole group is flagged 0x400. Output keeps
// groups intact but does not preserve group order when more than one worker
// is configured.
package markdups

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Schaudge/streammd/bloomfilter"
)

// Defaults sized for a 30x human whole-genome run, the workload streammd
// was written for.
const (
	DefaultExpectedTemplates = 1_000_000_000
	DefaultFPRate            = 1e-6
	DefaultWorkers           = 8
	DefaultBatchSize         = 50
)

// maxLineSize bounds a single SAM line; long-read data can carry megabase
// sequences.
const maxLineSize = 64 << 20

// Options configures a Run. Zero fields take the package defaults.
type Options struct {
	// ExpectedTemplates is the number of distinct templates the filter is
	// sized for (n).
	ExpectedTemplates uint64
	// FPRate is the target false-positive rate at ExpectedTemplates (p).
	// A false positive marks a non-duplicate template as duplicate.
	FPRate float64
	// Workers is the number of goroutines consuming qname groups.
	Workers int
	// BatchSize is the number of qname groups per work item.
	BatchSize int
}

func (o Options) withDefaults() Options {
	if o.ExpectedTemplates == 0 {
		o.ExpectedTemplates = DefaultExpectedTemplates
	}
	if o.FPRate == 0 {
		o.FPRate = DefaultFPRate
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Stats summarizes one Run.
type Stats struct {
	// Templates is the number of qname groups processed.
	Templates uint64
	// Duplicates is the number of groups flagged 0x400.
	Duplicates uint64
	// Skipped is the number of groups with no usable end signature
	// (single-end or unmapped); they pass through unmarked.
	Skipped uint64
	// UniqueEstimate is the filter's estimate of distinct signatures seen.
	UniqueEstimate float64
}

// group holds the raw lines of one qname group.
type group []string

type pipeline struct {
	bf *bloomfilter.BloomFilter
	w  *bufio.Writer

	// The filter makes no thread-safety guarantee, so all Add calls are
	// serialized here. Writes are whole-group atomic under wmu.
	bfmu sync.Mutex
	wmu  sync.Mutex

	templates  atomic.Uint64
	duplicates atomic.Uint64
	skipped    atomic.Uint64
}

// Run reads qname-grouped SAM from in, marks duplicate templates and writes
// the stream to out. It returns after the input is exhausted and all output
// is flushed.
func Run(in io.Reader, out io.Writer, opts Options, log *zap.SugaredLogger) (Stats, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	bf, err := bloomfilter.New(opts.ExpectedTemplates, opts.FPRate)
	if err != nil {
		return Stats{}, err
	}
	log.Infow("bloom filter initialized",
		"n", opts.ExpectedTemplates, "p", opts.FPRate,
		"m", bf.BitCount(), "k", bf.HashCount())

	p := &pipeline{bf: bf, w: bufio.NewWriterSize(out, 1<<20)}

	batches := make(chan []group, opts.Workers)
	errc := make(chan error, opts.Workers)
	var failed atomic.Bool
	fail := func(err error) {
		if failed.CompareAndSwap(false, true) {
			errc <- err
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				if failed.Load() {
					continue
				}
				for _, g := range batch {
					if err := p.processGroup(g); err != nil {
						fail(err)
						break
					}
				}
			}
		}()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)

	var batch []group
	var cur group
	var curQName string
	flushGroup := func() {
		if len(cur) == 0 {
			return
		}
		batch = append(batch, cur)
		cur = nil
		if len(batch) >= opts.BatchSize {
			batches <- batch
			batch = nil
		}
	}

	for scanner.Scan() && !failed.Load() {
		line := scanner.Text()
		if strings.HasPrefix(line, "@") {
			p.wmu.Lock()
			p.w.WriteString(line)
			p.w.WriteByte('\n')
			p.wmu.Unlock()
			continue
		}
		qname := line
		if tab := strings.IndexByte(line, '\t'); tab >= 0 {
			qname = line[:tab]
		}
		if qname != curQName {
			flushGroup()
			curQName = qname
		}
		cur = append(cur, line)
	}
	flushGroup()
	if len(batch) > 0 {
		batches <- batch
	}
	close(batches)
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return Stats{}, fmt.Errorf("markdups: reading input: %w", err)
	}
	select {
	case err := <-errc:
		return Stats{}, err
	default:
	}
	if err := p.w.Flush(); err != nil {
		return Stats{}, fmt.Errorf("markdups: flushing output: %w", err)
	}

	stats := Stats{
		Templates:      p.templates.Load(),
		Duplicates:     p.duplicates.Load(),
		Skipped:        p.skipped.Load(),
		UniqueEstimate: bf.CountEstimate(),
	}
	if stats.UniqueEstimate > float64(opts.ExpectedTemplates) {
		log.Warnw("distinct templates exceed filter capacity, false-positive rate no longer bounded",
			"estimate", stats.UniqueEstimate, "n", opts.ExpectedTemplates)
	}
	return stats, nil
}

func (p *pipeline) processGroup(g group) error {
	recs := make([]*record, len(g))
	for i, line := range g {
		r, err := parseRecord(line)
		if err != nil {
			return err
		}
		recs[i] = r
	}
	sig, err := readEnds(recs)
	if err != nil {
		return err
	}
	p.templates.Add(1)

	dup := false
	if sig == "" {
		p.skipped.Add(1)
	} else {
		p.bfmu.Lock()
		dup = !p.bf.Add([]byte(sig))
		p.bfmu.Unlock()
	}
	if dup {
		p.duplicates.Add(1)
		for _, r := range recs {
			r.setDuplicate()
		}
	}

	var sb strings.Builder
	for _, r := range recs {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	p.wmu.Lock()
	_, err = p.w.WriteString(sb.String())
	p.wmu.Unlock()
	return err
}
