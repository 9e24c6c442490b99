// Command streammd marks duplicate templates on a qname-grouped SAM stream
// read from stdin, writing the marked stream to stdout.
//
//	samtools view -h in.bam | streammd -n 1000000000 -p 1e-6 | samtools view -b -o out.bam
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Schaudge/streammd/markdups"
)

func main() {
	var (
		nItems  = flag.Uint64("n", markdups.DefaultExpectedTemplates, "number of templates expected in the input")
		fpRate  = flag.Float64("p", markdups.DefaultFPRate, "target false-positive rate when n templates are stored")
		workers = flag.Int("workers", markdups.DefaultWorkers, "number of worker goroutines")
		batch   = flag.Int("batch", markdups.DefaultBatchSize, "qname groups per work item")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "streammd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	stats, err := markdups.Run(os.Stdin, os.Stdout, markdups.Options{
		ExpectedTemplates: *nItems,
		FPRate:            *fpRate,
		Workers:           *workers,
		BatchSize:         *batch,
	}, log)
	if err != nil {
		log.Fatalw("markdups failed", "error", err)
	}

	log.Infow("markdups complete",
		"templates", stats.Templates,
		"duplicates", stats.Duplicates,
		"skipped", stats.Skipped,
		"unique_estimate", fmt.Sprintf("%.0f", stats.UniqueEstimate),
	)
}
