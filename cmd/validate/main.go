// Command validate dry-runs loader validation over a historical traffic CSV
// without touching the store, reporting what a real load would upsert and
// skip. Useful before pointing cmd/loader at a fresh export.
//
// Usage:
//
//	go run ./cmd/validate -file data/historical_traffic.csv
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/citypulse/traffic-stream-etl/internal/loader"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("file", "", "path to the historical traffic CSV export")
	flag.Parse()
	if *file == "" {
		flag.Usage()
		return fmt.Errorf("-file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	logger := observability.NewLogger("info", "text")
	metrics := observability.NewMetrics()

	result, err := loader.New(nil, logger, metrics).Validate(f)
	if err != nil {
		return err
	}

	fmt.Printf("valid rows: %d\ninvalid rows: %d\n", result.Loaded, result.Skipped)
	if result.Skipped > 0 && result.Loaded == 0 {
		return fmt.Errorf("no loadable rows found")
	}
	return nil
}
