// Command genmock generates a synthetic historical traffic CSV for local
// development and loader testing: a configurable number of streets, each
// with a daily speed pattern (free flow overnight, congested peaks) sampled
// at a fixed interval.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/historical_traffic.csv -streets 8 -days 3
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var streetNames = []string{
	"Michigan Ave", "State St", "Halsted St", "Western Ave", "Ashland Ave",
	"Clark St", "Pulaski Rd", "Cicero Ave", "Irving Park Rd", "Archer Ave",
	"Milwaukee Ave", "Lake Shore Dr",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	out := flag.String("out", "data/mock/historical_traffic.csv", "output CSV path")
	streets := flag.Int("streets", 8, "number of streets to generate")
	days := flag.Int("days", 3, "days of history")
	interval := flag.Duration("interval", 15*time.Minute, "sampling interval")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *streets < 1 || *streets > len(streetNames) {
		return fmt.Errorf("-streets must be between 1 and %d", len(streetNames))
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(*seed))
	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"segmentid", "street", "length", "speed", "bus_count", "time"}
	if err := w.Write(header); err != nil {
		return err
	}

	end := time.Now().UTC().Truncate(*interval)
	start := end.Add(-time.Duration(*days) * 24 * time.Hour)

	rows := 0
	for i := 0; i < *streets; i++ {
		street := streetNames[i]
		segmentID := fmt.Sprintf("%d", 1000+i)
		length := 0.3 + rng.Float64()*2.2
		freeFlow := 28 + rng.Float64()*12

		for ts := start; ts.Before(end); ts = ts.Add(*interval) {
			if err := w.Write([]string{
				segmentID,
				street,
				strconv.FormatFloat(length, 'f', 2, 64),
				strconv.FormatFloat(speedAt(ts, freeFlow, rng), 'f', 1, 64),
				strconv.Itoa(rng.Intn(12)),
				ts.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			rows++
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	fmt.Printf("wrote %d rows for %d streets to %s\n", rows, *streets, *out)
	return nil
}

// speedAt models a daily congestion curve: near free flow overnight, dipping
// through morning and evening peaks, with a little noise.
func speedAt(ts time.Time, freeFlow float64, rng *rand.Rand) float64 {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60

	peak := math.Exp(-math.Pow(hour-8.5, 2)/4) + math.Exp(-math.Pow(hour-17.5, 2)/4)
	speed := freeFlow*(1-0.55*peak) + rng.NormFloat64()*2

	if speed < 3 {
		speed = 3
	}
	return speed
}
