// Command mw-pcapread summarizes the attacker-view packet traces a
// run leaves behind: per-file packet-length and inter-arrival-time
// statistics, read straight from the trace CSVs rather than from a
// captured pcap, since this system logs those traces directly instead
// of dumping raw packets.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

func main() {
	traceDir := flag.String("traces", "", "Path to a run's traces directory")
	flag.Parse()

	if *traceDir == "" {
		log.Fatal("mw-pcapread: --traces is required")
	}

	entries, err := os.ReadDir(*traceDir)
	if err != nil {
		log.Fatalf("mw-pcapread: reading %s: %v", *traceDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		path := filepath.Join(*traceDir, e.Name())
		summary, err := summarize(path)
		if err != nil {
			log.Printf("mw-pcapread: %s: %v", e.Name(), err)
			continue
		}
		fmt.Printf("%s: %s\n", e.Name(), summary)
	}
}

type stats struct {
	count          int
	minLen, maxLen int
	meanLen        float64
	minIAT, maxIAT float64
	meanIAT        float64
}

func (s stats) String() string {
	return fmt.Sprintf(
		"count=%d len[min=%d mean=%.1f max=%d] iat_ms[min=%.2f mean=%.2f max=%.2f]",
		s.count, s.minLen, s.meanLen, s.maxLen, s.minIAT, s.meanIAT, s.maxIAT,
	)
}

func summarize(path string) (stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return stats{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	var s stats
	s.minLen = math.MaxInt32
	s.minIAT = math.MaxFloat64
	var sumLen, sumIAT float64

	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		length, err := strconv.Atoi(row[1])
		if err != nil {
			continue
		}
		iat, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}

		s.count++
		sumLen += float64(length)
		sumIAT += iat
		if length < s.minLen {
			s.minLen = length
		}
		if length > s.maxLen {
			s.maxLen = length
		}
		if iat < s.minIAT {
			s.minIAT = iat
		}
		if iat > s.maxIAT {
			s.maxIAT = iat
		}
	}

	if s.count == 0 {
		return stats{}, fmt.Errorf("no rows")
	}
	s.meanLen = sumLen / float64(s.count)
	s.meanIAT = sumIAT / float64(s.count)
	return s, nil
}
