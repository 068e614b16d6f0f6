// Benchmark tool for testing Shrike against labeled utterance data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/utterances.csv -url http://localhost:8080
//
// The CSV needs two columns: text, intent (header row required). The
// tool sends each utterance to Shrike and compares the decided intent
// with the label, reporting accuracy, ambiguity rate, and throughput.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledUtterance is one row of the benchmark dataset.
type LabeledUtterance struct {
	Text    string
	Intent  string
	Channel string
	Locale  string
}

// ClassifyRequest is the Shrike API request format.
type ClassifyRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

// ClassifyResponse is the Shrike API response format.
type ClassifyResponse struct {
	Outcome    string  `json:"outcome"`
	RuleID     string  `json:"ruleId"`
	Intent     string  `json:"intent"`
	Margin     float64 `json:"margin"`
	DurationUs int64   `json:"durationUs"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Correct    int64
	Wrong      int64
	Ambiguous  int64
	NoMatch    int64
	Errors     int64
	Total      int64
	LatencySum int64 // milliseconds
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled utterance CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Shrike base URL")
	limit := flag.Int("limit", 0, "Maximum utterances to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each utterance result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/utterances.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            SHRIKE BENCHMARK - Intent Classification           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Shrike URL:  %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Shrike not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Shrike is running:")
		fmt.Println("  go run cmd/shrike/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Shrike is healthy")

	fmt.Printf("\nReading utterances from %s...\n", *csvPath)
	utterances, err := readUtteranceCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d utterances\n", len(utterances))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(utterances, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readUtteranceCSV(path string, limit int) ([]LabeledUtterance, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	textCol, ok := colIndex["text"]
	if !ok {
		return nil, fmt.Errorf("missing required column: text")
	}
	intentCol, ok := colIndex["intent"]
	if !ok {
		return nil, fmt.Errorf("missing required column: intent")
	}

	var utterances []LabeledUtterance
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if len(record) <= textCol || len(record) <= intentCol {
			continue
		}

		u := LabeledUtterance{
			Text:   record[textCol],
			Intent: record[intentCol],
		}
		if i, ok := colIndex["channel"]; ok && i < len(record) {
			u.Channel = record[i]
		}
		if i, ok := colIndex["locale"]; ok && i < len(record) {
			u.Locale = record[i]
		}
		utterances = append(utterances, u)

		if limit > 0 && len(utterances) >= limit {
			break
		}
	}

	return utterances, nil
}

func runBenchmark(utterances []LabeledUtterance, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledUtterance, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for u := range work {
				start := time.Now()
				result, err := classifyUtterance(client, baseURL, u)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.LatencySum, elapsed)
				atomic.AddInt64(&metrics.Total, 1)

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %q -> %v\n", u.Text, err)
					}
					continue
				}

				switch result.Outcome {
				case "ambiguous":
					atomic.AddInt64(&metrics.Ambiguous, 1)
				case "no_match":
					atomic.AddInt64(&metrics.NoMatch, 1)
				default:
					if result.Intent == u.Intent {
						atomic.AddInt64(&metrics.Correct, 1)
					} else {
						atomic.AddInt64(&metrics.Wrong, 1)
					}
				}

				if verbose {
					status := "✓"
					if result.Outcome != "matched" || result.Intent != u.Intent {
						status = "✗"
					}
					text := u.Text
					if len(text) > 30 {
						text = text[:30]
					}
					fmt.Printf("%s %-30s | want: %-20s | got: %-20s (%s, margin %.1f)\n",
						status, text, u.Intent, result.Intent, result.Outcome, result.Margin)
				}
			}
		}()
	}

	for _, u := range utterances {
		work <- u
	}
	close(work)

	wg.Wait()

	return metrics
}

func classifyUtterance(client *http.Client, baseURL string, u LabeledUtterance) (*ClassifyResponse, error) {
	body, err := json.Marshal(ClassifyRequest{
		Text:    u.Text,
		Channel: u.Channel,
		Locale:  u.Locale,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.Total)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	fmt.Printf("\n🎯 CLASSIFICATION OUTCOMES\n")
	fmt.Printf("   Correct:    %d\n", m.Correct)
	fmt.Printf("   Wrong:      %d\n", m.Wrong)
	fmt.Printf("   Ambiguous:  %d\n", m.Ambiguous)
	fmt.Printf("   No Match:   %d\n", m.NoMatch)

	scored := m.Correct + m.Wrong
	if scored > 0 {
		fmt.Printf("\n   Accuracy (of matched):  %.4f\n", float64(m.Correct)/float64(scored))
	}
	if m.Total > 0 {
		fmt.Printf("   Coverage (matched):     %.4f\n", float64(scored)/float64(m.Total))
		fmt.Printf("   Ambiguity rate:         %.4f\n", float64(m.Ambiguous)/float64(m.Total))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Total > 0 {
		avgMs := float64(m.LatencySum) / float64(m.Total)
		tps := float64(m.Total) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)
	}

	fmt.Println()
}
