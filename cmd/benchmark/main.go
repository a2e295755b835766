// Benchmark tool for testing Kestrel against labeled event data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/events.csv -url http://localhost:6000
//
// This tool:
//   1. Reads labeled event data (CSV with an is_malicious column)
//   2. Sends each event to Kestrel for evaluation
//   3. Compares Kestrel's verdict (suspicious/normal) with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// The CSV must have an event_type column ("handshake" or "file") and an
// is_malicious column (0/1). Every other column is forwarded verbatim as
// a feature in the request mapping.
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledEvent is a row from the benchmark dataset.
type LabeledEvent struct {
	Type        string
	Features    map[string]any
	IsMalicious bool
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	EvaluationID string  `json:"evaluationId"`
	AnomalyScore float64 `json:"anomaly_score"`
	Verdict      string  `json:"verdict"`
	Confidence   float64 `json:"confidence"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Malicious scored suspicious
	FalsePositives int64 // Benign scored suspicious
	TrueNegatives  int64 // Benign scored normal
	FalseNegatives int64 // Malicious scored normal (missed!)

	TotalProcessed int64
	TotalMalicious int64
	TotalBenign    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled event CSV file")
	baseURL := flag.String("url", "http://localhost:6000", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum events to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	maliciousOnly := flag.Bool("malicious-only", false, "Only test malicious events")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for benign events (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/events.csv [-url http://localhost:6000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Anomaly Detection")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading events from %s...\n", *csvPath)
	events, err := readLabeledCSV(*csvPath, *limit, *maliciousOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d events\n", len(events))

	maliciousCount := 0
	for _, ev := range events {
		if ev.IsMalicious {
			maliciousCount++
		}
	}
	fmt.Printf("  - Malicious: %d (%.2f%%)\n", maliciousCount, 100*float64(maliciousCount)/float64(len(events)))
	fmt.Printf("  - Benign:    %d (%.2f%%)\n", len(events)-maliciousCount, 100*float64(len(events)-maliciousCount)/float64(len(events)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(events, *baseURL, *tenantID, *workers, *verbose)
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

func readLabeledCSV(path string, limit int, maliciousOnly bool, sampleRate float64) ([]LabeledEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	typeIdx, ok := colIndex["event_type"]
	if !ok {
		return nil, fmt.Errorf("CSV missing event_type column")
	}
	labelIdx, ok := colIndex["is_malicious"]
	if !ok {
		return nil, fmt.Errorf("CSV missing is_malicious column")
	}

	var events []LabeledEvent
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isMalicious := record[labelIdx] == "1"

		if maliciousOnly && !isMalicious {
			continue
		}

		// Sample benign events
		if !isMalicious && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		// Every remaining column is a feature. Numbers go through as
		// floats, true/false as booleans, everything else as strings.
		feats := make(map[string]any, len(header)-2)
		for name, idx := range colIndex {
			if idx == typeIdx || idx == labelIdx || idx >= len(record) {
				continue
			}
			raw := strings.TrimSpace(record[idx])
			if raw == "" {
				continue
			}
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				feats[name] = f
			} else if b, err := strconv.ParseBool(raw); err == nil {
				feats[name] = b
			} else {
				feats[name] = raw
			}
		}

		events = append(events, LabeledEvent{
			Type:        strings.ToLower(record[typeIdx]),
			Features:    feats,
			IsMalicious: isMalicious,
		})

		if limit > 0 && len(events) >= limit {
			break
		}
	}

	return events, nil
}

func runBenchmark(events []LabeledEvent, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledEvent, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for ev := range work {
				start := time.Now()
				result, err := evaluateEvent(client, baseURL, tenantID, ev)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				if ev.IsMalicious {
					atomic.AddInt64(&metrics.TotalMalicious, 1)
				} else {
					atomic.AddInt64(&metrics.TotalBenign, 1)
				}

				predicted := result.Verdict == "suspicious"
				actual := ev.IsMalicious

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "OK "
					if (predicted && !actual) || (!predicted && actual) {
						status = "MISS"
					}
					fmt.Printf("%s | Type: %-9s | Malicious: %-5v | Kestrel: %-10s (%.3f)\n",
						status,
						ev.Type,
						ev.IsMalicious,
						result.Verdict,
						result.AnomalyScore,
					)
				}
			}
		}()
	}

	for _, ev := range events {
		work <- ev
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateEvent(client *http.Client, baseURL, tenantID string, ev LabeledEvent) (*EvaluateResponse, error) {
	body, err := json.Marshal(ev.Features)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate/"+ev.Type, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Malicious:  %d\n", m.TotalMalicious)
	fmt.Printf("   Total Benign:     %d\n", m.TotalBenign)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 suspicious     normal")
	fmt.Printf("   Actual  Mal  | %10d | %10d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           Ben  | %10d | %10d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of suspicious verdicts, how many were actual attacks)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of attacks, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalMalicious > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalMalicious) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalMalicious) * 100
		fmt.Printf("   Attacks Detected:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalMalicious, detectionRate)
		fmt.Printf("   Attacks Missed:    %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalMalicious, missRate)
	}
	if m.TotalBenign > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalBenign) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalBenign, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		eps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f events/sec\n", eps)
	}

	fmt.Println()
}
