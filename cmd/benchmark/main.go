// Benchmark tool for measuring Fiscal classification throughput and accuracy.
//
// Usage:
//   go run ./cmd/benchmark -csv /path/to/labelled.csv -url http://localhost:8080
//
// The CSV needs a header row with the columns description, category, amount,
// type, payment_method and expected_isr (true, false or empty). This tool:
//   1. Reads the labelled transactions
//   2. Posts each one to POST /transactions
//   3. Compares the ISR deductibility Fiscal assigned with the label
//   4. Reports accuracy, coverage and latency
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabelledTransaction is one row of the benchmark CSV.
type LabelledTransaction struct {
	Line          int
	Description   string
	Category      string
	Amount        string
	Type          string
	PaymentMethod string

	// ExpectedISR is nil when the row carries no label.
	ExpectedISR *bool
}

// TransactionRequest is the Fiscal API request format.
type TransactionRequest struct {
	Description     string `json:"description"`
	CategoryName    string `json:"categoryName,omitempty"`
	Amount          string `json:"amount,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	PaymentMethod   string `json:"paymentMethod,omitempty"`
}

// TransactionResponse is the subset of the Fiscal API response the benchmark reads.
type TransactionResponse struct {
	TxID       string `json:"txId"`
	Status     string `json:"status"`
	Evaluation *struct {
		Classification struct {
			IsIsrDeductible *bool `json:"isIsrDeductible"`
		} `json:"classification"`
		Suggestions []struct {
			Severity string `json:"severity"`
		} `json:"suggestions"`
	} `json:"evaluation"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Correct      int64 // Label matches the classification
	Wrong        int64 // Label contradicts the classification
	Unclassified int64 // Labelled, but no rule set ISR deductibility
	Unlabelled   int64
	Queued       int64 // Async mode: no classification in the response

	TotalProcessed   int64
	TotalErrors      int64
	ErrorSuggestions int64

	ProcessingTimeMs int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	atomic.AddInt64(&m.ProcessingTimeMs, d.Milliseconds())
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Fiscal base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labelled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("FISCAL BENCHMARK - labelled deductibility")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Fiscal URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Fiscal not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Fiscal is running:")
		fmt.Println("  go run ./cmd/fiscal serve")
		os.Exit(1)
	}
	fmt.Println("Fiscal is healthy")

	transactions, err := readLabelledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *tenantID, *workers, *verbose)
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

var requiredColumns = []string{"description", "category", "amount", "type", "payment_method", "expected_isr"}

func readLabelledCSV(path string, limit int) ([]LabelledTransaction, error) {
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
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(record []string, col string) string {
		i := colIndex[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var transactions []LabelledTransaction
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		tx := LabelledTransaction{
			Line:          line,
			Description:   field(record, "description"),
			Category:      field(record, "category"),
			Amount:        field(record, "amount"),
			Type:          strings.ToLower(field(record, "type")),
			PaymentMethod: field(record, "payment_method"),
		}
		switch strings.ToLower(field(record, "expected_isr")) {
		case "true", "1", "si", "yes":
			v := true
			tx.ExpectedISR = &v
		case "false", "0", "no":
			v := false
			tx.ExpectedISR = &v
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabelledTransaction, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabelledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := submitTransaction(client, baseURL, tenantID, tx)
				metrics.observe(time.Since(start))
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR line %d: %v\n", tx.Line, err)
					}
					continue
				}

				verdict := score(metrics, tx, result)
				if verbose {
					fmt.Printf("%-12s line %-6d | %-40.40s | %s\n", verdict, tx.Line, tx.Description, result.TxID)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func score(m *Metrics, tx LabelledTransaction, result *TransactionResponse) string {
	if result.Evaluation == nil {
		atomic.AddInt64(&m.Queued, 1)
		return "queued"
	}
	for _, s := range result.Evaluation.Suggestions {
		if s.Severity == "error" {
			atomic.AddInt64(&m.ErrorSuggestions, 1)
			break
		}
	}

	if tx.ExpectedISR == nil {
		atomic.AddInt64(&m.Unlabelled, 1)
		return "unlabelled"
	}
	got := result.Evaluation.Classification.IsIsrDeductible
	switch {
	case got == nil:
		atomic.AddInt64(&m.Unclassified, 1)
		return "unclassified"
	case *got == *tx.ExpectedISR:
		atomic.AddInt64(&m.Correct, 1)
		return "correct"
	default:
		atomic.AddInt64(&m.Wrong, 1)
		return "wrong"
	}
}

func submitTransaction(client *http.Client, baseURL, tenantID string, tx LabelledTransaction) (*TransactionResponse, error) {
	req := TransactionRequest{
		Description:     tx.Description,
		CategoryName:    tx.Category,
		Amount:          tx.Amount,
		TransactionType: tx.Type,
		PaymentMethod:   tx.PaymentMethod,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transactions", bytes.NewReader(body))
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

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Queued (async):   %d\n", m.Queued)
	fmt.Printf("   Unlabelled:       %d\n", m.Unlabelled)

	labelled := m.Correct + m.Wrong + m.Unclassified
	fmt.Printf("\nISR DEDUCTIBILITY\n")
	fmt.Printf("   Correct:          %d\n", m.Correct)
	fmt.Printf("   Wrong:            %d\n", m.Wrong)
	fmt.Printf("   Unclassified:     %d\n", m.Unclassified)
	if labelled > 0 {
		fmt.Printf("   Accuracy:         %.4f  (correct over labelled)\n", float64(m.Correct)/float64(labelled))
		fmt.Printf("   Coverage:         %.4f  (classified over labelled)\n", float64(m.Correct+m.Wrong)/float64(labelled))
	}
	if classified := m.Correct + m.Wrong; classified > 0 {
		fmt.Printf("   Precision:        %.4f  (correct over classified)\n", float64(m.Correct)/float64(classified))
	}
	fmt.Printf("   Error suggestions: %d\n", m.ErrorSuggestions)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   p50 Latency:      %v\n", percentile(m.latencies, 0.50))
		fmt.Printf("   p99 Latency:      %v\n", percentile(m.latencies, 0.99))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
