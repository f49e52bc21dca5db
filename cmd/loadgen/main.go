// Load generator that replays labeled payment data against Kestrel.
//
// Usage:
//
//	go run ./cmd/loadgen -csv /path/to/paysim.csv -url http://localhost:8080
//
// Each row becomes a POST /checks call. The returned decision is compared
// with the row's fraud label to report a confusion matrix, the decision mix
// and latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Sample is one labeled payment row.
type Sample struct {
	Step     int
	Type     string
	Amount   decimal.Decimal
	Subject  string
	Payee    string
	IsFraud  bool
	RowIndex int
}

// checkRequest mirrors the FraudContext body accepted by POST /checks.
type checkRequest struct {
	SubjectID  string          `json:"subjectId"`
	OrderID    string          `json:"orderId,omitempty"`
	PaymentID  string          `json:"paymentId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ActionType string          `json:"actionType,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
}

type checkResponse struct {
	ID       string  `json:"checkId"`
	Score    float64 `json:"score"`
	Decision string  `json:"decision"`
	Degraded bool    `json:"degraded"`
}

// Report accumulates results across workers.
type Report struct {
	mu sync.Mutex

	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int

	Decisions map[string]int
	Degraded  int
	Errors    int
	Latencies []time.Duration
}

func (r *Report) record(s Sample, res *checkResponse, elapsed time.Duration, err error, reviewIsPositive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Latencies = append(r.Latencies, elapsed)
	if err != nil {
		r.Errors++
		return
	}

	r.Decisions[res.Decision]++
	if res.Degraded {
		r.Degraded++
	}

	predicted := res.Decision == "BLOCK" || (reviewIsPositive && res.Decision == "MANUAL_REVIEW")
	switch {
	case predicted && s.IsFraud:
		r.TruePositives++
	case predicted && !s.IsFraud:
		r.FalsePositives++
	case !predicted && !s.IsFraud:
		r.TrueNegatives++
	default:
		r.FalseNegatives++
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to a PaySim-format CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "loadgen", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum rows to replay (0 = all)")
	concurrency := flag.Int("concurrency", 10, "Concurrent requests")
	currency := flag.String("currency", "USD", "Currency sent with each check")
	reviewPositive := flag.Bool("review-positive", false, "Count MANUAL_REVIEW as a fraud prediction")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: loadgen -csv /path/to/paysim.csv [-url http://localhost:8080]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	samples, err := readSamples(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows from %s\n", len(samples), *csvPath)

	report := &Report{Decisions: make(map[string]int)}
	start := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)
	for _, s := range samples {
		g.Go(func() error {
			t0 := time.Now()
			res, err := runCheck(ctx, client, *baseURL, *tenantID, *currency, s)
			report.record(s, res, time.Since(t0), err, *reviewPositive)
			if *verbose {
				printSample(s, res, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	printReport(report, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readSamples(path string, limit int) ([]Sample, error) {
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

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"amount", "nameorig", "isfraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	get := func(record []string, name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var samples []Sample
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		amount, err := decimal.NewFromString(get(record, "amount"))
		if err != nil {
			continue
		}
		step, _ := strconv.Atoi(get(record, "step"))

		samples = append(samples, Sample{
			Step:     step,
			Type:     strings.ToLower(get(record, "type")),
			Amount:   amount,
			Subject:  get(record, "nameorig"),
			Payee:    get(record, "namedest"),
			IsFraud:  get(record, "isfraud") == "1",
			RowIndex: row,
		})
		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	return samples, nil
}

func runCheck(ctx context.Context, client *http.Client, baseURL, tenantID, currency string, s Sample) (*checkResponse, error) {
	body, err := json.Marshal(checkRequest{
		SubjectID:  s.Subject,
		PaymentID:  fmt.Sprintf("row-%d", s.RowIndex),
		Amount:     s.Amount,
		Currency:   currency,
		ActionType: s.Type,
		SessionID:  fmt.Sprintf("step-%d", s.Step),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/checks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var res checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func printSample(s Sample, res *checkResponse, err error) {
	if err != nil {
		fmt.Printf("ERROR row %d (%s): %v\n", s.RowIndex, s.Subject, err)
		return
	}
	fmt.Printf("row %-7d %-12s %-9s %14s fraud=%-5v -> %-13s %.2f\n",
		s.RowIndex, s.Subject, s.Type, s.Amount.StringFixed(2), s.IsFraud, res.Decision, res.Score)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func printReport(r *Report, duration time.Duration) {
	total := r.TruePositives + r.FalsePositives + r.TrueNegatives + r.FalseNegatives

	fmt.Println()
	fmt.Println("RESULTS")
	fmt.Printf("  Checked:   %d\n", total)
	fmt.Printf("  Errors:    %d\n", r.Errors)
	fmt.Printf("  Degraded:  %d\n", r.Degraded)

	fmt.Println()
	fmt.Println("DECISIONS")
	for _, d := range []string{"PASS", "MANUAL_REVIEW", "BLOCK"} {
		fmt.Printf("  %-14s %d\n", d, r.Decisions[d])
	}

	fmt.Println()
	fmt.Println("CONFUSION MATRIX (predicted fraud vs label)")
	fmt.Printf("  TP %-8d FN %d\n", r.TruePositives, r.FalseNegatives)
	fmt.Printf("  FP %-8d TN %d\n", r.FalsePositives, r.TrueNegatives)

	precision := ratio(r.TruePositives, r.TruePositives+r.FalsePositives)
	recall := ratio(r.TruePositives, r.TruePositives+r.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	fmt.Printf("  Precision %.4f  Recall %.4f  F1 %.4f  Accuracy %.4f\n",
		precision, recall, f1, ratio(r.TruePositives+r.TrueNegatives, total))

	lat := slices.Clone(r.Latencies)
	slices.Sort(lat)
	fmt.Println()
	fmt.Println("PERFORMANCE")
	fmt.Printf("  Duration:   %v\n", duration.Round(time.Millisecond))
	if len(lat) > 0 {
		fmt.Printf("  p50 %v  p95 %v  p99 %v\n",
			percentile(lat, 0.50).Round(time.Microsecond),
			percentile(lat, 0.95).Round(time.Microsecond),
			percentile(lat, 0.99).Round(time.Microsecond))
		fmt.Printf("  Throughput: %.2f checks/sec\n", float64(len(lat))/duration.Seconds())
	}
	fmt.Println()
}
