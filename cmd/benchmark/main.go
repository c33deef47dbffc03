package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	completed     uint64 // settled transfers
	declined      uint64 // insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 50, "Number of benchmark accounts to create")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	numbers, err := setupAccounts()
	if err != nil {
		log.Fatalf("Account setup failed: %v", err)
	}
	log.Printf("Created %d benchmark accounts.", len(numbers))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, numbers)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// setupAccounts creates fresh ledger accounts so runs do not interfere with
// seeded data. Each account opens with the standard opening balance.
func setupAccounts() ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	numbers := make([]string, 0, accounts)

	for i := 0; i < accounts; i++ {
		payload := map[string]interface{}{
			"tax_id":       fmt.Sprintf("99%08d", rand.Intn(100000000)),
			"company_name": fmt.Sprintf("Bench Shipper %d", i+1),
			"bik":          "044525225",
			"bank_name":    "Sberbank",
			"is_primary":   true,
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/v1/accounts", "application/json", bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}

		var account struct {
			AccountNumber string `json:"account_number"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusCreated || account.AccountNumber == "" {
			return nil, fmt.Errorf("account create returned %d", resp.StatusCode)
		}
		numbers = append(numbers, account.AccountNumber)
	}
	return numbers, nil
}

func worker(wg *sync.WaitGroup, start time.Time, numbers []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickPair(numbers)

		payload := map[string]interface{}{
			"from_account_number": from,
			"to_account_number":   to,
			"amount":              "100.00",
			"description":         "benchmark transfer",
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/v1/transfers", "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		if resp.StatusCode != http.StatusOK {
			atomic.AddUint64(&failOther, 1)
			resp.Body.Close()
			continue
		}

		var result struct {
			Success bool `json:"success"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			atomic.AddUint64(&failOther, 1)
		} else if result.Success {
			atomic.AddUint64(&completed, 1)
		} else {
			atomic.AddUint64(&declined, 1)
		}
		resp.Body.Close()
	}
}

func pickPair(numbers []string) (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hammers one pair in both directions.
		// Opposite-direction transfers over the same pair are the worst
		// case for lock ordering.
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return numbers[0], numbers[1]
			}
			return numbers[1], numbers[0]
		}
	}

	// Uniform Random
	a := rand.Intn(len(numbers))
	b := rand.Intn(len(numbers))
	for a == b {
		b = rand.Intn(len(numbers))
	}
	return numbers[a], numbers[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&completed)
	dec := atomic.LoadUint64(&declined)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"settled":        ok,
		"declined":       dec,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
