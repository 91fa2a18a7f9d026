package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type result struct {
	status  int
	latency time.Duration
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Base URL of the auth service")
	email := flag.String("email", "bench@example.com", "Email to log in with")
	password := flag.String("password", "", "Password to log in with; wrong passwords exercise the lockout")
	concurrency := flag.Int("c", 10, "Number of concurrent requests")
	requests := flag.Int("n", 1000, "Total number of requests")
	duration := flag.Duration("d", 0, "Duration of the test")
	flag.Parse()

	body, err := json.Marshal(map[string]string{"email": *email, "password": *password})
	if err != nil {
		fmt.Println("Failed to encode body:", err)
		return
	}
	target := strings.TrimRight(*url, "/") + "/auth/login"

	results := make(chan result, *requests)
	errors := make(chan error, *requests)
	var (
		wg      sync.WaitGroup
		stopped atomic.Bool
		next    atomic.Int64
	)

	start := time.Now()
	client := &http.Client{
		Timeout: time.Second * 10,
	}

	if *duration > 0 {
		timer := time.AfterFunc(*duration, func() {
			fmt.Println("Duration reached, stopping...")
			stopped.Store(true)
		})
		defer timer.Stop()
	}

	// Start workers
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stopped.Load() && next.Add(1) <= int64(*requests) {
				requestStart := time.Now()
				resp, err := client.Post(target, "application/json", bytes.NewReader(body))
				if err != nil {
					errors <- err
					continue
				}
				resp.Body.Close()
				results <- result{status: resp.StatusCode, latency: time.Since(requestStart)}
			}
		}()
	}

	// Wait for completion
	wg.Wait()
	close(results)
	close(errors)
	elapsed := time.Since(start)

	// Process results
	var latencies []time.Duration
	var total time.Duration
	statuses := make(map[int]int)
	for r := range results {
		latencies = append(latencies, r.latency)
		total += r.latency
		statuses[r.status]++
	}
	errCount := 0
	for range errors {
		errCount++
	}

	// Print results
	fmt.Printf("\nLogin Benchmark Results:\n")
	fmt.Printf("URL: %s\n", target)
	fmt.Printf("Concurrency Level: %d\n", *concurrency)
	fmt.Printf("Time taken: %v\n", elapsed)
	fmt.Printf("Complete requests: %d\n", len(latencies))
	fmt.Printf("Failed requests: %d\n", errCount)
	if len(latencies) == 0 {
		return
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("Requests per second: %.2f\n", float64(len(latencies))/elapsed.Seconds())
	fmt.Printf("Mean latency: %v\n", total/time.Duration(len(latencies)))
	fmt.Printf("Min latency: %v\n", latencies[0])
	fmt.Printf("p50 latency: %v\n", percentile(latencies, 50))
	fmt.Printf("p95 latency: %v\n", percentile(latencies, 95))
	fmt.Printf("p99 latency: %v\n", percentile(latencies, 99))
	fmt.Printf("Max latency: %v\n", latencies[len(latencies)-1])

	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Printf("\nStatus codes:\n")
	for _, code := range codes {
		n := statuses[code]
		bar := strings.Repeat("#", n*50/len(latencies))
		fmt.Printf("  %d %-15s %6d %s\n", code, http.StatusText(code), n, bar)
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (len(sorted)*p + 99) / 100
	if idx < 1 {
		idx = 1
	}
	return sorted[idx-1]
}
