package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

//go:embed session.json
var sessionLog []byte

type diagnosePayload struct {
	Log        json.RawMessage `json:"log"`
	At         uint64          `json:"at"`
	Assertions []string        `json:"assertions"`
}

type result struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	url := flag.String("url", "http://localhost:8080/diagnose", "diagnose endpoint URL")
	rps := flag.Int("rps", 50, "target requests per second")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	workers := flag.Int("workers", 50, "number of concurrent workers")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP client timeout")
	maxP90 := flag.Duration("max-p90", 30*time.Millisecond, "P90 latency the run must stay under")
	flag.Parse()

	if *rps <= 0 || *duration <= 0 || *workers <= 0 {
		fmt.Fprintln(os.Stderr, "rps, duration and workers must be > 0")
		os.Exit(2)
	}

	// append([2], [3]) answers [2, 3, 3], so every request walks the tree
	// down to that call.
	body, err := json.Marshal(diagnosePayload{
		Log:        sessionLog,
		At:         7,
		Assertions: []string{`name == "append" && len(args[2]) != len(args[0]) + len(args[1])`},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal payload: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	jobs := make(chan struct{}, *workers)

	var mu sync.Mutex
	results := make([]result, 0, *rps*int(duration.Seconds())+1)
	record := func(r result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for range jobs {
				record(post(ctx, client, *url, body))
			}
			return nil
		})
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	deadline := time.Now().Add(*duration)
	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		jobs <- struct{}{}
	}
	ticker.Stop()
	close(jobs)
	_ = g.Wait()

	latencies := make([]time.Duration, 0, len(results))
	success2xx, non2xx, errs := 0, 0, 0
	for _, r := range results {
		latencies = append(latencies, r.latency)
		switch {
		case r.err != nil:
			errs++
		case r.status >= 200 && r.status < 300:
			success2xx++
		default:
			non2xx++
		}
	}

	if len(latencies) == 0 {
		fmt.Fprintln(os.Stderr, "no requests executed")
		os.Exit(1)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p90 := percentile(latencies, 90)
	achievedRPS := float64(len(latencies)) / duration.Seconds()

	fmt.Printf("Load test finished\n")
	fmt.Printf("- target_rps: %d\n", *rps)
	fmt.Printf("- achieved_rps: %.2f\n", achievedRPS)
	fmt.Printf("- requests: %d\n", len(latencies))
	fmt.Printf("- 2xx: %d\n", success2xx)
	fmt.Printf("- non_2xx: %d\n", non2xx)
	fmt.Printf("- errors: %d\n", errs)
	fmt.Printf("- avg_ms: %.3f\n", ms(average(latencies)))
	fmt.Printf("- p50_ms: %.3f\n", ms(percentile(latencies, 50)))
	fmt.Printf("- p90_ms: %.3f\n", ms(p90))
	fmt.Printf("- p99_ms: %.3f\n", ms(percentile(latencies, 99)))

	if achievedRPS >= float64(*rps)*0.98 && p90 < *maxP90 && errs == 0 && non2xx == 0 {
		fmt.Printf("PASS: meets %d RPS and P90 < %s\n", *rps, *maxP90)
		return
	}

	fmt.Println("FAIL: does not meet target (or has request errors)")
	os.Exit(1)
}

func post(ctx context.Context, client *http.Client, url string, body []byte) result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result{latency: time.Since(start), err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	lat := time.Since(start)
	if err != nil {
		return result{latency: lat, err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return result{latency: lat, status: resp.StatusCode}
}

func percentile(items []time.Duration, p int) time.Duration {
	if len(items) == 0 {
		return 0
	}
	return items[(len(items)-1)*p/100]
}

func average(items []time.Duration) time.Duration {
	if len(items) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range items {
		total += d
	}
	return total / time.Duration(len(items))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
