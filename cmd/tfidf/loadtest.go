package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/api"
)

func loadtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "loadtest",
		Usage: "drive word queries against a running query server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "query server base URL"},
			&cli.StringFlag{Name: "job", Value: "latest"},
			&cli.IntFlag{Name: "concurrency", Value: 10},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Second},
			&cli.StringSliceFlag{
				Name:  "word",
				Usage: "word to query, repeatable",
				Value: cli.NewStringSlice("the", "data", "system", "search", "index", "query", "cache", "score"),
			},
		},
		Action: loadtestAction,
	}
}

// loadStats collects the outcome of every request.
type loadStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int
	errors    int
	cacheHits int
}

func (s *loadStats) record(d time.Duration, status int, hit bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.latencies = append(s.latencies, d)
	s.statuses[status]++
	if hit {
		s.cacheHits++
	}
}

func loadtestAction(c *cli.Context) error {
	words := c.StringSlice("word")
	if len(words) == 0 {
		return fmt.Errorf("at least one --word is required")
	}
	base := fmt.Sprintf("%s/api/v1/jobs/%s/words/", c.String("url"), url.PathEscape(c.String("job")))
	concurrency := c.Int("concurrency")
	duration := c.Duration("duration")

	fmt.Printf("target=%s concurrency=%d duration=%s words=%d\n", c.String("url"), concurrency, duration, len(words))

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
		},
	}
	ctx, cancel := context.WithTimeout(c.Context, duration)
	defer cancel()

	stats := &loadStats{statuses: make(map[int]int)}
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				word := words[next%len(words)]
				next++
				start := time.Now()
				status, hit, err := queryWord(ctx, client, base+url.PathEscape(word))
				if ctx.Err() != nil {
					return
				}
				stats.record(time.Since(start), status, hit, err)
			}
		}(w)
	}
	wg.Wait()

	return stats.report(duration)
}

func queryWord(ctx context.Context, client *http.Client, target string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	var body api.ScoresResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return resp.StatusCode, false, err
		}
	}
	return resp.StatusCode, body.CacheHit, nil
}

func (s *loadStats) report(duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := len(s.latencies)
	total := done + s.errors
	if total == 0 {
		return fmt.Errorf("no requests completed; is the query server running?")
	}
	fmt.Printf("requests=%d errors=%d rps=%.1f cache_hit_rate=%.1f%%\n",
		total, s.errors, float64(total)/duration.Seconds(),
		100*float64(s.cacheHits)/float64(max(done, 1)))

	if done > 0 {
		sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
		fmt.Printf("latency min=%s p50=%s p90=%s p99=%s max=%s\n",
			s.latencies[0],
			percentile(s.latencies, 50),
			percentile(s.latencies, 90),
			percentile(s.latencies, 99),
			s.latencies[done-1],
		)
	}

	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.statuses[code])
	}
	return nil
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
