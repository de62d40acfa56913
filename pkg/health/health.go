// Package health runs dependency checks for the query server. A required
// dependency that fails takes the server down; an optional one (the score
// cache, the job event stream) only degrades it.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Pinger is anything that can report its reachability.
type Pinger func(ctx context.Context) error

type ComponentHealth struct {
	Status   Status `json:"status"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type check struct {
	ping     Pinger
	required bool
}

type Checker struct {
	mu     sync.RWMutex
	checks map[string]check
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a dependency. required decides whether its failure reports
// the whole server down or only degraded.
func (c *Checker) Register(name string, required bool, ping Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{ping: ping, required: required}
}

// Run pings every dependency concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]check, len(c.checks))
	for name, ch := range c.checks {
		checks[name] = ch
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := ComponentHealth{Status: StatusUp, Required: ch.required}
			if err := ch.ping(ctx); err != nil {
				result.Status = StatusDown
				result.Message = err.Error()
			}
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, comp := range report.Components {
		if comp.Status != StatusDown {
			continue
		}
		c.logger.Warn("dependency unhealthy", "dependency", name, "error", comp.Message)
		if comp.Required {
			report.Status = StatusDown
		} else if report.Status == StatusUp {
			report.Status = StatusDegraded
		}
	}
	return report
}

// LiveHandler always answers 200 while the process can serve HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when a required dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}
