// Package sink delivers the final scores of a finished job to external
// systems. Sinks run after stage 3 has been committed to disk, so a failing
// sink never loses pipeline output; it fails the run and can be replayed
// from the stage directory.
package sink

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/resilience"
)

// JobCompleted is announced when every sink has accepted a job's scores.
type JobCompleted struct {
	JobID         string    `json:"job_id"`
	DocumentCount int64     `json:"document_count"`
	ScoreCount    int       `json:"score_count"`
	OutputDir     string    `json:"output_dir"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Sink receives the scores of one job.
type Sink interface {
	Name() string
	Write(ctx context.Context, job JobCompleted, scores []stages.Score) error
}

var defaultRetry = resilience.RetryConfig{
	MaxAttempts:  4,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// record counts one sink outcome.
func record(m *metrics.Metrics, sink string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.SinkWritesTotal.WithLabelValues(sink, status).Inc()
}
