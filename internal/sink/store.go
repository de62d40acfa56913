package sink

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/resilience"
)

// Store writes scores to the job database.
type Store struct {
	store   store.Store
	metrics *metrics.Metrics
	retry   resilience.RetryConfig
}

func NewStore(s store.Store, m *metrics.Metrics) *Store {
	return &Store{store: s, metrics: m, retry: defaultRetry}
}

func (s *Store) Name() string { return "store" }

func (s *Store) Write(ctx context.Context, job JobCompleted, scores []stages.Score) error {
	err := resilience.Retry(ctx, "save scores", s.retry, func(ctx context.Context) error {
		return s.store.SaveScores(ctx, job.JobID, scores)
	})
	record(s.metrics, s.Name(), err)
	return err
}
