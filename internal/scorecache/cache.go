// Package scorecache caches query results of the score API in Redis.
// Concurrent misses for the same key are collapsed into one store query, and
// a circuit breaker stops the cache from adding latency while Redis is down:
// the API then reads the store directly.
package scorecache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/resilience"
)

const keyPrefix = "tfidf:"

// computeTimeout bounds a shared store query. It runs detached from the
// request that started it so a cancelled caller does not fail the others
// waiting on the same key.
const computeTimeout = 10 * time.Second

// Query kinds, part of the cache key.
const (
	KindWord     = "word"
	KindDocument = "doc"
)

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	Ping(ctx context.Context) error
}

type Cache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Cache. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "score-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("score-cache", resilience.BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(_ string, _, to resilience.State) {
			if m != nil {
				m.CacheBreakerState.Set(float64(to))
			}
		},
	})
	return c
}

// Scores returns the cached result for the query or computes and caches it.
// The bool reports a cache hit. A nil Cache always computes.
func (c *Cache) Scores(
	ctx context.Context,
	kind, jobID, subject string,
	limit int,
	compute func(ctx context.Context) ([]stages.Score, error),
) ([]stages.Score, bool, error) {
	if c == nil {
		scores, err := compute(ctx)
		return scores, false, err
	}
	key := buildKey(kind, jobID, subject, limit)
	if scores, ok := c.get(ctx, key); ok {
		return scores, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		if scores, ok := c.get(sctx, key); ok {
			return scores, nil
		}
		scores, err := compute(sctx)
		if err != nil {
			return nil, err
		}
		c.set(sctx, key, scores)
		return scores, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]stages.Score), false, nil
	}
}

func (c *Cache) get(ctx context.Context, key string) ([]stages.Score, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		if err != nil {
			c.logger.Debug("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var scores []stages.Score
	if err := json.Unmarshal(data, &scores); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return scores, true
}

func (c *Cache) set(ctx context.Context, key string, scores []stages.Score) {
	if scores == nil {
		scores = []stages.Score{}
	}
	data, err := json.Marshal(scores)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// InvalidateJob drops every cached query of jobID.
func (c *Cache) InvalidateJob(ctx context.Context, jobID string) error {
	if c == nil {
		return nil
	}
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+jobID+":*")
	if err != nil {
		return fmt.Errorf("invalidating job %s: %w", jobID, err)
	}
	c.logger.Info("cache invalidated", "job_id", jobID, "keys_deleted", deleted)
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// buildKey hashes the subject so arbitrary words and document ids cannot
// collide with the key structure or act as scan patterns.
func buildKey(kind, jobID, subject string, limit int) string {
	sum := sha256.Sum256([]byte(subject))
	return fmt.Sprintf("%s%s:%s:%x:%d", keyPrefix, jobID, kind, sum[:16], limit)
}
