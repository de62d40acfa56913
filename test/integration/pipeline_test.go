// Package integration runs the pipeline against real PostgreSQL, Kafka and
// Redis instances. Each test skips when its service is unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/api"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/scorecache"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/source"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/sqlite"
)

const corpus = `d1,body,the cat sat on the mat
d2,body,the dog sat on the log
d3,body,a cat and a dog
badrecord
`

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func skipIfNoPostgres(t *testing.T) store.Store {
	t.Helper()
	cfg := config.Default().Postgres
	cfg.Host = envOrDefault("TEST_POSTGRES_HOST", cfg.Host)
	cfg.Port = envOrDefaultInt("TEST_POSTGRES_PORT", cfg.Port)
	cfg.Database = envOrDefault("TEST_POSTGRES_DB", "tfidf_test")
	cfg.User = envOrDefault("TEST_POSTGRES_USER", cfg.User)
	cfg.Password = envOrDefault("TEST_POSTGRES_PASSWORD", cfg.Password)
	client, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	st, err := store.NewPostgres(context.Background(), client)
	if err != nil {
		client.Close()
		t.Fatalf("postgres schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func skipIfNoKafka(t *testing.T) config.KafkaConfig {
	t.Helper()
	cfg := config.Default().Kafka
	cfg.Enabled = true
	if v := os.Getenv("TEST_KAFKA_BROKERS"); v != "" {
		cfg.Brokers = strings.Split(v, ",")
	}
	cfg.SnapshotTimeout = 20 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := kafka.Ping(ctx, cfg); err != nil {
		t.Skipf("skipping integration test: kafka unavailable: %v", err)
	}
	// Fresh topics per test so snapshots only see this test's messages.
	suffix := uuid.NewString()[:8]
	cfg.Topics.Corpus = "it-corpus-" + suffix
	cfg.Topics.Scores = "it-scores-" + suffix
	cfg.Topics.JobComplete = "it-complete-" + suffix
	return cfg
}

func skipIfNoRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	cfg := config.Default().Redis
	cfg.Addr = envOrDefault("TEST_REDIS_ADDR", cfg.Addr)
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func sqliteStore(t *testing.T) store.Store {
	t.Helper()
	client, err := sqlite.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "it.db")})
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.NewSQLite(context.Background(), client, 100)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func corpusFile(t *testing.T) *source.Files {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte(corpus), 0644); err != nil {
		t.Fatal(err)
	}
	return &source.Files{Paths: []string{path}}
}

func testOptions(t *testing.T) pipeline.Options {
	return pipeline.Options{DataDir: t.TempDir(), MapWorkers: 2, ReduceWorkers: 2, Splits: 2}
}

func getScores(t *testing.T, srv *httptest.Server, path string) api.ScoresResponse {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var out api.ScoresResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresPipelineAndAPI(t *testing.T) {
	st := skipIfNoPostgres(t)
	ctx := context.Background()

	res, err := pipeline.New(testOptions(t), st, nil, sink.NewStore(st, nil)).Run(ctx, corpusFile(t), "")
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if res.DocumentCount != 3 {
		t.Errorf("expected 3 documents, got %d", res.DocumentCount)
	}

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(st, nil, 10, 100), health.NewChecker(), nil, api.RouterOptions{Timeout: 5 * time.Second}))
	defer srv.Close()

	out := getScores(t, srv, "/api/v1/jobs/"+res.JobID+"/words/cat")
	if len(out.Scores) != 2 {
		t.Fatalf("expected cat in 2 documents, got %+v", out.Scores)
	}
	// d1 has 6 words, d3 has 5: the shorter document weighs cat higher.
	if out.Scores[0].DocID != "d3" || out.Scores[1].DocID != "d1" {
		t.Errorf("unexpected ranking %+v", out.Scores)
	}
}

func TestKafkaCorpusAndScores(t *testing.T) {
	cfg := skipIfNoKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	lines, err := corpusFile(t).Lines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	corpusProducer := kafka.NewProducer(cfg, cfg.Topics.Corpus)
	defer corpusProducer.Close()
	// The first write to a new topic can race its creation.
	retry := resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}
	err = resilience.Retry(ctx, "publish corpus", retry, func(ctx context.Context) error {
		published, rejected, err := source.Publish(ctx, corpusProducer, lines, 100)
		if err == nil && (published != 3 || rejected != 1) {
			t.Fatalf("published %d rejected %d", published, rejected)
		}
		return err
	})
	if err != nil {
		t.Fatalf("publishing corpus: %v", err)
	}

	scores := kafka.NewProducer(cfg, cfg.Topics.Scores)
	defer scores.Close()
	complete := kafka.NewProducer(cfg, cfg.Topics.JobComplete)
	defer complete.Close()

	res, err := pipeline.New(testOptions(t), nil, nil, sink.NewKafka(scores, complete, 10, nil)).
		Run(ctx, &source.Kafka{Config: cfg}, "")
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if res.DocumentCount != 3 {
		t.Errorf("expected 3 documents from the topic, got %d", res.DocumentCount)
	}

	var events []sink.JobCompleted
	_, err = kafka.Snapshot(ctx, cfg, cfg.Topics.JobComplete, func(value []byte) error {
		ev, err := kafka.DecodeJSON[sink.JobCompleted](value)
		events = append(events, ev)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].JobID != res.JobID || events[0].ScoreCount != len(res.Scores) {
		t.Errorf("unexpected completion events %+v", events)
	}

	n, err := kafka.Snapshot(ctx, cfg, cfg.Topics.Scores, func([]byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if n != len(res.Scores) {
		t.Errorf("expected %d score messages, got %d", len(res.Scores), n)
	}
}

func TestRedisCachedAPI(t *testing.T) {
	client := skipIfNoRedis(t)
	st := sqliteStore(t)
	ctx := context.Background()

	jobID := "it-" + uuid.NewString()
	if _, err := pipeline.New(testOptions(t), st, nil, sink.NewStore(st, nil)).Run(ctx, corpusFile(t), jobID); err != nil {
		t.Fatal(err)
	}
	cache := scorecache.New(client, time.Minute, nil)
	t.Cleanup(func() { cache.InvalidateJob(context.Background(), jobID) })

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(st, cache, 10, 100), health.NewChecker(), nil, api.RouterOptions{Timeout: 5 * time.Second}))
	defer srv.Close()

	path := "/api/v1/jobs/" + jobID + "/documents/d2/terms?limit=3"
	first := getScores(t, srv, path)
	second := getScores(t, srv, path)
	if first.CacheHit || !second.CacheHit {
		t.Errorf("expected miss then hit, got %v then %v", first.CacheHit, second.CacheHit)
	}
	if len(second.Scores) != 3 || second.Scores[0] != first.Scores[0] {
		t.Errorf("cached result differs: %+v vs %+v", second.Scores, first.Scores)
	}

	if err := cache.InvalidateJob(ctx, jobID); err != nil {
		t.Fatal(err)
	}
	if third := getScores(t, srv, path); third.CacheHit {
		t.Error("expected a miss after invalidation")
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
