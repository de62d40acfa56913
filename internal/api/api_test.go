package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/scorecache"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/health"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]store.Job
	latest  string
	scores  []stages.Score
	queries int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   map[string]store.Job{"job-1": {ID: "job-1", Status: store.StatusSucceeded, DocumentCount: 2}},
		latest: "job-1",
		scores: []stages.Score{
			{Word: "cat", DocID: "d1", Score: 0.23},
			{Word: "the", DocID: "d1", Score: 0},
			{Word: "the", DocID: "d2", Score: 0},
			{Word: "dog", DocID: "d2", Score: 0.23},
		},
	}
}

func (f *fakeStore) Job(_ context.Context, id string) (store.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return store.Job{}, apperrors.Errorf(apperrors.ErrJobNotFound, "job %s", id)
	}
	return job, nil
}

func (f *fakeStore) LatestJob(ctx context.Context) (store.Job, error) {
	if f.latest == "" {
		return store.Job{}, apperrors.Errorf(apperrors.ErrJobNotFound, "job latest")
	}
	return f.Job(ctx, f.latest)
}

func (f *fakeStore) ScoresForWord(_ context.Context, jobID, word string, limit int) ([]stages.Score, error) {
	return f.filter(jobID, limit, func(sc stages.Score) bool { return sc.Word == word }), nil
}

func (f *fakeStore) TopTerms(_ context.Context, jobID, docID string, limit int) ([]stages.Score, error) {
	return f.filter(jobID, limit, func(sc stages.Score) bool { return sc.DocID == docID }), nil
}

func (f *fakeStore) filter(jobID string, limit int, keep func(stages.Score) bool) []stages.Score {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if _, ok := f.jobs[jobID]; !ok {
		return nil
	}
	var out []stages.Score
	for _, sc := range f.scores {
		if keep(sc) {
			out = append(out, sc)
		}
	}
	return stages.RankScores(out, limit)
}

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *mapBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapBackend) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string][]byte)
	return n, nil
}

func (m *mapBackend) Ping(context.Context) error { return nil }

func newServer(st ScoreReader, cache *scorecache.Cache) http.Handler {
	return NewRouter(NewHandler(st, cache, 10, 50), health.NewChecker(), nil, RouterOptions{Timeout: time.Second})
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestWordScores(t *testing.T) {
	h := newServer(newFakeStore(), nil)

	rec := get(t, h, http.MethodGet, "/api/v1/jobs/job-1/words/the")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp ScoresResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.Word != "the" || len(resp.Scores) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Scores[0].DocID != "d1" {
		t.Errorf("ties must be ordered by document, got %+v", resp.Scores)
	}
}

func TestLatestAlias(t *testing.T) {
	h := newServer(newFakeStore(), nil)

	rec := get(t, h, http.MethodGet, "/api/v1/jobs/latest/documents/d2/terms?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp ScoresResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || len(resp.Scores) != 1 || resp.Scores[0].Word != "dog" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = get(t, h, http.MethodGet, "/api/v1/jobs/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var job store.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil || job.ID != "job-1" {
		t.Errorf("unexpected latest job %+v (%v)", job, err)
	}
}

func TestErrorStatuses(t *testing.T) {
	empty := newFakeStore()
	empty.latest = ""
	tests := []struct {
		name   string
		st     ScoreReader
		path   string
		status int
	}{
		{"unknown job", newFakeStore(), "/api/v1/jobs/nope", http.StatusNotFound},
		{"unknown word", newFakeStore(), "/api/v1/jobs/job-1/words/zebra", http.StatusNotFound},
		{"unknown document", newFakeStore(), "/api/v1/jobs/job-1/documents/d9/terms", http.StatusNotFound},
		{"bad limit", newFakeStore(), "/api/v1/jobs/job-1/words/cat?limit=0", http.StatusBadRequest},
		{"non numeric limit", newFakeStore(), "/api/v1/jobs/job-1/words/cat?limit=ten", http.StatusBadRequest},
		{"no finished job", empty, "/api/v1/jobs/latest/words/cat", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newServer(tt.st, nil), http.MethodGet, tt.path)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %v (%v)", body, err)
			}
		})
	}
}

func TestLimitIsCapped(t *testing.T) {
	h := NewHandler(newFakeStore(), nil, 5, 20)
	req := httptest.NewRequest(http.MethodGet, "/x?limit=1000", nil)
	n, err := h.limit(req)
	if err != nil || n != 20 {
		t.Errorf("expected limit capped at 20, got %d (%v)", n, err)
	}
}

func TestCachedQueries(t *testing.T) {
	st := newFakeStore()
	cache := scorecache.New(&mapBackend{data: make(map[string][]byte)}, time.Minute, nil)
	h := newServer(st, cache)

	for i, wantHit := range []bool{false, true} {
		rec := get(t, h, http.MethodGet, "/api/v1/jobs/job-1/words/cat")
		var resp ScoresResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.CacheHit != wantHit {
			t.Errorf("request %d: expected cache hit %v", i, wantHit)
		}
	}
	if st.queries != 1 {
		t.Errorf("expected one store query, got %d", st.queries)
	}

	if rec := get(t, h, http.MethodDelete, "/api/v1/jobs/job-1/cache"); rec.Code != http.StatusOK {
		t.Fatalf("invalidate: expected 200, got %d", rec.Code)
	}
	get(t, h, http.MethodGet, "/api/v1/jobs/job-1/words/cat")
	if st.queries != 2 {
		t.Errorf("expected a store query after invalidation, got %d", st.queries)
	}
}

func TestInvalidateWithoutCache(t *testing.T) {
	rec := get(t, newServer(newFakeStore(), nil), http.MethodDelete, "/api/v1/jobs/job-1/cache")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	h := newServer(newFakeStore(), nil)
	for _, path := range []string{"/health/live", "/health/ready"} {
		if rec := get(t, h, http.MethodGet, path); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
