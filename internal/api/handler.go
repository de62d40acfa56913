// Package api serves the scores of finished pipeline jobs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/scorecache"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
)

// latestJob in place of a job id selects the most recent successful job.
const latestJob = "latest"

// ScoreReader is the read side of store.Store.
type ScoreReader interface {
	Job(ctx context.Context, jobID string) (store.Job, error)
	LatestJob(ctx context.Context) (store.Job, error)
	ScoresForWord(ctx context.Context, jobID, word string, limit int) ([]stages.Score, error)
	TopTerms(ctx context.Context, jobID, docID string, limit int) ([]stages.Score, error)
}

// ScoresResponse is the body of the word and document endpoints.
type ScoresResponse struct {
	JobID     string         `json:"job_id"`
	Word      string         `json:"word,omitempty"`
	DocID     string         `json:"doc_id,omitempty"`
	Scores    []stages.Score `json:"scores"`
	CacheHit  bool           `json:"cache_hit"`
	LatencyMs int64          `json:"latency_ms"`
}

type Handler struct {
	store        ScoreReader
	cache        *scorecache.Cache
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
}

// NewHandler creates a Handler. cache may be nil.
func NewHandler(st ScoreReader, cache *scorecache.Cache, defaultLimit, maxLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &Handler{
		store:        st,
		cache:        cache,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       slog.Default().With("component", "api"),
	}
}

func (h *Handler) LatestJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.LatestJob(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// WordScores lists the documents a word is weighted in, best first.
func (h *Handler) WordScores(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	word := r.PathValue("word")

	limit, err := h.limit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobID, err := h.resolveJob(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	scores, hit, err := h.cache.Scores(ctx, scorecache.KindWord, jobID, word, limit,
		func(ctx context.Context) ([]stages.Score, error) {
			return h.store.ScoresForWord(ctx, jobID, word, limit)
		})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(scores) == 0 {
		h.fail(w, r, apperrors.Errorf(apperrors.ErrWordNotFound, "%q in job %s", word, jobID))
		return
	}
	h.writeJSON(w, http.StatusOK, ScoresResponse{
		JobID:     jobID,
		Word:      word,
		Scores:    scores,
		CacheHit:  hit,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

// DocumentTerms lists the highest weighted words of one document. A known
// document whose words all score zero still has terms, so an empty result
// here means the document is not part of the job.
func (h *Handler) DocumentTerms(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	docID := r.PathValue("doc")

	limit, err := h.limit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobID, err := h.resolveJob(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	scores, hit, err := h.cache.Scores(ctx, scorecache.KindDocument, jobID, docID, limit,
		func(ctx context.Context) ([]stages.Score, error) {
			return h.store.TopTerms(ctx, jobID, docID, limit)
		})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(scores) == 0 {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	h.writeJSON(w, http.StatusOK, ScoresResponse{
		JobID:     jobID,
		DocID:     docID,
		Scores:    scores,
		CacheHit:  hit,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	jobID, err := h.resolveJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.cache.InvalidateJob(r.Context(), jobID); err != nil {
		h.fail(w, r, apperrors.Errorf(apperrors.ErrUnavailable, "%v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "job_id": jobID})
}

func (h *Handler) resolveJob(ctx context.Context, id string) (string, error) {
	if id != latestJob {
		return id, nil
	}
	job, err := h.store.LatestJob(ctx)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (h *Handler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.Errorf(apperrors.ErrInvalidInput, "limit must be a positive integer")
	}
	return min(n, h.maxLimit), nil
}

// fail maps err to its status. Server-side failures are logged and their
// detail is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, status, http.StatusText(status))
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
