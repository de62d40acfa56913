package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/middleware"
)

// RouterOptions tunes the middleware chain. Zero values disable the
// timeout and CORS.
type RouterOptions struct {
	Timeout     time.Duration
	CORSOrigins []string
}

// NewRouter builds the query server handler.
//
// Route table:
//
//	GET    /api/v1/jobs/latest                       → latest successful job
//	GET    /api/v1/jobs/{id}                         → job record
//	GET    /api/v1/jobs/{id}/words/{word}            → documents for a word
//	GET    /api/v1/jobs/{id}/documents/{doc}/terms   → top terms of a document
//	DELETE /api/v1/jobs/{id}/cache                   → drop cached queries
//	GET    /health/live, /health/ready               → health
//
// {id} may be "latest" on every route below /jobs/{id}. m may be nil.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /api/v1/jobs/latest", h.LatestJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/words/{word}", h.WordScores)
	mux.HandleFunc("GET /api/v1/jobs/{id}/documents/{doc}/terms", h.DocumentTerms)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}/cache", h.InvalidateCache)

	// request → RequestID → Logging → Metrics → CORS → Timeout → mux
	var chain http.Handler = mux
	if opts.Timeout > 0 {
		chain = middleware.Timeout(opts.Timeout)(chain)
	}
	if len(opts.CORSOrigins) > 0 {
		chain = middleware.CORS(opts.CORSOrigins)(chain)
	}
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Logging(slog.Default().With("component", "http"))(chain)
	chain = middleware.RequestID(chain)
	return chain
}
