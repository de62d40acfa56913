// Package store persists pipeline job records and final TF-IDF scores so they
// can be queried after the stage directories are gone. PostgreSQL and SQLite
// share one schema and one query set; they differ only in placeholders and
// in how scores are bulk loaded.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job is one pipeline run.
type Job struct {
	ID            string    `json:"job_id"`
	Status        string    `json:"status"`
	Source        string    `json:"source"`
	DocumentCount int64     `json:"document_count"`
	ScoreCount    int64     `json:"score_count"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// Store is implemented by every persistence backend.
type Store interface {
	// SaveJob inserts or updates a job record.
	SaveJob(ctx context.Context, job Job) error
	// SaveScores replaces the scores of jobID.
	SaveScores(ctx context.Context, jobID string, scores []stages.Score) error
	Job(ctx context.Context, jobID string) (Job, error)
	// LatestJob returns the most recently finished successful job.
	LatestJob(ctx context.Context) (Job, error)
	// ScoresForWord returns the documents weighted for word, best first.
	ScoresForWord(ctx context.Context, jobID, word string, limit int) ([]stages.Score, error)
	// TopTerms returns the highest weighted words of a document.
	TopTerms(ctx context.Context, jobID, docID string, limit int) ([]stages.Score, error)
	Ping(ctx context.Context) error
	Close() error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_jobs (
		job_id         TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		source         TEXT NOT NULL DEFAULT '',
		document_count BIGINT NOT NULL DEFAULT 0,
		score_count    BIGINT NOT NULL DEFAULT 0,
		error          TEXT NOT NULL DEFAULT '',
		started_at     BIGINT NOT NULL,
		finished_at    BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS tfidf_scores (
		job_id TEXT NOT NULL,
		word   TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		score  DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (job_id, word, doc_id)
	)`,
	`CREATE INDEX IF NOT EXISTS tfidf_scores_doc ON tfidf_scores (job_id, doc_id)`,
}

var scoreColumns = []string{"job_id", "word", "doc_id", "score"}

// bulkLoader writes scores inside an open transaction.
type bulkLoader func(ctx context.Context, tx *sql.Tx, jobID string, scores []stages.Score) error

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// sqlStore is the shared database/sql implementation.
type sqlStore struct {
	db       *sql.DB
	tx       txRunner
	numbered bool
	bulk     bulkLoader
	logger   *slog.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// q rewrites ? placeholders to $n for drivers that need numbered ones.
func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SaveJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO pipeline_jobs (job_id, status, source, document_count, score_count, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			source = excluded.source,
			document_count = excluded.document_count,
			score_count = excluded.score_count,
			error = excluded.error,
			finished_at = excluded.finished_at`),
		job.ID, job.Status, job.Source, job.DocumentCount, job.ScoreCount, job.Error,
		toMillis(job.StartedAt), toMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

func (s *sqlStore) SaveScores(ctx context.Context, jobID string, scores []stages.Score) error {
	start := time.Now()
	err := s.tx.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM tfidf_scores WHERE job_id = ?`), jobID); err != nil {
			return fmt.Errorf("clearing scores: %w", err)
		}
		return s.bulk(ctx, tx, jobID, scores)
	})
	if err != nil {
		return fmt.Errorf("saving scores for job %s: %w", jobID, err)
	}
	s.logger.Info("scores saved",
		"job_id", jobID,
		"count", len(scores),
		"duration", time.Since(start),
	)
	return nil
}

const jobColumns = `job_id, status, source, document_count, score_count, error, started_at, finished_at`

func (s *sqlStore) Job(ctx context.Context, jobID string) (Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM pipeline_jobs WHERE job_id = ?`), jobID)
	return scanJob(row, jobID)
}

func (s *sqlStore) LatestJob(ctx context.Context) (Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM pipeline_jobs
		WHERE status = ? ORDER BY finished_at DESC, job_id DESC LIMIT 1`), StatusSucceeded)
	return scanJob(row, "latest")
}

func scanJob(row *sql.Row, ref string) (Job, error) {
	var (
		job             Job
		started, finish int64
	)
	err := row.Scan(&job.ID, &job.Status, &job.Source, &job.DocumentCount, &job.ScoreCount,
		&job.Error, &started, &finish)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, apperrors.Errorf(apperrors.ErrJobNotFound, "job %s", ref)
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", ref, err)
	}
	job.StartedAt = fromMillis(started)
	job.FinishedAt = fromMillis(finish)
	return job, nil
}

func (s *sqlStore) ScoresForWord(ctx context.Context, jobID, word string, limit int) ([]stages.Score, error) {
	return s.queryScores(ctx, s.q(`SELECT word, doc_id, score FROM tfidf_scores
		WHERE job_id = ? AND word = ?
		ORDER BY score DESC, doc_id ASC LIMIT ?`), jobID, word, limit)
}

func (s *sqlStore) TopTerms(ctx context.Context, jobID, docID string, limit int) ([]stages.Score, error) {
	return s.queryScores(ctx, s.q(`SELECT word, doc_id, score FROM tfidf_scores
		WHERE job_id = ? AND doc_id = ?
		ORDER BY score DESC, word ASC LIMIT ?`), jobID, docID, limit)
}

func (s *sqlStore) queryScores(ctx context.Context, query string, args ...any) ([]stages.Score, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	defer rows.Close()

	var scores []stages.Score
	for rows.Next() {
		var sc stages.Score
		if err := rows.Scan(&sc.Word, &sc.DocID, &sc.Score); err != nil {
			return nil, fmt.Errorf("scanning score row: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.tx.Ping(ctx)
}

func (s *sqlStore) Close() error {
	return s.tx.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
