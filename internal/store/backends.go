package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/sqlite"
)

// NewPostgres builds a Store on an open PostgreSQL client and applies the
// schema. Scores are loaded with COPY.
func NewPostgres(ctx context.Context, client *postgres.Client) (Store, error) {
	s := &sqlStore{
		db:       client.DB,
		tx:       client,
		numbered: true,
		logger:   slog.Default().With("component", "store", "backend", config.BackendPostgres),
	}
	s.bulk = func(ctx context.Context, tx *sql.Tx, jobID string, scores []stages.Score) error {
		return postgres.CopyIn(ctx, tx, "tfidf_scores", scoreColumns, len(scores), func(i int) []any {
			return []any{jobID, scores[i].Word, scores[i].DocID, scores[i].Score}
		})
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLite builds a Store on an open SQLite client and applies the schema.
// Scores are inserted through one prepared statement per batch.
func NewSQLite(ctx context.Context, client *sqlite.Client, batchSize int) (Store, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	s := &sqlStore{
		db:     client.DB,
		tx:     client,
		logger: slog.Default().With("component", "store", "backend", config.BackendSQLite),
	}
	s.bulk = func(ctx context.Context, tx *sql.Tx, jobID string, scores []stages.Score) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO tfidf_scores (job_id, word, doc_id, score) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for i, sc := range scores {
			if i%batchSize == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if _, err := stmt.ExecContext(ctx, jobID, sc.Word, sc.DocID, sc.Score); err != nil {
				return fmt.Errorf("inserting score %s@%s: %w", sc.Word, sc.DocID, err)
			}
		}
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to the backend selected in cfg. It returns a nil Store for
// BackendNone.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendPostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		client, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLite(ctx, client, cfg.Store.BatchSize)
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
