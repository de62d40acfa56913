package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/api"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/scorecache"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
	pkgredis "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/redis"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "serve stored scores over HTTP",
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("serve needs a store backend, got %q", cfg.Store.Backend)
	}
	defer st.Close()

	m, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	checker := health.NewChecker()
	checker.Register("store", true, st.Ping)

	var cache *scorecache.Cache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, score caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cache = scorecache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", false, cache.Ping)
			slog.Info("score cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		checker.Register("kafka", false, func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka)
		})
		if cache != nil {
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.JobComplete, invalidateOnComplete(cache))
			go func() {
				if err := consumer.Start(ctx); err != nil {
					slog.Error("job completion consumer stopped", "error", err)
				}
			}()
			slog.Info("listening for job completions", "topic", cfg.Kafka.Topics.JobComplete)
		}
	}

	h := api.NewHandler(st, cache, cfg.Server.DefaultLimit, cfg.Server.MaxLimit)
	router := api.NewRouter(h, checker, m, api.RouterOptions{
		Timeout:     cfg.Server.WriteTimeout,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("query server listening", "addr", server.Addr, "store", cfg.Store.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("query server stopped")
	return nil
}

// invalidateOnComplete drops cached queries of a job whose scores were just
// rewritten, so a re-run under the same id is never served stale.
func invalidateOnComplete(cache *scorecache.Cache) kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		event, err := kafka.DecodeJSON[sink.JobCompleted](value)
		if err != nil {
			slog.Warn("skipping undecodable job completion", "error", err)
			return nil
		}
		return cache.InvalidateJob(ctx, event.JobID)
	}
}
