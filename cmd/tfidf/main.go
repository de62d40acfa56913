package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
)

func main() {
	app := &cli.App{
		Name:  "tfidf",
		Usage: "staged TF-IDF over a document corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"TP_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			queryCommand(),
			serveCommand(),
			publishCommand(),
			loadtestCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config named by the global --config flag and sets up
// logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// startMetrics registers the collectors and, when enabled, serves them. The
// returned stop function is always safe to call.
func startMetrics(cfg *config.Config) (*metrics.Metrics, func()) {
	if !cfg.Metrics.Enabled {
		return nil, func() {}
	}
	m := metrics.New(nil)
	shutdown := metrics.StartServer(cfg.Metrics.Port)
	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
}
