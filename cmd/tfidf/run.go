package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/source"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run the three stages over a corpus",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "from-kafka", Usage: "read the corpus topic instead of files"},
			&cli.StringFlag{Name: "job-id", Usage: "job id; an existing one resumes from its completed stages"},
			&cli.BoolFlag{Name: "keep-intermediate", Usage: "keep the wordcount and tf stage output"},
			&cli.IntFlag{Name: "top", Usage: "print the N highest scores when done"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	var src source.Source
	switch {
	case c.Bool("from-kafka"):
		if !cfg.Kafka.Enabled {
			return fmt.Errorf("--from-kafka needs kafka.enabled")
		}
		src = &source.Kafka{Config: cfg.Kafka}
	case c.NArg() > 0:
		src = &source.Files{Paths: c.Args().Slice()}
	default:
		return fmt.Errorf("no corpus given: pass files or --from-kafka")
	}

	m, stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	var sinks []sink.Sink
	if st != nil {
		defer st.Close()
		sinks = append(sinks, sink.NewStore(st, m))
	}
	if cfg.Kafka.Enabled {
		scores := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Scores)
		defer scores.Close()
		complete := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.JobComplete)
		defer complete.Close()
		sinks = append(sinks, sink.NewKafka(scores, complete, cfg.Store.BatchSize, m))
	}

	opts := pipeline.OptionsFromConfig(cfg.Pipeline)
	if c.Bool("keep-intermediate") {
		opts.KeepIntermediate = true
	}
	slog.Info("starting pipeline",
		"source", src.Describe(),
		"store", cfg.Store.Backend,
		"sinks", len(sinks),
		"map_workers", opts.MapWorkers,
		"reduce_workers", opts.ReduceWorkers,
	)
	result, err := pipeline.New(opts, st, m, sinks...).Run(ctx, src, c.String("job-id"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if n := c.Int("top"); n > 0 {
		top := stages.RankScores(append([]stages.Score(nil), result.Scores...), n)
		for _, sc := range top {
			fmt.Printf("%s\t%s\t%g\n", sc.Word, sc.DocID, sc.Score)
		}
	}
	return nil
}
