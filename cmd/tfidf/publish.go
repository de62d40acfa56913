package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/source"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
)

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "load corpus files into the corpus topic",
		ArgsUsage: "<files or directories...>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Value: 500},
		},
		Action: publishAction,
	}
}

func publishAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no corpus files given")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("publish needs kafka.enabled")
	}

	files := &source.Files{Paths: c.Args().Slice()}
	lines, err := files.Lines(c.Context)
	if err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Corpus)
	defer producer.Close()

	published, rejected, err := source.Publish(c.Context, producer, lines, c.Int("batch-size"))
	slog.Info("corpus published",
		"topic", cfg.Kafka.Topics.Corpus,
		"published", published,
		"rejected", rejected,
	)
	return err
}
