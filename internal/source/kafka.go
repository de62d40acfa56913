package source

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
)

// Kafka reads a snapshot of the corpus topic. Each message holds one JSON
// Document.
type Kafka struct {
	Config config.KafkaConfig
}

func (k *Kafka) Describe() string {
	return fmt.Sprintf("kafka:%s/%d", k.Config.Topics.Corpus, k.Config.Partition)
}

func (k *Kafka) Lines(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx).With("component", "source")
	var (
		lines   []string
		invalid int
	)
	_, err := kafka.Snapshot(ctx, k.Config, k.Config.Topics.Corpus, func(value []byte) error {
		doc, err := kafka.DecodeJSON[Document](value)
		if err != nil {
			invalid++
			log.Warn("skipping undecodable corpus message", "error", err)
			return nil
		}
		line, ok := doc.Line()
		if !ok {
			invalid++
			log.Warn("skipping corpus message with a comma in its id or field", "doc_id", doc.ID)
			return nil
		}
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading corpus topic: %w", err)
	}
	log.Info("corpus loaded", "source", k.Describe(), "lines", len(lines), "invalid", invalid)
	return lines, nil
}

// Publish sends lines to the corpus topic as Documents keyed by document
// id. Lines with fewer than three fields are returned as rejected.
func Publish(ctx context.Context, p *kafka.Producer, lines []string, batchSize int) (published, rejected int, err error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	batch := make([]kafka.Event, 0, batchSize)
	flush := func() error {
		if err := p.PublishBatch(ctx, batch); err != nil {
			return err
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, line := range lines {
		doc, ok := ParseDocument(line)
		if !ok {
			rejected++
			continue
		}
		batch = append(batch, kafka.Event{Key: doc.ID, Value: doc})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return published, rejected, err
			}
		}
	}
	if err := flush(); err != nil {
		return published, rejected, err
	}
	return published, rejected, nil
}
