package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/resilience"
)

// Publisher is the producer side the Kafka sink needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// ScoreEvent is one score message, keyed by word so all documents of a word
// land on one partition.
type ScoreEvent struct {
	JobID string  `json:"job_id"`
	Word  string  `json:"word"`
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Kafka publishes every score to the scores topic, then a JobCompleted event
// to the job-complete topic.
type Kafka struct {
	scores    Publisher
	complete  Publisher
	batchSize int
	timeout   time.Duration
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
}

func NewKafka(scores, complete Publisher, batchSize int, m *metrics.Metrics) *Kafka {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Kafka{
		scores:    scores,
		complete:  complete,
		batchSize: batchSize,
		timeout:   10 * time.Second,
		retry:     defaultRetry,
		metrics:   m,
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(ctx context.Context, job JobCompleted, scores []stages.Score) error {
	err := k.write(ctx, job, scores)
	record(k.metrics, k.Name(), err)
	return err
}

func (k *Kafka) write(ctx context.Context, job JobCompleted, scores []stages.Score) error {
	for start := 0; start < len(scores); start += k.batchSize {
		end := min(start+k.batchSize, len(scores))
		events := make([]kafka.Event, 0, end-start)
		for _, sc := range scores[start:end] {
			events = append(events, kafka.Event{
				Key:   sc.Word,
				Value: ScoreEvent{JobID: job.JobID, Word: sc.Word, DocID: sc.DocID, Score: sc.Score},
			})
		}
		if err := k.publish(ctx, k.scores, "publish scores", events); err != nil {
			return fmt.Errorf("publishing scores %d-%d: %w", start, end, err)
		}
	}
	event := kafka.Event{Key: job.JobID, Value: job}
	if err := k.publish(ctx, k.complete, "publish job complete", []kafka.Event{event}); err != nil {
		return fmt.Errorf("publishing job completion: %w", err)
	}
	return nil
}

func (k *Kafka) publish(ctx context.Context, p Publisher, name string, events []kafka.Event) error {
	return resilience.Retry(ctx, name, k.retry, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, k.timeout, name, func(ctx context.Context) error {
			return p.PublishBatch(ctx, events)
		})
	})
}
