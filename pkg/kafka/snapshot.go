package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/config"
)

// Snapshot reads one partition from its first offset up to the high
// watermark observed when the read starts. Messages published later are not
// part of the snapshot, so a batch job sees a fixed corpus.
func Snapshot(ctx context.Context, cfg config.KafkaConfig, topic string, fn func(value []byte) error) (int, error) {
	logger := slog.Default().With("component", "kafka-snapshot", "topic", topic)
	if cfg.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SnapshotTimeout)
		defer cancel()
	}

	first, last, err := partitionOffsets(ctx, cfg, topic)
	if err != nil {
		return 0, err
	}
	if last <= first {
		logger.Info("topic is empty", "partition", cfg.Partition)
		return 0, nil
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     topic,
		Partition: cfg.Partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()
	if err := r.SetOffset(first); err != nil {
		return 0, fmt.Errorf("seeking to offset %d: %w", first, err)
	}

	var n int
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			return n, fmt.Errorf("reading %s at message %d: %w", topic, n, err)
		}
		if msg.Offset >= last {
			break
		}
		if err := fn(msg.Value); err != nil {
			return n, err
		}
		n++
		if msg.Offset+1 >= last {
			break
		}
	}
	logger.Info("snapshot read",
		"partition", cfg.Partition,
		"messages", n,
		"first_offset", first,
		"high_watermark", last,
	)
	return n, nil
}

// partitionOffsets returns the first offset and the high watermark of the
// configured partition, asking the partition leader directly.
func partitionOffsets(ctx context.Context, cfg config.KafkaConfig, topic string) (int64, int64, error) {
	var lastErr error
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", broker, topic, cfg.Partition)
		if err != nil {
			lastErr = err
			continue
		}
		first, last, err := conn.ReadOffsets()
		conn.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("reading offsets of %s/%d: %w", topic, cfg.Partition, err)
		}
		return first, last, nil
	}
	return 0, 0, fmt.Errorf("dialing leader for %s/%d: %w", topic, cfg.Partition, lastErr)
}

// Ping checks that at least one broker accepts connections.
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	lastErr := fmt.Errorf("no brokers configured")
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}
