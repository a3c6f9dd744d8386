package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/scourlab/scour/internal/config"
)

// Producer publishes JSON task payloads keyed by request id. Records are
// gzip-compressed in batches by the client.
type Producer struct {
	client *kgo.Client
	log    *slog.Logger
}

// NewProducer builds a producer and blocks until the brokers answer a ping,
// up to the configured attempt budget.
func NewProducer(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.DialTimeout(dialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("bus producer client: %w", err)
	}

	if err := waitReady(ctx, client, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		client.Close()

		return nil, fmt.Errorf("bus producer: %w", err)
	}

	return &Producer{client: client, log: log}, nil
}

// Publish encodes payload as JSON and produces it synchronously. The key
// carries the request id so all stages of one request land on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	rec, err := newRecord(topic, key, payload)
	if err != nil {
		return err
	}

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.log.DebugContext(ctx, "published task",
		slog.String("topic", topic),
		slog.String("key", key))

	return nil
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}

func newRecord(topic, key string, payload any) (*kgo.Record, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", topic, err)
	}

	return &kgo.Record{Topic: topic, Key: []byte(key), Value: value}, nil
}
