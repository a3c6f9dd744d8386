package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/scourlab/scour/internal/config"
)

// ErrClosed is returned by Next once the underlying client has been closed.
var ErrClosed = errors.New("bus consumer closed")

// Message is one consumed task payload. It keeps a handle on the underlying
// record so Commit can advance the group offset for exactly this message.
type Message struct {
	Topic string
	Key   []byte
	Value []byte

	rec *kgo.Record
}

// Consumer is a single-topic group consumer with auto-commit disabled.
// Callers own the commit: Next hands out one message at a time, Commit marks
// it consumed. Not safe for concurrent use; each worker owns one consumer.
type Consumer struct {
	client *kgo.Client
	log    *slog.Logger

	buffer []*kgo.Record
}

// NewConsumer joins the given group on one topic and blocks until the
// brokers answer a ping, up to the configured attempt budget. New groups
// start from the earliest offset so tasks published before the first worker
// came up are not skipped.
func NewConsumer(ctx context.Context, cfg config.BusConfig, topic, group string, log *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DialTimeout(dialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("bus consumer client: %w", err)
	}

	if err := waitReady(ctx, client, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		client.Close()

		return nil, fmt.Errorf("bus consumer %s: %w", group, err)
	}

	return &Consumer{client: client, log: log}, nil
}

// Next blocks until a message arrives, the context ends, or the client
// closes. Fetch-level errors are logged and polling continues; they resolve
// on their own after rebalances and leader moves.
func (c *Consumer) Next(ctx context.Context) (*Message, error) {
	for {
		if len(c.buffer) > 0 {
			rec := c.buffer[0]
			c.buffer = c.buffer[1:]

			return &Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, rec: rec}, nil
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil, ErrClosed
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.WarnContext(ctx, "fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})

		c.buffer = fetches.Records()
	}
}

// Commit marks msg consumed. With auto-commit disabled this is the only
// place offsets advance, so workers call it strictly after the ledger write
// and any downstream publish.
func (c *Consumer) Commit(ctx context.Context, msg *Message) error {
	if msg == nil || msg.rec == nil {
		return nil
	}

	if err := c.client.CommitRecords(ctx, msg.rec); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}

	return nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
