// Package bus wraps the Kafka client behind small producer and consumer
// types. Offsets are never auto-committed: stage workers commit explicitly,
// only after the ledger write and any downstream publish have landed, so a
// crash mid-stage replays the message instead of losing it.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultConnectAttempts = 10
	defaultConnectBackoff  = 2 * time.Second

	dialTimeout = 10 * time.Second
)

type pinger interface {
	Ping(context.Context) error
}

// waitReady probes the brokers until one answers or the attempt budget runs
// out. Workers and the API both start before the bus in compose setups, so
// the probe doubles its delay between attempts instead of failing fast.
func waitReady(ctx context.Context, client pinger, attempts int, initial time.Duration) error {
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}

	if initial <= 0 {
		initial = defaultConnectBackoff
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	op := func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx)
	}

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}

	return nil
}
