// Package failover runs provider calls across the key pool, rotating past keys
// that report capacity errors and retrying the whole pool once after a pause.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubuygold/studygen/internal/keypool"
	"github.com/ubuygold/studygen/internal/metrics"
	"github.com/ubuygold/studygen/internal/provider"
)

// passes is the number of full sweeps over the pool per logical call.
const passes = 2

// DefaultBackoff is the pause between the first and second sweep.
const DefaultBackoff = 2 * time.Second

// ErrAllKeysExhausted is returned when every key reported a capacity error on both sweeps.
var ErrAllKeysExhausted = errors.New("all API keys exhausted")

// Result is the value of a successful call and the pool index of the key that produced it.
type Result[T any] struct {
	Value    T
	KeyIndex int
}

// Invoker is stateless between calls and safe for concurrent use.
type Invoker struct {
	pool    *keypool.Pool
	client  provider.Client
	backoff time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker. A non-positive backoff selects DefaultBackoff.
func New(pool *keypool.Pool, client provider.Client, backoff time.Duration, logger *slog.Logger) *Invoker {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Invoker{
		pool:    pool,
		client:  client,
		backoff: backoff,
		logger:  logger.With("component", "failover"),
		sleep:   sleepContext,
	}
}

// Generate runs one generate-content call.
func (inv *Invoker) Generate(ctx context.Context, req provider.GenerateRequest) (Result[string], error) {
	return run(ctx, inv, "generate", func(ctx context.Context, apiKey string) (string, error) {
		return inv.client.GenerateContent(ctx, apiKey, req)
	})
}

// Upload runs one file upload.
func (inv *Invoker) Upload(ctx context.Context, req provider.UploadRequest) (Result[*provider.File], error) {
	return run(ctx, inv, "upload", func(ctx context.Context, apiKey string) (*provider.File, error) {
		return inv.client.UploadFile(ctx, apiKey, req)
	})
}

func run[T any](ctx context.Context, inv *Invoker, op string, call func(ctx context.Context, apiKey string) (T, error)) (Result[T], error) {
	var zero Result[T]
	n := inv.pool.Count()
	if n == 0 {
		return zero, keypool.ErrNoKeys
	}

	var lastErr error
	attempts := 0
	for pass := 1; pass <= passes; pass++ {
		if pass > 1 {
			inv.logger.Warn("Every key reported a capacity error, backing off before retrying",
				"operation", op, "backoff", inv.backoff.String(), "attempts", attempts)
			if err := inv.sleep(ctx, inv.backoff); err != nil {
				return zero, err
			}
		}

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			key := inv.pool.Key(i)
			attempts++

			value, err := call(ctx, key)
			if err == nil {
				metrics.ProviderAttemptsTotal.WithLabelValues(op, "success").Inc()
				if attempts > 1 {
					inv.logger.Info("Provider call succeeded after rotation",
						"operation", op, "key_index", i, "key_suffix", keypool.SafeSuffix(key), "attempts", attempts)
				}
				return Result[T]{Value: value, KeyIndex: i}, nil
			}

			if !provider.IsCapacity(err) {
				metrics.ProviderAttemptsTotal.WithLabelValues(op, "fatal").Inc()
				inv.logger.Error("Provider call failed with a non-capacity error",
					"operation", op, "key_index", i, "key_suffix", keypool.SafeSuffix(key), "error", err)
				return zero, fmt.Errorf("%s with key %d: %w", op, i, err)
			}

			metrics.ProviderAttemptsTotal.WithLabelValues(op, "capacity").Inc()
			inv.logger.Warn("Key reported a capacity error, rotating",
				"operation", op, "pass", pass, "key_index", i, "key_suffix", keypool.SafeSuffix(key))
			lastErr = err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAllKeysExhausted, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
