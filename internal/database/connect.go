package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable is returned by Connect when the database never answered a
// ping within the retry budget. The returned pool is still usable once the
// database comes back.
var ErrUnavailable = errors.New("database unavailable")

type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool and pings it with exponential backoff, giving up after
// retries attempts.
func Connect(ctx context.Context, databaseURL string, retries int, delay time.Duration) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := waitReady(ctx, pool, retries, delay); err != nil {
		return pool, err
	}
	return pool, nil
}

// AwaitReady pings db until it answers or ctx is canceled. It is used to
// leave degraded mode once the database comes back.
func AwaitReady(ctx context.Context, db pinger, delay time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 10 * delay
	b.MaxElapsedTime = 0

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.Ping(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		slog.Debug("database still unavailable", "retry_in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	slog.Info("database reachable again")
	return nil
}

func waitReady(ctx context.Context, db pinger, retries int, delay time.Duration) error {
	if retries < 1 {
		retries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 10 * delay
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.Ping(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("database ping failed, retrying",
			"attempt", attempt, "max_attempts", retries, "retry_in", next, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempt, err)
	}

	slog.Info("database connected", "attempts", attempt)
	return nil
}
