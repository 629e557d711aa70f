package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Leader holds a session-level PostgreSQL advisory lock so that only one
// dispatcher runs per deployment. The lock lives as long as the dedicated
// connection it was taken on.
type Leader struct {
	pool   *pgxpool.Pool
	key    int64
	retry  time.Duration
	logger Logger
	conn   *pgxpool.Conn
}

// NewLeader prepares a leader election on the given lock key.
func NewLeader(pool *pgxpool.Pool, key int64, logger Logger) *Leader {
	return &Leader{pool: pool, key: key, retry: 10 * time.Second, logger: logger}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Leader) Acquire(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	for {
		ok, err := l.try(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Int64("lock_key", l.key).Msg("leader: lock attempt failed")
		}
		if ok {
			l.logger.Info().Int64("lock_key", l.key).Msg("leader: acquired dispatch lock")
			return nil
		}
		l.logger.Info().Int64("lock_key", l.key).Dur("retry_in", l.retry).Msg("leader: another dispatcher is active, standing by")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Leader) try(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the dedicated connection to the pool.
func (l *Leader) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	if _, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	l.logger.Info().Int64("lock_key", l.key).Msg("leader: released dispatch lock")
	return nil
}
