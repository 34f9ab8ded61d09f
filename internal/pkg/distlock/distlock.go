// Package distlock guards a scheduled run so that two overlapping invocations
// never append the same report window twice.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing or extending a lock this process does
// not own.
var ErrNotHeld = errors.New("lock not held")

// DistLock is the interface for distributed locking.
// Implementations are used from a single goroutine.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire on their own.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// KeepAlive extends l by ttl every ttl/2 until stop is called, so a run that
// outlives the TTL keeps its lock. Locks without expiry are left alone.
// Extension stops early once the lock is reported lost.
func KeepAlive(ctx context.Context, l DistLock, ttl time.Duration) (stop func()) {
	e, ok := l.(Extender)
	if !ok || ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.Extend(ctx, ttl)
				if errors.Is(err, ErrNotHeld) {
					log.Printf("[distlock] lock lost, no longer extending: %v", err)
					return
				}
				if err != nil && ctx.Err() == nil {
					log.Printf("[distlock] failed to extend lock: %v", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// NewLock creates a run lock using the best available backend: Redis when a
// client is given, otherwise a PostgreSQL advisory lock, otherwise a no-op.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return NoopLock{}
	}
}

// Backend names the implementation behind l, for logging.
func Backend(l DistLock) string {
	switch l.(type) {
	case *RedisLock:
		return "redis"
	case *PGAdvisoryLock:
		return "postgres"
	case *DynamoLock:
		return "dynamodb"
	default:
		return "none"
	}
}

// NoopLock always succeeds. Used when neither Redis nor PostgreSQL is
// available for locking.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(context.Context) error         { return nil }

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection from Acquire until Release. If the process dies the connection
// drops and the server releases the lock.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns its connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
