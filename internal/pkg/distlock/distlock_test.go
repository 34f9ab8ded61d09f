package distlock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// =============================================================================
// Redis
// =============================================================================

func TestRedisLockExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)

	first := NewRedisLock(rdb, "report-etl", time.Hour)
	second := NewRedisLock(rdb, "report-etl", time.Hour)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:report-etl"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second run must not get the lock")

	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)
	assert.True(t, mr.Exists("lock:report-etl"), "foreign release must not delete the key")

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:report-etl"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndExtends(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)

	l := NewRedisLock(rdb, "report-etl", time.Minute)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("lock:report-etl"))

	mr.FastForward(2 * time.Hour)
	assert.ErrorIs(t, l.Extend(ctx, time.Hour), ErrNotHeld)
}

func TestRedisLockAcquireError(t *testing.T) {
	mr, rdb := setupRedis(t)
	mr.Close()

	_, err := NewRedisLock(rdb, "report-etl", time.Minute).Acquire(context.Background())
	assert.Error(t, err)
}

// =============================================================================
// PostgreSQL
// =============================================================================

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "report-etl")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, l.Release(context.Background()), ErrNotHeld)
}

func TestPGAdvisoryLockContended(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "report-etl")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockIDIsStable(t *testing.T) {
	assert.Equal(t, NewPGAdvisoryLock(nil, "report-etl").lockID, NewPGAdvisoryLock(nil, "report-etl").lockID)
	assert.NotEqual(t, NewPGAdvisoryLock(nil, "a").lockID, NewPGAdvisoryLock(nil, "b").lockID)
}

// =============================================================================
// Backend selection
// =============================================================================

func TestNewLockBackend(t *testing.T) {
	_, rdb := setupRedis(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "redis", Backend(NewLock(rdb, db, "k", time.Minute)))
	assert.Equal(t, "postgres", Backend(NewLock(nil, db, "k", time.Minute)))
	assert.Equal(t, "none", Backend(NewLock(nil, nil, "k", time.Minute)))

	ok, err := NoopLock{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

type countingLock struct {
	NoopLock
	extends atomic.Int32
	err     error
}

func (l *countingLock) Extend(ctx context.Context, ttl time.Duration) error {
	l.extends.Add(1)
	return l.err
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	l := &countingLock{}
	stop := KeepAlive(context.Background(), l, 20*time.Millisecond)
	require.Eventually(t, func() bool { return l.extends.Load() >= 2 }, time.Second, 5*time.Millisecond)

	stop()
	n := l.extends.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, l.extends.Load())
}

func TestKeepAliveStopsWhenLockLost(t *testing.T) {
	l := &countingLock{err: ErrNotHeld}
	stop := KeepAlive(context.Background(), l, 10*time.Millisecond)
	defer stop()
	require.Eventually(t, func() bool { return l.extends.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), l.extends.Load())
}

func TestKeepAliveRetriesOnError(t *testing.T) {
	l := &countingLock{err: errors.New("connection reset")}
	stop := KeepAlive(context.Background(), l, 10*time.Millisecond)
	defer stop()
	require.Eventually(t, func() bool { return l.extends.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestKeepAliveIgnoresLocksWithoutExpiry(t *testing.T) {
	stop := KeepAlive(context.Background(), NoopLock{}, time.Millisecond)
	stop()
}
