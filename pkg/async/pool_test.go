package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Name: "test", Workers: 3, QueueSize: 10, Timeout: time.Second}, log)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(2*time.Second))
	assert.Equal(t, int32(10), count.Load())
	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(time.Second))
}

func TestWorkerPoolReportsErrorsAndPanics(t *testing.T) {
	log, hook := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Name: "test", Workers: 1, Timeout: time.Second}, log)

	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.Shutdown(2*time.Second))

	var errs []error
	for len(errs) < 2 {
		select {
		case err := <-pool.Errors():
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatal("expected two errors")
		}
	}
	assert.EqualError(t, errs[0], "boom")
	assert.EqualError(t, errs[1], "panic: kaboom")
	assert.Equal(t, "Panic in worker: kaboom", hook.LastEntry().Message)
}

func TestWorkerPoolTrySubmitQueueFull(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Name: "test", Workers: 1, QueueSize: 1, Timeout: time.Second}, log)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(2*time.Second))
}

func TestWorkerPoolTaskTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), PoolConfig{Name: "test", Workers: 1, Timeout: 20 * time.Millisecond}, log)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, pool.Shutdown(time.Second))

	select {
	case err := <-pool.Errors():
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("expected a timeout error")
	}
}

func TestSafeGo(t *testing.T) {
	log, hook := test.NewNullLogger()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	SafeGo(ctx, log, time.Second, "cache invalidation", func(ctx context.Context) error {
		defer close(done)
		return ctx.Err()
	})
	cancel()
	<-done
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, hook.AllEntries())

	panicked := make(chan struct{})
	SafeGo(context.Background(), log, time.Second, "explode", func(ctx context.Context) error {
		defer close(panicked)
		panic("nope")
	})
	<-panicked
	assert.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, time.Second, 5*time.Millisecond)
}
