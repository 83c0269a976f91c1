package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager(t *testing.T) {
	t.Run("stops servers then runs phases in order", func(t *testing.T) {
		ts := httptest.NewUnstartedServer(http.NotFoundHandler())
		ts.Start()
		defer ts.Close()

		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second, ts.Config)

		var mu sync.Mutex
		var order []string
		record := func(name string) ShutdownFunc {
			return func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, name)
				return nil
			}
		}
		// registered out of order on purpose
		sm.Register(PhaseClose, "database", record("database"))
		sm.Register(PhaseFlush, "otel", record("otel"))
		sm.Register(PhaseDrain, "email pool", record("email pool"))

		assert.NoError(t, sm.Shutdown())
		assert.Equal(t, []string{"email pool", "otel", "database"}, order)
		assert.Contains(t, buf.String(), "Graceful shutdown complete")
	})

	t.Run("runs one phase concurrently", func(t *testing.T) {
		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)
		release := make(chan struct{})
		var started int32
		for i := 0; i < 3; i++ {
			sm.Register(PhaseDrain, "pool", func(ctx context.Context) error {
				if atomic.AddInt32(&started, 1) == 3 {
					close(release)
				}
				<-release
				return nil
			})
		}

		assert.NoError(t, sm.Shutdown())
		assert.Equal(t, int32(3), atomic.LoadInt32(&started))
	})

	t.Run("reports failed functions and keeps going", func(t *testing.T) {
		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)
		var closed bool
		sm.Register(PhaseDrain, "audit", func(ctx context.Context) error { return errors.New("flush failed") })
		sm.Register(PhaseClose, "redis", func(ctx context.Context) error {
			closed = true
			return nil
		})

		err := sm.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shutdown completed with 1 errors")
		assert.Contains(t, err.Error(), "audit: flush failed")
		assert.True(t, closed)
	})

	t.Run("times out", func(t *testing.T) {
		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), 50*time.Millisecond)
		sm.Register(PhaseFlush, "slow exporter", func(ctx context.Context) error {
			time.Sleep(time.Second)
			return nil
		})

		assert.EqualError(t, sm.Shutdown(), "shutdown timeout reached during flush")
	})

	t.Run("runs once", func(t *testing.T) {
		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)
		var calls int32
		sm.Register(PhaseClose, "database", func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})

		assert.NoError(t, sm.Shutdown())
		assert.NoError(t, sm.Shutdown())
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}
