package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// Phase orders shutdown work. Phases run one after another once the HTTP
// servers have stopped; the functions of one phase run concurrently.
type Phase int

const (
	// PhaseDrain finishes queued work: worker pools, async audit writers
	PhaseDrain Phase = iota
	// PhaseFlush stops background loops and flushes telemetry exporters
	PhaseFlush
	// PhaseClose releases connections: database, redis
	PhaseClose
)

var phaseNames = [...]string{"drain", "flush", "close"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP servers, then runs the registered functions
// phase by phase within one deadline
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	phases          map[Phase][]namedFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
	once            sync.Once
	result          error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		servers:         servers,
		phases:          make(map[Phase][]namedFunc),
		shutdownTimeout: timeout,
	}
}

// Register adds fn to phase under name, used in logs and errors
func (sm *ShutdownManager) Register(phase Phase, name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.phases[phase] = append(sm.phases[phase], namedFunc{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	sm.logger.WithField("signal", sig.String()).Info("Starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown stops the servers and runs every phase. Later calls return the
// result of the first.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.result = sm.shutdown()
	})
	return sm.result
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	for _, server := range sm.servers {
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", server.Addr).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}

	var errs []error
	for _, phase := range []Phase{PhaseDrain, PhaseFlush, PhaseClose} {
		sm.mu.Lock()
		funcs := append([]namedFunc(nil), sm.phases[phase]...)
		sm.mu.Unlock()
		if len(funcs) == 0 {
			continue
		}

		phaseErrs, err := sm.runPhase(ctx, phase, funcs)
		if err != nil {
			return err
		}
		errs = append(errs, phaseErrs...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

// runPhase runs funcs concurrently and returns their failures. The second
// return is set only when the deadline expires first.
func (sm *ShutdownManager) runPhase(ctx context.Context, phase Phase, funcs []namedFunc) ([]error, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, nf := range funcs {
		wg.Add(1)
		go func(nf namedFunc) {
			defer wg.Done()
			if err := nf.fn(ctx); err != nil {
				sm.logger.WithError(err).WithFields(map[string]interface{}{
					"phase": phase.String(),
					"name":  nf.name,
				}).Error("Shutdown function failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", nf.name, err))
				mu.Unlock()
			}
		}(nf)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errs, nil
	case <-ctx.Done():
		sm.logger.WithField("phase", phase.String()).Warn("Shutdown timeout reached, forcing shutdown")
		return nil, fmt.Errorf("shutdown timeout reached during %s", phase)
	}
}
