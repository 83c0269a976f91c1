package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiLogger fans entries out to several loggers
type MultiLogger struct {
	loggers []Logger
	async   bool // If true, log asynchronously
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		errChan: make(chan error, len(loggers)*16+1),
	}
}

// SetAsync sets whether logging should be asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// LogActivity writes the entry to all configured loggers
func (m *MultiLogger) LogActivity(ctx context.Context, entry *ActivityLog) error {
	return m.each(ctx, func(ctx context.Context, l Logger) error {
		return l.LogActivity(ctx, entry)
	})
}

// LogAdminAction writes the entry to all configured loggers
func (m *MultiLogger) LogAdminAction(ctx context.Context, entry *AdminAuditLog) error {
	return m.each(ctx, func(ctx context.Context, l Logger) error {
		return l.LogAdminAction(ctx, entry)
	})
}

func (m *MultiLogger) each(ctx context.Context, fn func(context.Context, Logger) error) error {
	if len(m.loggers) == 0 {
		return nil
	}

	if m.async {
		// The request context may be cancelled before the writes finish
		ctx = context.WithoutCancel(ctx)
		for _, logger := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := fn(ctx, l); err != nil {
					select {
					case m.errChan <- err:
					default:
						// Channel full, drop error
					}
				}
			}(logger)
		}
		return nil
	}

	var firstErr error
	for _, logger := range m.loggers {
		if err := fn(ctx, logger); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait waits for all async logging operations to complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// GetErrors drains errors that occurred during async logging
func (m *MultiLogger) GetErrors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending writes and closes all loggers
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
