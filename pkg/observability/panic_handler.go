package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack. Call it
// deferred at the top of goroutines that must not take the process down,
// such as scheduled jobs:
//
//	defer observability.RecoverPanic(log, "subscription sweep")
//
// The panic is not re-raised.
func RecoverPanic(log *logrus.Logger, where string) {
	if r := recover(); r != nil {
		LogPanic(log, r, where)
	}
}

// LogPanic logs an already recovered value with the current stack
func LogPanic(log *logrus.Logger, r interface{}, where string) {
	log.WithFields(logrus.Fields{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}

// MustRecover converts a recovered value into an error, nil when r is nil:
//
//	defer func() {
//	    if perr := observability.MustRecover(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
