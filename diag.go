package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/outofforest/logger"
	"go.uber.org/zap"
)

// AssertionError is the panic value raised by class-1 programmer
// errors (spec.md §7): builder overflow, invalid static-size
// registration, extended-type exhaustion. It carries the violated
// constraint so a recovering caller (e.g. a test) can inspect it.
type AssertionError struct {
	msg string
}

func (e *AssertionError) Error() string { return e.msg }

func newAssertionError(msg string, args ...any) *AssertionError {
	return &AssertionError{msg: fmt.Sprintf(msg, args...)}
}

var (
	logOnce sync.Once
	log     atomic.Pointer[zap.Logger]
)

func defaultLogger() *zap.Logger {
	logOnce.Do(func() {
		log.Store(logger.New(logger.DefaultConfig))
	})
	return log.Load()
}

// SetLogger overrides the package-level logger used to record
// programmer-error assertions before they panic (builder overflow,
// invalid static-size registration, extended-type exhaustion, and so
// on). Passing nil restores the default. Never required: every
// assertion panics regardless of whether a logger is configured.
func SetLogger(l *zap.Logger) {
	// Mark the lazy default as done so a later defaultLogger call does
	// not replace l.
	logOnce.Do(func() {})
	if l == nil {
		l = logger.New(logger.DefaultConfig)
	}
	log.Store(l)
}

// assertf logs msg at Error level with args and then panics with the
// same message. Used exclusively for class-1 programmer errors per
// spec.md §7: overflow, invalid registration, exhausted tables.
func assertf(msg string, args ...any) {
	defaultLogger().Sugar().Errorf(msg, args...)
	panic(newAssertionError(msg, args...))
}
