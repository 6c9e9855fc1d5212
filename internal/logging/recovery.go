package logging

import (
	"fmt"
	"runtime/debug"
)

// RecoveryHandler handles panics with stack trace logging. Per-conversation
// failures must never take the whole process down, so every dispatch
// goroutine runs under one of these.
type RecoveryHandler struct {
	logger  *Logger
	OnPanic func(err interface{}, stack string)
}

// NewRecoveryHandler creates a recovery handler logging through logger.
func NewRecoveryHandler(logger *Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// Wrap executes fn with panic recovery
func (r *RecoveryHandler) Wrap(fn func()) {
	defer r.recover()
	fn()
}

// WrapError executes fn with panic recovery, returning error on panic
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.handlePanic(rec, string(debug.Stack()))
		}
	}()
	return fn()
}

func (r *RecoveryHandler) recover() {
	if rec := recover(); rec != nil {
		r.handlePanic(rec, string(debug.Stack()))
	}
}

func (r *RecoveryHandler) handlePanic(rec interface{}, stack string) error {
	err := fmt.Errorf("panic recovered: %v", rec)
	r.logger.Error("panic_recovered", map[string]interface{}{
		"stack": stack,
	}, err)

	if r.OnPanic != nil {
		r.OnPanic(rec, stack)
	}
	return err
}

// SafeGo launches a goroutine with panic recovery.
func SafeGo(logger *Logger, fn func()) {
	go func() {
		NewRecoveryHandler(logger).Wrap(fn)
	}()
}
