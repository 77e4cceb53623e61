// Package breaker is the process-wide safety gate in front of mutating
// ledger operations. Callers receive an explicit *Breaker handle; there is no
// package-level instance.
package breaker

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"pos-ledger/logger"
)

// ErrHalted is returned by every guarded call once the breaker has tripped.
var ErrHalted = errors.New("circuit breaker tripped: ledger halted")

// Breaker starts enabled. Once tripped it stays tripped for the life of the
// process. A nil *Breaker never trips.
type Breaker struct {
	tripped atomic.Bool
}

func New() *Breaker {
	return &Breaker{}
}

// EmergencyStop trips the breaker. Operations already past their guard
// complete; the next guarded call fails.
func (b *Breaker) EmergencyStop() {
	if b == nil {
		return
	}
	if b.tripped.CompareAndSwap(false, true) {
		logger.Logger.Warn("Emergency stop: circuit breaker tripped")
	}
}

// Tripped reports whether guarded operations are refused.
func (b *Breaker) Tripped() bool {
	if b == nil {
		return false
	}
	return b.tripped.Load()
}

// Check returns ErrHalted when tripped.
func (b *Breaker) Check() error {
	if b.Tripped() {
		return ErrHalted
	}
	return nil
}

// Guard runs op unless the breaker is tripped.
func (b *Breaker) Guard(op func() error) error {
	if err := b.Check(); err != nil {
		return err
	}
	return op()
}

// Do is Guard for operations that return a value.
func Do[R any](b *Breaker, op func() (R, error)) (R, error) {
	if err := b.Check(); err != nil {
		var zero R
		logger.Logger.Debug("Guarded call refused", zap.Error(err))
		return zero, err
	}
	return op()
}
