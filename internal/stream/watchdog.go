package stream

import (
	"context"
	"errors"
	"time"
)

// ErrStalled is the cancellation cause set when a transfer receives no bytes for
// longer than its stall timeout.
var ErrStalled = errors.New("upstream transfer stalled")

// Watchdog cancels a context when Kick has not been called for the timeout.
// A zero timeout never fires.
type Watchdog struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

// NewWatchdog derives a context from parent that is canceled with ErrStalled once
// timeout elapses without a Kick.
func NewWatchdog(parent context.Context, timeout time.Duration) (context.Context, *Watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	wd := &Watchdog{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
	}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() {
			cancel(ErrStalled)
		})
	}
	return ctx, wd
}

// Kick postpones the deadline by another timeout.
func (wd *Watchdog) Kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

// Stalled reports whether the watchdog fired.
func (wd *Watchdog) Stalled() bool {
	return errors.Is(context.Cause(wd.ctx), ErrStalled)
}

// Stop disarms the timer and releases the derived context.
func (wd *Watchdog) Stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	wd.cancel(nil)
}
