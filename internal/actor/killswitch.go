// Package actor is a small cooperative scheduling runtime: mailboxes, a
// shared kill switch, a heartbeat-based supervisor, and weak cross-actor
// mailbox references (spec §4.1, §9 "Cyclic actor references").
//
// It generalizes the teacher's fn.Stage/fn.Result composition model (a
// single-shot function pipeline) to long-lived actors that own a mailbox and
// run until told to stop, and borrows resilience.Breaker's guarded
// state-machine shape for the exit-status transitions below.
package actor

import (
	"context"
	"sync"
)

// KillSwitch is shared by every actor in one pipeline. Firing it cancels the
// shared context; actors observe this at their next mailbox receive or
// protect-zone exit (spec §4.1, §5 "Cancellation").
type KillSwitch struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
	cause  error
}

// NewKillSwitch builds a KillSwitch derived from parent.
func NewKillSwitch(parent context.Context) *KillSwitch {
	ctx, cancel := context.WithCancelCause(parent)
	return &KillSwitch{ctx: ctx, cancel: cancel}
}

// Context returns the cancellable context actors should select on.
func (k *KillSwitch) Context() context.Context { return k.ctx }

// Fire cancels the pipeline's context with the given cause. Only the first
// call's cause is retained.
func (k *KillSwitch) Fire(cause error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cause == nil {
		k.cause = cause
	}
	k.cancel(cause)
}

// Fired reports whether the kill switch has been tripped.
func (k *KillSwitch) Fired() bool {
	select {
	case <-k.ctx.Done():
		return true
	default:
		return false
	}
}

// Cause returns the error that tripped the kill switch, if any.
func (k *KillSwitch) Cause() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cause
}
