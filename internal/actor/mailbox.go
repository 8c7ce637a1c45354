package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrMailboxClosed is returned by Send/Ask on a mailbox whose actor has
// already exited.
var ErrMailboxClosed = errors.New("actor: mailbox closed")

// Pool selects which runtime pool an actor prefers (spec §4.1, §5).
type Pool int

const (
	// PoolAsync hosts I/O-bound actors (sources, uploader orchestration,
	// publisher, metastore/storage calls) — backed by ordinary goroutines.
	PoolAsync Pool = iota
	// PoolBlocking hosts CPU-bound actors (indexer, packager, collectors),
	// one goroutine dedicated per actor so blocking segment-writer I/O never
	// starves siblings.
	PoolBlocking
)

// Mailbox is a FIFO, per-sender-ordered message channel with a capacity
// policy: bounded(n) or unbounded (spec §4.1).
type Mailbox[T any] struct {
	ch     chan T
	in     chan T // send side of an unbounded mailbox; nil for a bounded one
	closed atomic.Bool
}

// NewBoundedMailbox builds a mailbox with a fixed capacity.
func NewBoundedMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// NewUnboundedMailbox builds a mailbox backed by an internal goroutine that
// buffers without bound, handing messages off to receivers as they drain.
func NewUnboundedMailbox[T any]() *Mailbox[T] {
	in := make(chan T)
	out := make(chan T)
	mb := &Mailbox[T]{ch: out, in: in}
	go func() {
		var queue []T
		for {
			var sendCh chan T
			var next T
			if len(queue) > 0 {
				sendCh = out
				next = queue[0]
			}
			select {
			case v, ok := <-in:
				if !ok {
					if sendCh == nil {
						close(out)
						return
					}
					// Drain remaining queue before closing.
					for _, q := range queue {
						out <- q
					}
					close(out)
					return
				}
				queue = append(queue, v)
			case sendCh <- next:
				queue = queue[1:]
			}
		}
	}()
	mb.ch = out
	return mb
}

// Send delivers a message, respecting backpressure on a bounded mailbox
// (spec §4.1). Returns ctx.Err() if ctx is done first, or ErrMailboxClosed
// if the mailbox has been closed.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	if m.closed.Load() {
		return ErrMailboxClosed
	}
	sendCh := m.ch
	if m.in != nil {
		sendCh = m.in
	}
	select {
	case sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next message, or returns ctx.Err() if ctx is done
// first, or (zero, ErrMailboxClosed) if the mailbox was closed and drained.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-m.ch:
		if !ok {
			return zero, ErrMailboxClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Chan exposes the receive channel directly, for use inside a select
// alongside other event sources (spec §9 "Coroutine control flow").
func (m *Mailbox[T]) Chan() <-chan T { return m.ch }

// WeakMailbox is a cross-actor reference that degrades to a no-op once the
// target actor has exited, rather than keeping it alive or panicking (spec
// §9 "Cyclic actor references"). The publisher holds WeakMailboxes to the
// merge-planner and (optionally) the source for exactly this reason.
type WeakMailbox[T any] struct {
	target       *Mailbox[T]
	name         string
	log          *slog.Logger
	closedLogged atomic.Bool
}

// NewWeakMailbox wraps target for weak, best-effort delivery.
func NewWeakMailbox[T any](name string, target *Mailbox[T], log *slog.Logger) *WeakMailbox[T] {
	if log == nil {
		log = slog.Default()
	}
	return &WeakMailbox[T]{target: target, name: name, log: log}
}

// Send attempts best-effort delivery and reports nothing back, since callers
// treat this as fire-and-forget (spec §4.6: "best-effort notify"). A nil
// target is a silent no-op; a closed target logs on the first dropped send
// only.
func (w *WeakMailbox[T]) Send(ctx context.Context, msg T) {
	if w == nil || w.target == nil {
		return
	}
	if err := w.target.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrMailboxClosed) && !w.closedLogged.CompareAndSwap(false, true) {
			return
		}
		w.log.Info("actor: weak mailbox send dropped", "target", w.name, "error", err)
	}
}
