package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Context is handed to every actor's Run. It exposes the pipeline's kill
// switch plus the heartbeat/protect-zone/self-scheduling primitives the
// supervisor and actor bodies share (spec §4.1, §5).
type Context struct {
	name string
	kill *KillSwitch

	lastProgress atomic.Int64 // unix nanos
	inProtect    atomic.Int32 // count of active protect zones

	mu      sync.Mutex
	timers  []*time.Timer
}

// NewContext builds an actor Context bound to kill, named for logging and
// supervisor diagnostics.
func NewContext(name string, kill *KillSwitch) *Context {
	c := &Context{name: name, kill: kill}
	c.Progress()
	return c
}

// Name returns the actor's name.
func (c *Context) Name() string { return c.name }

// Ctx returns the pipeline's cancellable context, for actors that need to
// pass it through to blocking calls (storage, metastore, network I/O).
func (c *Context) Ctx() context.Context { return c.kill.Context() }

// Done returns the pipeline's cancellation channel.
func (c *Context) Done() <-chan struct{} { return c.kill.Context().Done() }

// Err returns the pipeline's cancellation cause, if any.
func (c *Context) Err() error { return context.Cause(c.kill.Context()) }

// Kill fires the shared kill switch, aborting every actor in the pipeline
// (spec §4.1: "a shared KillSwitch per pipeline aborts all actors on any
// failure").
func (c *Context) Kill(cause error) { c.kill.Fire(cause) }

// Progress stamps a heartbeat token. The supervisor polls this; an actor
// silent for longer than one HeartbeatInterval outside a protect zone is
// considered stuck (spec §5 "Liveness").
func (c *Context) Progress() {
	c.lastProgress.Store(time.Now().UnixNano())
}

func (c *Context) lastProgressAt() time.Time {
	return time.Unix(0, c.lastProgress.Load())
}

// ProtectZone marks the start of a span the supervisor must not treat as
// stuck regardless of elapsed time — e.g. a blocking network upload with its
// own timeout. Call the returned func on exit from the span.
func (c *Context) ProtectZone() func() {
	c.inProtect.Add(1)
	c.Progress()
	return func() {
		c.inProtect.Add(-1)
		c.Progress()
	}
}

func (c *Context) protected() bool {
	return c.inProtect.Load() > 0
}

// ScheduleSelfMsg arranges for msg to be sent to mailbox after delay,
// backed by time.AfterFunc (spec §4.1: e.g. the indexer's CommitTimeout).
// The timer is tracked so Close can cancel any still pending at shutdown.
func ScheduleSelfMsg[T any](c *Context, mailbox *Mailbox[T], delay time.Duration, msg T) {
	t := time.AfterFunc(delay, func() {
		_ = mailbox.Send(context.Background(), msg)
	})
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
}

// Close cancels any outstanding self-scheduled timers. Actors call this from
// their finalizer.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

// SendExitWithSuccess delivers a best-effort "I'm done" signal to mailbox,
// used by an upstream actor to tell its downstream it has finished emitting
// (spec §4.1: ExitSuccess/ExitQuit propagation to the next stage).
func SendExitWithSuccess[T any](ctx context.Context, mailbox *Mailbox[T], msg T) {
	_ = mailbox.Send(ctx, msg)
}
