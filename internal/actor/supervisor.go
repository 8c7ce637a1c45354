package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HeartbeatInterval is the default polling period for stuck-actor detection
// (spec §5).
const HeartbeatInterval = time.Second

// ErrActorStuck is the kill-switch cause when an actor goes silent outside a
// protect zone for longer than HeartbeatInterval.
type ErrActorStuck struct {
	Actor string
	Since time.Duration
}

func (e *ErrActorStuck) Error() string {
	return fmt.Sprintf("actor %q stuck: no progress for %s", e.Actor, e.Since)
}

// watchedActor is the supervisor's bookkeeping for one registered actor.
type watchedActor struct {
	ctx      *Context
	finalize func()
	once     sync.Once
}

// Supervisor polls every registered actor's heartbeat and trips the shared
// KillSwitch the first time one goes stuck outside a protect zone (spec
// §4.1, §5 "Liveness"). It also guarantees each actor's finalizer runs
// exactly once, whether triggered by the actor's own exit or by the kill
// switch firing.
type Supervisor struct {
	kill     *KillSwitch
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	actors map[string]*watchedActor

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor builds a Supervisor for one pipeline's kill switch.
func NewSupervisor(kill *KillSwitch, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		kill:     kill,
		interval: HeartbeatInterval,
		log:      log,
		actors:   make(map[string]*watchedActor),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds an actor to the watch list. finalize is invoked exactly
// once, either when Finalize(name) is called by the actor itself on normal
// exit, or when the supervisor detects the kill switch has fired.
func (s *Supervisor) Register(ctx *Context, finalize func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[ctx.Name()] = &watchedActor{ctx: ctx, finalize: finalize}
}

// Finalize runs name's finalizer if it has not already run, and stops
// watching it. Actors call this from their own exit path (spec §4.1).
func (s *Supervisor) Finalize(name string) {
	s.mu.Lock()
	w, ok := s.actors[name]
	if ok {
		delete(s.actors, name)
	}
	s.mu.Unlock()
	if ok {
		w.once.Do(w.finalize)
	}
}

// Run polls every registered actor's heartbeat until the kill switch fires
// or Stop is called. Run should be started in its own goroutine.
func (s *Supervisor) Run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.kill.Context().Done():
			s.finalizeAll()
			return
		case <-ticker.C:
			s.checkAll()
		}
	}
}

func (s *Supervisor) checkAll() {
	s.mu.Lock()
	snapshot := make([]*watchedActor, 0, len(s.actors))
	for _, w := range s.actors {
		snapshot = append(snapshot, w)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, w := range snapshot {
		if w.ctx.protected() {
			continue
		}
		since := now.Sub(w.ctx.lastProgressAt())
		if since > s.interval {
			s.log.Warn("actor: stuck actor detected", "actor", w.ctx.Name(), "since", since)
			s.kill.Fire(&ErrActorStuck{Actor: w.ctx.Name(), Since: since})
			return
		}
	}
}

func (s *Supervisor) finalizeAll() {
	s.mu.Lock()
	snapshot := make([]*watchedActor, 0, len(s.actors))
	for name, w := range s.actors {
		snapshot = append(snapshot, w)
		delete(s.actors, name)
	}
	s.mu.Unlock()
	for _, w := range snapshot {
		w.once.Do(w.finalize)
	}
}

// Stop halts the polling loop without firing the kill switch, used during
// orderly pipeline shutdown after every actor has already exited (context
// here is only for honoring an external shutdown deadline).
func (s *Supervisor) Stop(ctx context.Context) {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}
