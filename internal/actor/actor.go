package actor

import "fmt"

// Actor is one node of the pipeline DAG (spec §4.1). Implementations embed
// their own typed Mailbox[T] directly (mailboxes are not part of this
// interface since each actor's inbound message type differs).
type Actor interface {
	// Name identifies the actor for logging and supervisor diagnostics.
	Name() string
	// Pool reports which runtime pool this actor should run on.
	Pool() Pool
	// Run drives the actor's receive loop until it exits, returning the
	// terminal ExitStatus. Run must return promptly once actorCtx is done.
	Run(actorCtx *Context) ExitStatus
}

// Spawn starts a on its own goroutine, registers it with sup, and arranges
// for sup.Finalize to run when Run returns. The returned channel receives
// the actor's terminal ExitStatus exactly once. A panic inside Run is
// recovered, reported as ExitPanicked, and fires the shared kill switch
// with the recovered value as cause — e.g. the indexer's checkpoint
// extend-failure panic (spec.md §4.3: "extend-failure is fatal").
func Spawn(a Actor, sup *Supervisor, actorCtx *Context, finalize func()) <-chan ExitStatus {
	sup.Register(actorCtx, finalize)
	done := make(chan ExitStatus, 1)
	go func() {
		status := ExitPanicked
		defer func() {
			if r := recover(); r != nil {
				actorCtx.kill.Fire(fmt.Errorf("actor %q panicked: %v", a.Name(), r))
				status = ExitPanicked
			}
			sup.Finalize(a.Name())
			done <- status
		}()
		status = a.Run(actorCtx)
	}()
	return done
}
