package actor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKillSwitchFireIsIdempotentOnCause(t *testing.T) {
	k := NewKillSwitch(context.Background())
	first := errors.New("first")
	second := errors.New("second")
	k.Fire(first)
	k.Fire(second)
	if !k.Fired() {
		t.Fatal("expected Fired() true after Fire")
	}
	if !errors.Is(k.Cause(), first) {
		t.Fatalf("expected cause to stay %v, got %v", first, k.Cause())
	}
}

func TestWeakMailboxSendAfterCloseIsNoop(t *testing.T) {
	mb := NewBoundedMailbox[int](1)
	weak := NewWeakMailbox[int]("downstream", mb, nil)

	// Drain the one slot then mark closed to simulate the target actor
	// having exited.
	ctx := context.Background()
	if err := mb.Send(ctx, 1); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	mb.closed.Store(true)

	// Send should not block or panic; it just logs and returns.
	done := make(chan struct{})
	go func() {
		weak.Send(ctx, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("weak mailbox send blocked on closed target")
	}
}

func TestSupervisorFiresKillSwitchOnStuckActor(t *testing.T) {
	kill := NewKillSwitch(context.Background())
	sup := NewSupervisor(kill, nil)
	sup.interval = 10 * time.Millisecond

	finalized := make(chan struct{}, 1)
	actorCtx := NewContext("stuck-actor", kill)
	// Back-date progress so the first tick sees it as stale immediately.
	actorCtx.lastProgress.Store(time.Now().Add(-time.Hour).UnixNano())
	sup.Register(actorCtx, func() { finalized <- struct{}{} })

	go sup.Run()
	defer sup.Stop(context.Background())

	select {
	case <-kill.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("expected kill switch to fire for stuck actor")
	}
	var stuckErr *ErrActorStuck
	if !errors.As(kill.Cause(), &stuckErr) {
		t.Fatalf("expected ErrActorStuck cause, got %v", kill.Cause())
	}
	if stuckErr.Actor != "stuck-actor" {
		t.Fatalf("expected actor name stuck-actor, got %s", stuckErr.Actor)
	}

	select {
	case <-finalized:
	case <-time.After(time.Second):
		t.Fatal("expected finalizer to run once kill switch fired")
	}
}

func TestProtectZoneSuppressesStuckDetection(t *testing.T) {
	kill := NewKillSwitch(context.Background())
	sup := NewSupervisor(kill, nil)
	sup.interval = 10 * time.Millisecond

	actorCtx := NewContext("protected-actor", kill)
	actorCtx.lastProgress.Store(time.Now().Add(-time.Hour).UnixNano())
	exit := actorCtx.ProtectZone()
	sup.Register(actorCtx, func() {})

	go sup.Run()
	defer func() {
		exit()
		sup.Stop(context.Background())
	}()

	select {
	case <-kill.Context().Done():
		t.Fatal("kill switch should not fire while actor is in a protect zone")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestScheduleSelfMsgDeliversAfterDelay(t *testing.T) {
	kill := NewKillSwitch(context.Background())
	actorCtx := NewContext("self-scheduler", kill)
	mb := NewBoundedMailbox[string](1)

	ScheduleSelfMsg(actorCtx, mb, 10*time.Millisecond, "commit-timeout")

	select {
	case msg := <-mb.Chan():
		if msg != "commit-timeout" {
			t.Fatalf("expected commit-timeout, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected self-scheduled message to arrive")
	}
}

func TestUnboundedMailboxFIFO(t *testing.T) {
	mb := NewUnboundedMailbox[int]()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := mb.Send(ctx, i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		v, err := mb.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if v != i {
			t.Fatalf("expected FIFO order, want %d got %d", i, v)
		}
	}
}
