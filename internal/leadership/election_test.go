/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestElection(t *testing.T, mr *miniredis.Miniredis, id string) *Election {
	t.Helper()
	e, err := NewElection(ElectionConfig{
		RedisAddr:       mr.Addr(),
		Key:             KeyFor("/srv/live"),
		InstanceID:      id,
		LeaseDuration:   time.Second,
		RenewalInterval: 20 * time.Millisecond,
		RetryInterval:   20 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new election: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKeyForCleansPath(t *testing.T) {
	if KeyFor("/srv/live/") != KeyFor("/srv/live") {
		t.Fatalf("trailing slash changed the key")
	}
	if KeyFor("/srv/live") == KeyFor("/srv/other") {
		t.Fatalf("different directories share a key")
	}
}

func TestNewElectionRequiresKey(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := NewElection(ElectionConfig{RedisAddr: mr.Addr()}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without key")
	}
}

func TestRunLeadsAndReleases(t *testing.T) {
	mr := miniredis.RunT(t)
	e := newTestElection(t, mr, "a")

	ctx, cancel := context.WithCancel(context.Background())
	var leading atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx, func(ctx context.Context) {
			leading.Store(true)
			<-ctx.Done()
			leading.Store(false)
		})
	}()

	waitFor(t, "lead", leading.Load)
	if !e.IsLeader() {
		t.Fatalf("IsLeader false while leading")
	}
	if id, err := e.Leader(context.Background()); err != nil || id != "a" {
		t.Fatalf("leader = %q, %v", id, err)
	}

	cancel()
	<-done
	if leading.Load() || e.IsLeader() {
		t.Fatalf("still leading after stop")
	}
	if mr.Exists(KeyFor("/srv/live")) {
		t.Fatalf("lease not released")
	}
}

func TestStandbyTakesOverAfterRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestElection(t, mr, "a")
	b := newTestElection(t, mr, "b")

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		a.Run(ctxA, func(ctx context.Context) { <-ctx.Done() })
	}()
	waitFor(t, "a to lead", a.IsLeader)

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	var bLed atomic.Int32
	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		b.Run(ctxB, func(ctx context.Context) {
			bLed.Add(1)
			<-ctx.Done()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	if bLed.Load() != 0 {
		t.Fatalf("standby led while lease was held")
	}

	cancelA()
	<-doneA
	waitFor(t, "b to take over", b.IsLeader)
	if bLed.Load() != 1 {
		t.Fatalf("b led %d times", bLed.Load())
	}
	cancelB()
	<-doneB
}

func TestLeadCancelledWhenLeaseStolen(t *testing.T) {
	mr := miniredis.RunT(t)
	e := newTestElection(t, mr, "a")
	key := KeyFor("/srv/live")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var leading atomic.Bool
	var cause atomic.Value
	go e.Run(ctx, func(ctx context.Context) {
		leading.Store(true)
		<-ctx.Done()
		cause.Store(context.Cause(ctx))
		leading.Store(false)
	})
	waitFor(t, "lead", leading.Load)

	// another instance took the key after ours expired
	mr.Set(key, "b")
	waitFor(t, "lead cancelled", func() bool { return !leading.Load() })
	if got, _ := cause.Load().(error); !errors.Is(got, ErrLeaseLost) {
		t.Fatalf("cancel cause = %v, want ErrLeaseLost", got)
	}
	waitFor(t, "leader flag cleared", func() bool { return !e.IsLeader() })
	time.Sleep(60 * time.Millisecond)
	if leading.Load() {
		t.Fatalf("re-acquired a lease held by another instance")
	}
	if got, _ := mr.Get(key); got != "b" {
		t.Fatalf("lease value = %q", got)
	}
}

func TestReacquireOwnLease(t *testing.T) {
	mr := miniredis.RunT(t)
	key := KeyFor("/srv/live")
	// left behind by a previous run of the same instance
	mr.Set(key, "a")
	mr.SetTTL(key, time.Minute)

	e := newTestElection(t, mr, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, func(ctx context.Context) { <-ctx.Done() })
	waitFor(t, "lead", e.IsLeader)
	if ttl := mr.TTL(key); ttl > time.Second {
		t.Fatalf("lease ttl not renewed to configured duration: %v", ttl)
	}
}
