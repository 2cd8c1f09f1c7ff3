/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/loopcast/internal/controlsurface/surfacetest"
	"github.com/friendsincode/loopcast/internal/db"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcess struct {
	mu        sync.Mutex
	calls     []string
	launchErr error
	surface   *surfacetest.Fake
}

func (p *fakeProcess) Kill(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "kill")
	p.surface.SetConnected(false)
	p.surface.SetStreaming(false)
	return nil
}

func (p *fakeProcess) Launch(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "launch")
	if p.launchErr != nil {
		return p.launchErr
	}
	p.surface.SetFrozen(false)
	return nil
}

func (p *fakeProcess) log() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.calls, ",")
}

type recordingBus struct {
	mu  sync.Mutex
	got []events.EventType
}

func (b *recordingBus) Publish(t events.EventType, _ events.Payload) {
	b.mu.Lock()
	b.got = append(b.got, t)
	b.mu.Unlock()
}

func (b *recordingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.EventType(nil), b.got...)
}

type harness struct {
	surface   *surfacetest.Fake
	process   *fakeProcess
	store     *store.Store
	bus       *recordingBus
	wd        *Watchdog
	froze     int
	recovered []string
	sentinels string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &harness{
		surface:   surfacetest.New(),
		bus:       &recordingBus{},
		store:     store.New(gdb, time.Second, zerolog.Nop()),
		sentinels: t.TempDir(),
	}
	h.process = &fakeProcess{surface: h.surface}
	cfg := DefaultConfig()
	cfg.SentinelDir = h.sentinels
	cfg.LaunchWait = 0
	cfg.ReconnectDelay = 0
	cfg.ReconnectAttempts = 2
	hooks := Hooks{
		CurrentItem: func() string { return "item-I" },
		OnFreeze:    func() { h.froze++ },
		OnRecovered: func(_ context.Context, item string) { h.recovered = append(h.recovered, item) },
	}
	h.wd = New(h.surface, h.process, h.store, h.bus, hooks, cfg, zerolog.Nop())
	return h
}

// polls runs n checks and returns the last error.
func (h *harness) polls(n int) error {
	var err error
	for i := 0; i < n; i++ {
		err = h.wd.Check(context.Background())
	}
	return err
}

func TestAdvancingFramesNeverFreeze(t *testing.T) {
	h := newHarness(t)
	if err := h.polls(10); err != nil {
		t.Fatalf("Check = %v", err)
	}
	if h.process.log() != "" {
		t.Fatalf("process touched: %s", h.process.log())
	}
}

func TestFreezeRecoveryRestoresStreaming(t *testing.T) {
	h := newHarness(t)
	h.surface.SetStreaming(true)
	if err := os.WriteFile(filepath.Join(h.sentinels, "run_1234"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.polls(1); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	h.surface.SetFrozen(true)
	// two stalled polls are below the threshold
	if err := h.polls(2); err != nil {
		t.Fatalf("early freeze: %v", err)
	}
	if err := h.polls(1); !errors.Is(err, ErrRenderFreeze) {
		t.Fatalf("third stall = %v, want ErrRenderFreeze", err)
	}

	if got := h.process.log(); got != "kill,launch" {
		t.Fatalf("process calls = %s", got)
	}
	if !h.surface.IsStreaming() || !h.surface.IsConnected() {
		t.Fatalf("streaming = %v connected = %v", h.surface.IsStreaming(), h.surface.IsConnected())
	}
	if h.froze != 1 || len(h.recovered) != 1 || h.recovered[0] != "item-I" {
		t.Fatalf("hooks: froze=%d recovered=%v", h.froze, h.recovered)
	}
	if entries, _ := os.ReadDir(h.sentinels); len(entries) != 0 {
		t.Fatalf("sentinels left: %d", len(entries))
	}
	if h.wd.Blocked() {
		t.Fatalf("blocked after a successful recovery")
	}

	incs, err := h.store.Incidents(context.Background(), 10)
	if err != nil || len(incs) != 1 {
		t.Fatalf("incidents = %v, %v", incs, err)
	}
	if !incs[0].CapturedStreaming || incs[0].CapturedItem != "item-I" || incs[0].Outcome != "recovered" {
		t.Fatalf("incident = %+v", incs[0])
	}
	types := h.bus.types()
	if len(types) != 2 || types[0] != events.EventFreezeDetected || types[1] != events.EventFreezeRecovered {
		t.Fatalf("events = %v", types)
	}
}

func TestRestartedSurfaceStartsFreshBaseline(t *testing.T) {
	h := newHarness(t)
	h.surface.SetFrozen(true)
	if err := h.polls(4); !errors.Is(err, ErrRenderFreeze) {
		t.Fatalf("freeze = %v", err)
	}
	// the relaunched surface counts from a new origin; the first sample is a baseline
	h.surface.SetFrames(5)
	if err := h.polls(3); err != nil {
		t.Fatalf("after restart = %v", err)
	}
}

func TestHeartbeatFailureResetsSampling(t *testing.T) {
	h := newHarness(t)
	h.surface.SetFrozen(true)
	_ = h.polls(3) // baseline + 2 stalls
	h.surface.SetConnected(false)
	_ = h.polls(1)
	h.surface.SetConnected(true)
	// baseline again, then two stalls: still under the threshold
	if err := h.polls(3); err != nil {
		t.Fatalf("disconnect counted toward a freeze: %v", err)
	}
	if h.process.log() != "" {
		t.Fatalf("process touched: %s", h.process.log())
	}
}

func TestFailedRecoveryBlocksUntilManualReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.process.launchErr = errors.New("executable missing")
	h.surface.SetFrozen(true)

	if err := h.polls(4); !errors.Is(err, ErrRenderFreeze) {
		t.Fatalf("freeze = %v", err)
	}
	if !h.wd.Blocked() {
		t.Fatalf("not blocked after failed recovery")
	}
	inc, err := h.store.BlockingIncident(ctx)
	if err != nil || inc == nil {
		t.Fatalf("blocking incident = %v, %v", inc, err)
	}

	// operator brought the surface back by hand, but it froze again
	h.surface.SetConnected(true)
	if err := h.polls(4); !errors.Is(err, ErrRecoveryBlocked) {
		t.Fatalf("second freeze = %v, want ErrRecoveryBlocked", err)
	}
	if got := h.process.log(); got != "kill,launch" {
		t.Fatalf("automatic restart while blocked: %s", got)
	}

	if err := h.wd.ManualReconnect(ctx); err != nil {
		t.Fatalf("ManualReconnect: %v", err)
	}
	if h.wd.Blocked() {
		t.Fatalf("still blocked after manual reconnect")
	}
	if inc, _ := h.store.BlockingIncident(ctx); inc != nil {
		t.Fatalf("incident not cleared: %+v", inc)
	}
	if len(h.recovered) != 1 {
		t.Fatalf("OnRecovered calls = %d", len(h.recovered))
	}
}

func TestManualReconnectFailureKeepsBlock(t *testing.T) {
	h := newHarness(t)
	h.wd.setBlocked(true)
	h.surface.SetConnected(false)
	h.surface.ConnectErr = errors.New("refused")
	if err := h.wd.ManualReconnect(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if !h.wd.Blocked() {
		t.Fatalf("block cleared without a reconnect")
	}
}

func TestStartRestoresBlockFromStore(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.process.launchErr = errors.New("boom")
	h.surface.SetFrozen(true)
	_ = h.polls(4)

	h2 := New(h.surface, h.process, h.store, h.bus, Hooks{}, DefaultConfig(), zerolog.Nop())
	done := make(chan struct{})
	go func() {
		h2.Start(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !h2.Blocked() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if !h2.Blocked() {
		t.Fatalf("block not restored on start")
	}
}

func TestClearSentinelsMissingDir(t *testing.T) {
	n, err := ClearSentinels(filepath.Join(t.TempDir(), "absent"))
	if err != nil || n != 0 {
		t.Fatalf("ClearSentinels = %d, %v", n, err)
	}
}
