package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cmdhist"
)

func newEngine(t *testing.T) *cmdhist.Engine {
	t.Helper()
	e, err := cmdhist.New(cmdhist.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func noop(ctx context.Context, payload any) error { return nil }

// TestObserveCountsEngineActivity verifies the event handlers move the right
// counters and gauges, and that the detach function silences them again.
func TestObserveCountsEngineActivity(t *testing.T) {
	Enable(Config{Enabled: true, LogInterval: 0})
	t.Cleanup(func() { Enable(Config{Enabled: false, LogInterval: 0}) })

	engine := newEngine(t)
	detach := Observe(engine)

	ctx := context.Background()
	beforeCreate := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create"))
	beforeUndo := testutil.ToFloat64(undoTotal)
	beforeRedo := testutil.ToFloat64(redoTotal)

	cmd := cmdhist.NewCreateCommand("ann-1", "state", cmdhist.ExecutionContext{}, noop, noop)
	if err := engine.ExecuteCommand(ctx, cmd); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !engine.Undo(ctx) {
		t.Fatalf("undo failed")
	}
	if !engine.Redo(ctx) {
		t.Fatalf("redo failed")
	}

	if d := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create")) - beforeCreate; d != 1 {
		t.Fatalf("commandsExecutedTotal{create} delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(undoTotal) - beforeUndo; d != 1 {
		t.Fatalf("undoTotal delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(redoTotal) - beforeRedo; d != 1 {
		t.Fatalf("redoTotal delta = %v, want 1", d)
	}

	// After the redo the entry is reachable by undo again.
	if got := testutil.ToFloat64(undoAvailable); got != 1 {
		t.Fatalf("undoAvailable = %v, want 1", got)
	}
	if got := testutil.ToFloat64(redoAvailable); got != 0 {
		t.Fatalf("redoAvailable = %v, want 0", got)
	}
	if got := testutil.ToFloat64(historyEntries); got != 1 {
		t.Fatalf("historyEntries = %v, want 1", got)
	}

	// Detached observers must not move counters.
	detach()
	afterDetach := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create"))
	if err := engine.ExecuteCommand(ctx, cmdhist.NewCreateCommand("ann-2", "state", cmdhist.ExecutionContext{}, noop, noop)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if d := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create")) - afterDetach; d != 0 {
		t.Fatalf("expected no delta after detach, got %v", d)
	}
}

// TestObserveFailureCounters drives execute and undo failures and checks the
// failure counters, including the direction label.
func TestObserveFailureCounters(t *testing.T) {
	Enable(Config{Enabled: true, LogInterval: 0})
	t.Cleanup(func() { Enable(Config{Enabled: false, LogInterval: 0}) })

	engine := newEngine(t)
	detach := Observe(engine)
	defer detach()
	ctx := context.Background()

	beforeFail := testutil.ToFloat64(commandFailuresTotal)
	boom := cmdhist.NewFuncCommand(cmdhist.CommandUpdate, "always fails", []string{"ann-1"}, cmdhist.ExecutionContext{},
		func(ctx context.Context) error { return errors.New("boom") }, nil)
	if err := engine.ExecuteCommand(ctx, boom); err == nil {
		t.Fatalf("expected execution failure")
	}
	if d := testutil.ToFloat64(commandFailuresTotal) - beforeFail; d != 1 {
		t.Fatalf("commandFailuresTotal delta = %v, want 1", d)
	}

	beforeRevFail := testutil.ToFloat64(reversalFailuresTotal.WithLabelValues("undo"))
	fragile := cmdhist.NewFuncCommand(cmdhist.CommandUpdate, "undo fails", []string{"ann-1"}, cmdhist.ExecutionContext{},
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("cannot") })
	if err := engine.ExecuteCommand(ctx, fragile); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if engine.Undo(ctx) {
		t.Fatalf("expected undo to fail")
	}
	if d := testutil.ToFloat64(reversalFailuresTotal.WithLabelValues("undo")) - beforeRevFail; d != 1 {
		t.Fatalf("reversalFailuresTotal{undo} delta = %v, want 1", d)
	}
}

// TestObserveDisabledIsNoop ensures handlers do nothing while disabled.
func TestObserveDisabledIsNoop(t *testing.T) {
	Enable(Config{Enabled: false, LogInterval: 0})

	engine := newEngine(t)
	detach := Observe(engine)
	defer detach()

	before := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create"))
	if err := engine.ExecuteCommand(context.Background(),
		cmdhist.NewCreateCommand("ann-1", "state", cmdhist.ExecutionContext{}, noop, noop)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if d := testutil.ToFloat64(commandsExecutedTotal.WithLabelValues("create")) - before; d != 0 {
		t.Fatalf("expected no delta while disabled, got %v", d)
	}
}

// TestPublishSnapshot_EvictOldAgg ensures idle annotation aggregates are
// evicted during a snapshot.
func TestPublishSnapshot_EvictOldAgg(t *testing.T) {
	Enable(Config{Enabled: true, LogInterval: 0, Window: 10 * time.Millisecond, TopN: 5})
	t.Cleanup(func() { Enable(Config{Enabled: false, LogInterval: 0}) })

	a := &annAgg{}
	a.lastUpdate.Store(time.Now().Add(-30 * time.Millisecond).UnixNano())
	agg.Store("stale-ann", a)

	publishSnapshot()

	if _, ok := agg.Load("stale-ann"); ok {
		t.Fatalf("expected stale aggregate to be evicted during snapshot")
	}
}

// TestExporterLoop_StartStop starts the periodic exporter loop and then stops it via reconfig.
func TestExporterLoop_StartStop(t *testing.T) {
	Enable(Config{Enabled: true, LogInterval: 5 * time.Millisecond, Window: 10 * time.Millisecond, TopN: 2})
	recordExecution([]string{"loop-ann"})
	recordUndo()

	time.Sleep(20 * time.Millisecond)
	Enable(Config{Enabled: false, LogInterval: 0})
}

// TestStartMetricsEndpoint ensures the code path starts without panicking.
func TestStartMetricsEndpoint(t *testing.T) {
	srv := StartMetricsEndpoint(":0")
	time.Sleep(5 * time.Millisecond)
	_ = srv.Close()
}

// TestRegisterDroppedRecords exposes a closure-backed counter and reads it back.
func TestRegisterDroppedRecords(t *testing.T) {
	var drops int64 = 7
	c := RegisterDroppedRecords(func() int64 { return drops })
	if got := testutil.ToFloat64(c); got != 7 {
		t.Fatalf("dropped records = %v, want 7", got)
	}
	drops = 9
	if got := testutil.ToFloat64(c); got != 9 {
		t.Fatalf("dropped records after update = %v, want 9", got)
	}
}
