// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmdhist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// newTestEngine builds an engine with a discard logger so expected warnings
// do not pollute test output.
func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

// eventLog collects emitted events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func collectEvents(e *Engine, types ...EventType) *eventLog {
	l := &eventLog{}
	for _, t := range types {
		e.On(t, func(ev Event) {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		})
	}
	return l
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func createSpy(r *recorder, id string) Command {
	return NewCreateCommand(id, id+"-state", ExecutionContext{ViewportID: "vp-1"}, r.apply, r.revert)
}

// assertInfo compares the undo/redo counts reported by HistoryInfo.
func assertInfo(t *testing.T, e *Engine, wantUndo, wantRedo int) {
	t.Helper()
	info := e.HistoryInfo()
	if info.UndoCount != wantUndo || info.RedoCount != wantRedo {
		t.Fatalf("HistoryInfo() = (undo %d, redo %d), want (undo %d, redo %d)",
			info.UndoCount, info.RedoCount, wantUndo, wantRedo)
	}
}

// TestEngine_RoundTrip executes N reversible commands, undoes all N, then
// redoes all N.
// Expectation: the cursor returns to N-1 with every entry executed, and each
// command's apply ran exactly twice (execute + redo) while revert ran once
// (undo).
func TestEngine_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	const n = 3
	recorders := make([]*recorder, n)
	for i := 0; i < n; i++ {
		recorders[i] = &recorder{}
		if err := e.ExecuteCommand(ctx, createSpy(recorders[i], "ann-"+string(rune('a'+i)))); err != nil {
			t.Fatalf("ExecuteCommand(%d) error: %v", i, err)
		}
	}
	assertInfo(t, e, n, 0)

	for i := 0; i < n; i++ {
		if !e.Undo(ctx) {
			t.Fatalf("Undo() #%d returned false", i+1)
		}
	}
	assertInfo(t, e, 0, n)

	for i := 0; i < n; i++ {
		if !e.Redo(ctx) {
			t.Fatalf("Redo() #%d returned false", i+1)
		}
	}
	assertInfo(t, e, n, 0)

	for i, r := range recorders {
		if len(r.applied) != 2 {
			t.Errorf("command %d: apply called %d times, want 2", i, len(r.applied))
		}
		if len(r.reverted) != 1 {
			t.Errorf("command %d: revert called %d times, want 1", i, len(r.reverted))
		}
	}
	for _, rec := range e.CommandHistory(0) {
		if rec.State != StateExecuted {
			t.Errorf("entry %d state = %q after round trip, want %q", rec.Index, rec.State, StateExecuted)
		}
	}
}

// TestEngine_LinearInvalidation checks standard linear-history semantics:
// executing a new command after an undo truncates the redo chain, making the
// undone command unreachable.
func TestEngine_LinearInvalidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	r := &recorder{}

	a := createSpy(r, "a")
	b := createSpy(r, "b")
	c := createSpy(r, "c")
	for _, cmd := range []Command{a, b} {
		if err := e.ExecuteCommand(ctx, cmd); err != nil {
			t.Fatalf("ExecuteCommand error: %v", err)
		}
	}
	if !e.Undo(ctx) {
		t.Fatal("Undo() returned false")
	}
	if err := e.ExecuteCommand(ctx, c); err != nil {
		t.Fatalf("ExecuteCommand(c) error: %v", err)
	}

	if e.CanRedo() {
		t.Error("CanRedo() = true after executing past an undo")
	}
	records := e.CommandHistory(0)
	if len(records) != 2 {
		t.Fatalf("history length = %d, want 2 (b truncated)", len(records))
	}
	if records[0].ID != a.ID() || records[1].ID != c.ID() {
		t.Errorf("history = [%s %s], want [a c]", records[0].Description, records[1].Description)
	}
}

// TestEngine_BoundedHistory executes 5 commands with MaxHistorySize=3.
// Expectation: exactly 3 entries survive, they are commands 3, 4, 5 with
// re-stamped indexes 0..2, and the cursor sits on the last one.
func TestEngine_BoundedHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{MaxHistorySize: 3})
	r := &recorder{}

	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		cmd := createSpy(r, "ann")
		ids[i] = cmd.ID()
		if err := e.ExecuteCommand(ctx, cmd); err != nil {
			t.Fatalf("ExecuteCommand(%d) error: %v", i, err)
		}
	}

	records := e.CommandHistory(0)
	if len(records) != 3 {
		t.Fatalf("history length = %d, want 3", len(records))
	}
	for i, rec := range records {
		if rec.ID != ids[i+2] {
			t.Errorf("entry %d is command %q, want command #%d", i, rec.ID, i+3)
		}
		if rec.Index != i {
			t.Errorf("entry %d carries index %d after trim, want %d", i, rec.Index, i)
		}
	}
	assertInfo(t, e, 3, 0)
	if !e.CanUndo() {
		t.Error("CanUndo() = false, cursor must sit on the newest entry")
	}
}

// TestEngine_GuardRejection races a second ExecuteCommand against one whose
// execute blocks on a controllable channel.
// Expectation: the second call is a silent no-op (nil error, callback never
// invoked) and after both settle the history holds only the first command.
func TestEngine_GuardRejection(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := NewFuncCommand(CommandUpdate, "blocking", nil, ExecutionContext{},
		func(context.Context) error { close(started); <-release; return nil },
		func(context.Context) error { return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- e.ExecuteCommand(ctx, blocking) }()
	<-started

	r := &recorder{}
	if err := e.ExecuteCommand(ctx, createSpy(r, "raced")); err != nil {
		t.Fatalf("rejected ExecuteCommand returned error %v, want nil", err)
	}
	if len(r.applied) != 0 {
		t.Fatal("rejected command executed its callback")
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("blocking ExecuteCommand error: %v", err)
	}
	if got := len(e.CommandHistory(0)); got != 1 {
		t.Fatalf("history length = %d after both calls settled, want 1", got)
	}
}

// TestEngine_SelectiveUndo covers the non-linear undo path: flipping an
// arbitrary past entry to undone without moving the cursor, plus the guard
// cases (disabled flag, unknown id, already-undone target).
func TestEngine_SelectiveUndo(t *testing.T) {
	ctx := context.Background()

	t.Run("OutOfOrder", func(t *testing.T) {
		e := newTestEngine(t, Options{EnableSelectiveUndo: true})
		ra, rb, rc := &recorder{}, &recorder{}, &recorder{}
		a, b, c := createSpy(ra, "a"), createSpy(rb, "b"), createSpy(rc, "c")
		for _, cmd := range []Command{a, b, c} {
			if err := e.ExecuteCommand(ctx, cmd); err != nil {
				t.Fatalf("ExecuteCommand error: %v", err)
			}
		}

		if !e.SelectiveUndo(ctx, b.ID()) {
			t.Fatal("SelectiveUndo(b) returned false")
		}
		if len(rb.reverted) != 1 {
			t.Fatalf("b reverted %d times, want 1", len(rb.reverted))
		}

		records := e.CommandHistory(0)
		wantStates := map[string]EntryState{a.ID(): StateExecuted, b.ID(): StateUndone, c.ID(): StateExecuted}
		for _, rec := range records {
			if rec.State != wantStates[rec.ID] {
				t.Errorf("entry %s state = %q, want %q", rec.Description, rec.State, wantStates[rec.ID])
			}
		}
		if info := e.HistoryInfo(); info.CurrentDescription != c.Description() {
			t.Errorf("cursor moved: current = %q, want %q", info.CurrentDescription, c.Description())
		}
		if e.CanRedo() {
			t.Error("CanRedo() = true: nothing above the cursor is undone")
		}
		if !e.CanUndo() {
			t.Error("CanUndo() = false: c is still executed at the cursor")
		}
	})

	t.Run("DisabledByConfig", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		r := &recorder{}
		cmd := createSpy(r, "a")
		if err := e.ExecuteCommand(ctx, cmd); err != nil {
			t.Fatalf("ExecuteCommand error: %v", err)
		}
		if e.SelectiveUndo(ctx, cmd.ID()) {
			t.Fatal("SelectiveUndo succeeded with the feature disabled")
		}
		if len(r.reverted) != 0 {
			t.Fatal("disabled SelectiveUndo still reverted the command")
		}
	})

	t.Run("UnknownAndRepeated", func(t *testing.T) {
		e := newTestEngine(t, Options{EnableSelectiveUndo: true})
		r := &recorder{}
		cmd := createSpy(r, "a")
		if err := e.ExecuteCommand(ctx, cmd); err != nil {
			t.Fatalf("ExecuteCommand error: %v", err)
		}
		if e.SelectiveUndo(ctx, "no-such-id") {
			t.Error("SelectiveUndo(unknown) returned true")
		}
		if !e.SelectiveUndo(ctx, cmd.ID()) {
			t.Fatal("first SelectiveUndo returned false")
		}
		if e.SelectiveUndo(ctx, cmd.ID()) {
			t.Error("second SelectiveUndo on an undone entry returned true")
		}
		if len(r.reverted) != 1 {
			t.Fatalf("revert ran %d times, want 1: ledger state must gate repeats", len(r.reverted))
		}
	})
}

// TestEngine_SimpleEditUndo is the basic interactive scenario: one create,
// one undo, callback invoked exactly once with the captured payload.
func TestEngine_SimpleEditUndo(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	r := &recorder{}

	if err := e.ExecuteCommand(ctx, createSpy(r, "ann-1")); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	assertInfo(t, e, 1, 0)

	if !e.Undo(ctx) {
		t.Fatal("Undo() returned false")
	}
	assertInfo(t, e, 0, 1)
	if len(r.reverted) != 1 || r.reverted[0] != "ann-1-state" {
		t.Fatalf("reverted = %v, want exactly one call with the create payload", r.reverted)
	}
}

// TestEngine_ExecutionFailure: a failing command must not enter history; the
// caller gets the wrapped error and observers get command.failed.
func TestEngine_ExecutionFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	log := collectEvents(e, EventCommandFailed, EventCommandExecuted, EventHistoryChanged)

	boom := errors.New("mutation rejected")
	failing := NewFuncCommand(CommandCreate, "doomed", []string{"ann-1"}, ExecutionContext{},
		func(context.Context) error { return boom }, nil)

	err := e.ExecuteCommand(ctx, failing)
	if !errors.Is(err, boom) {
		t.Fatalf("ExecuteCommand = %v, want wrapped %v", err, boom)
	}
	if got := len(e.CommandHistory(0)); got != 0 {
		t.Fatalf("history length = %d after failure, want 0", got)
	}
	failed := log.ofType(EventCommandFailed)
	if len(failed) != 1 || !errors.Is(failed[0].Err, boom) {
		t.Fatalf("command.failed events = %+v, want one carrying the error", failed)
	}
	if got := log.ofType(EventHistoryChanged); len(got) != 0 {
		t.Errorf("history.changed emitted on a failed execute: %+v", got)
	}
}

// TestEngine_UndoFailure: a failing reversal leaves the entry executed and
// the cursor in place so a retry remains possible, returns false, and emits
// undo.failed without throwing.
func TestEngine_UndoFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	log := collectEvents(e, EventUndoFailed)

	boom := errors.New("revert rejected")
	attempts := 0
	cmd := NewFuncCommand(CommandUpdate, "sticky", []string{"ann-1"}, ExecutionContext{},
		func(context.Context) error { return nil },
		func(context.Context) error {
			attempts++
			if attempts == 1 {
				return boom
			}
			return nil
		})

	if err := e.ExecuteCommand(ctx, cmd); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	if e.Undo(ctx) {
		t.Fatal("Undo() returned true on a failing reversal")
	}
	assertInfo(t, e, 1, 0)
	if rec := e.CommandHistory(0)[0]; rec.State != StateExecuted {
		t.Fatalf("entry state = %q after failed undo, want %q", rec.State, StateExecuted)
	}
	if failed := log.ofType(EventUndoFailed); len(failed) != 1 || !errors.Is(failed[0].Err, boom) {
		t.Fatalf("undo.failed events = %+v, want one carrying the error", failed)
	}

	// The failure left state untouched, so a retry succeeds.
	if !e.Undo(ctx) {
		t.Fatal("retried Undo() returned false")
	}
	assertInfo(t, e, 0, 1)
}

// TestEngine_RedoFailure mirrors TestEngine_UndoFailure on the redo path.
func TestEngine_RedoFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	log := collectEvents(e, EventRedoFailed)

	boom := errors.New("reapply rejected")
	execs := 0
	cmd := NewFuncCommand(CommandUpdate, "flaky", nil, ExecutionContext{},
		func(context.Context) error {
			execs++
			if execs == 2 {
				return boom
			}
			return nil
		},
		func(context.Context) error { return nil })

	if err := e.ExecuteCommand(ctx, cmd); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	if !e.Undo(ctx) {
		t.Fatal("Undo() returned false")
	}
	if e.Redo(ctx) {
		t.Fatal("Redo() returned true on a failing re-execute")
	}
	assertInfo(t, e, 0, 1)
	if rec := e.CommandHistory(0)[0]; rec.State != StateUndone {
		t.Fatalf("entry state = %q after failed redo, want %q", rec.State, StateUndone)
	}
	if failed := log.ofType(EventRedoFailed); len(failed) != 1 || !errors.Is(failed[0].Err, boom) {
		t.Fatalf("redo.failed events = %+v, want one carrying the error", failed)
	}
	if !e.Redo(ctx) {
		t.Fatal("retried Redo() returned false")
	}
	assertInfo(t, e, 1, 0)
}

// TestEngine_ExcludedTypes: excluded command types execute (observers still
// see command.executed) but never enter history.
func TestEngine_ExcludedTypes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{ExcludedCommandTypes: []CommandType{CommandStyle}})
	log := collectEvents(e, EventCommandExecuted)

	ran := false
	styled := NewFuncCommand(CommandStyle, "Restyle ann-1", []string{"ann-1"}, ExecutionContext{},
		func(context.Context) error { ran = true; return nil },
		func(context.Context) error { return nil })

	if err := e.ExecuteCommand(ctx, styled); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	if !ran {
		t.Fatal("excluded command did not execute")
	}
	if got := len(e.CommandHistory(0)); got != 0 {
		t.Fatalf("history length = %d, want 0: excluded types are not tracked", got)
	}
	if got := len(log.ofType(EventCommandExecuted)); got != 1 {
		t.Fatalf("command.executed events = %d, want 1", got)
	}

	r := &recorder{}
	if err := e.ExecuteCommand(ctx, createSpy(r, "ann-2")); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	if got := len(e.CommandHistory(0)); got != 1 {
		t.Fatalf("history length = %d, want 1: non-excluded types are tracked", got)
	}
}

// TestEngine_ExecuteBatchValidation: zero or over-limit batches fail
// synchronously with sentinel errors before any child runs.
func TestEngine_ExecuteBatchValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{MaxBatchSize: 2})
	r := &recorder{}

	if err := e.ExecuteBatch(ctx, nil, "empty", ExecutionContext{}, StrategySequential); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty batch error = %v, want ErrEmptyBatch", err)
	}

	cmds := []Command{createSpy(r, "a"), createSpy(r, "b"), createSpy(r, "c")}
	err := e.ExecuteBatch(ctx, cmds, "too big", ExecutionContext{}, StrategySequential)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("oversized batch error = %v, want ErrBatchTooLarge", err)
	}
	if len(r.applied) != 0 {
		t.Fatal("oversized batch executed children before validation")
	}
	if got := len(e.CommandHistory(0)); got != 0 {
		t.Fatalf("history length = %d, want 0", got)
	}
}

// TestEngine_BatchThroughLedger executes a batch as one history entry and
// verifies the atomic undo/redo behavior plus the partial-failure scenario:
// a sequential batch whose second child fails leaves the first child applied
// and the batch out of history.
func TestEngine_BatchThroughLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("SingleEntryRoundTrip", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		s := &orderSpy{}
		cmds := []Command{spyCmd(s, "x"), spyCmd(s, "y"), spyCmd(s, "z")}

		if err := e.ExecuteBatch(ctx, cmds, "triple", ExecutionContext{}, StrategySequential); err != nil {
			t.Fatalf("ExecuteBatch error: %v", err)
		}
		records := e.CommandHistory(0)
		if len(records) != 1 || records[0].Type != CommandBatch {
			t.Fatalf("history = %+v, want one batch entry", records)
		}
		if !e.Undo(ctx) {
			t.Fatal("Undo() returned false")
		}
		want := []string{"x", "y", "z", "z-undo", "y-undo", "x-undo"}
		got := s.snapshot()
		if len(got) != len(want) {
			t.Fatalf("calls = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("calls = %v, want %v", got, want)
			}
		}
	})

	t.Run("SequentialPartialFailure", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		r := &recorder{}
		boom := errors.New("boom")
		x := createSpy(r, "x")
		y := NewFuncCommand(CommandUpdate, "y", nil, ExecutionContext{},
			func(context.Context) error { return boom }, nil)

		err := e.ExecuteBatch(ctx, []Command{x, y}, "partial", ExecutionContext{}, StrategySequential)
		if !errors.Is(err, boom) {
			t.Fatalf("ExecuteBatch = %v, want wrapped %v", err, boom)
		}
		if len(r.applied) != 1 {
			t.Fatalf("x applied %d times, want 1 (no rollback)", len(r.applied))
		}
		if got := len(e.CommandHistory(0)); got != 0 {
			t.Fatalf("history length = %d, want 0: failed batch must not be recorded", got)
		}
	})
}

// TestEngine_UndoRedoMultiple verifies the counted variants stop early and
// report the number actually performed.
func TestEngine_UndoRedoMultiple(t *testing.T) {
	ctx := context.Background()

	t.Run("CountsPerformed", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		r := &recorder{}
		for i := 0; i < 4; i++ {
			if err := e.ExecuteCommand(ctx, createSpy(r, "ann")); err != nil {
				t.Fatalf("ExecuteCommand error: %v", err)
			}
		}
		if got := e.UndoMultiple(ctx, 10); got != 4 {
			t.Fatalf("UndoMultiple(10) = %d, want 4", got)
		}
		if got := e.RedoMultiple(ctx, 2); got != 2 {
			t.Fatalf("RedoMultiple(2) = %d, want 2", got)
		}
		assertInfo(t, e, 2, 2)
	})

	t.Run("StopsAtIrreversible", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		r := &recorder{}
		oneWay := NewFuncCommand(CommandImport, "one-way", nil, ExecutionContext{},
			func(context.Context) error { return nil }, nil)
		for _, cmd := range []Command{createSpy(r, "a"), oneWay, createSpy(r, "b")} {
			if err := e.ExecuteCommand(ctx, cmd); err != nil {
				t.Fatalf("ExecuteCommand error: %v", err)
			}
		}
		if got := e.UndoMultiple(ctx, 3); got != 1 {
			t.Fatalf("UndoMultiple(3) = %d, want 1: must stop at the irreversible entry", got)
		}
	})
}

// TestEngine_Introspection exercises HistoryInfo descriptions, CommandHistory
// limits, and Statistics composition.
func TestEngine_Introspection(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	r := &recorder{}

	if err := e.ExecuteCommand(ctx, createSpy(r, "ann-1")); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	upd := NewUpdateCommand("ann-1", "s0", "s1", ExecutionContext{}, r.apply, r.revert)
	if err := e.ExecuteCommand(ctx, upd); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}

	info := e.HistoryInfo()
	if info.CurrentDescription != upd.Description() {
		t.Errorf("CurrentDescription = %q, want %q", info.CurrentDescription, upd.Description())
	}
	if info.NextDescription != "" {
		t.Errorf("NextDescription = %q with nothing to redo, want empty", info.NextDescription)
	}
	if !e.Undo(ctx) {
		t.Fatal("Undo() returned false")
	}
	if info := e.HistoryInfo(); info.NextDescription != upd.Description() {
		t.Errorf("NextDescription = %q, want %q", info.NextDescription, upd.Description())
	}

	if got := len(e.CommandHistory(1)); got != 1 {
		t.Errorf("CommandHistory(1) length = %d, want 1", got)
	}

	stats := e.Statistics()
	if stats.TotalCommands != 2 {
		t.Errorf("TotalCommands = %d, want 2", stats.TotalCommands)
	}
	if stats.CommandsByType[CommandCreate] != 1 || stats.CommandsByType[CommandUpdate] != 1 {
		t.Errorf("CommandsByType = %v, want create:1 update:1", stats.CommandsByType)
	}
	if stats.SnapshotCount != 3 {
		t.Errorf("SnapshotCount = %d, want 3 (create:1 + update:2)", stats.SnapshotCount)
	}
	if stats.EstimatedMemoryBytes <= 0 {
		t.Errorf("EstimatedMemoryBytes = %d, want > 0", stats.EstimatedMemoryBytes)
	}
}

// TestEngine_ClearHistory drops entries and snapshots but leaves applied
// state alone; observers see history.cleared.
func TestEngine_ClearHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	log := collectEvents(e, EventHistoryCleared)
	r := &recorder{}

	if err := e.ExecuteCommand(ctx, createSpy(r, "ann-1")); err != nil {
		t.Fatalf("ExecuteCommand error: %v", err)
	}
	e.ClearHistory()

	assertInfo(t, e, 0, 0)
	if e.CanUndo() || e.CanRedo() {
		t.Error("CanUndo/CanRedo = true after clear")
	}
	if snaps := e.AnnotationSnapshots("ann-1"); len(snaps) != 0 {
		t.Errorf("snapshots survived clear: %d", len(snaps))
	}
	if len(r.reverted) != 0 {
		t.Error("clear must not revert applied commands")
	}
	if got := len(log.ofType(EventHistoryCleared)); got != 1 {
		t.Errorf("history.cleared events = %d, want 1", got)
	}
}

// TestEngine_UpdateConfig: shrinking the history bound trims immediately and
// invalid updates are rejected without touching current behavior.
func TestEngine_UpdateConfig(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{MaxHistorySize: 10})
	r := &recorder{}
	for i := 0; i < 4; i++ {
		if err := e.ExecuteCommand(ctx, createSpy(r, "ann")); err != nil {
			t.Fatalf("ExecuteCommand error: %v", err)
		}
	}

	if err := e.UpdateConfig(Options{MaxHistorySize: 2}); err != nil {
		t.Fatalf("UpdateConfig error: %v", err)
	}
	records := e.CommandHistory(0)
	if len(records) != 2 {
		t.Fatalf("history length = %d after shrink, want 2", len(records))
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Errorf("entry %d index = %d, want %d", i, rec.Index, i)
		}
	}

	if err := e.UpdateConfig(Options{MaxHistorySize: -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("UpdateConfig(-1) = %v, want ErrInvalidConfig", err)
	}
}

// TestEngine_NilCommand: a nil command is refused with an error rather than
// panicking inside the guard.
func TestEngine_NilCommand(t *testing.T) {
	e := newTestEngine(t, Options{})
	if err := e.ExecuteCommand(context.Background(), nil); err == nil {
		t.Fatal("ExecuteCommand(nil) returned nil error")
	}
}
