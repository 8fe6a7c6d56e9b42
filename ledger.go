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

// Package cmdhist implements a command history engine for reversible
// annotation edits. It maintains an append-only, bounded ledger of executed
// commands with a single undo/redo cursor, composite batches with sequential
// or parallel execution, debounce-based auto-batching, per-annotation state
// snapshots, and a typed event channel for observers.
//
// The engine is built for a single logical actor issuing commands: a second
// ExecuteCommand while one is in flight is rejected, not queued.
// Introspection methods are safe to call from any goroutine.
package cmdhist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EntryState marks whether a history entry's command is currently applied.
type EntryState string

const (
	StateExecuted EntryState = "executed"
	StateUndone   EntryState = "undone"
)

// historyEntry wraps exactly one command in the ledger. Entries are stored
// in strictly increasing execution order; index always matches the entry's
// array position (re-stamped after trimming).
type historyEntry struct {
	cmd   Command
	state EntryState
	index int
}

// HistoryRecord is the read-only copy of a ledger entry returned by
// CommandHistory.
type HistoryRecord struct {
	ID                  string           `json:"id"`
	Type                CommandType      `json:"type"`
	Description         string           `json:"description"`
	State               EntryState       `json:"state"`
	Index               int              `json:"index"`
	Timestamp           time.Time        `json:"timestamp"`
	AffectedAnnotations []string         `json:"affectedAnnotations,omitempty"`
	BatchID             string           `json:"batchId,omitempty"`
	Context             ExecutionContext `json:"context"`
}

// HistoryInfo summarizes the undo/redo state for UI display.
type HistoryInfo struct {
	UndoCount          int    `json:"undoCount"`
	RedoCount          int    `json:"redoCount"`
	CurrentDescription string `json:"currentDescription,omitempty"`
	NextDescription    string `json:"nextDescription,omitempty"`
}

// Statistics reports ledger composition and an estimate of retained memory.
type Statistics struct {
	TotalCommands        int                 `json:"totalCommands"`
	CommandsByType       map[CommandType]int `json:"commandsByType"`
	SnapshotCount        int                 `json:"snapshotCount"`
	EstimatedMemoryBytes int64               `json:"estimatedMemoryBytes"`
}

// rough per-entry cost beyond snapshot payloads: entry header, command
// struct, metadata, map slot
const entryOverheadBytes = 160

// Engine is the command history ledger. Construct one per logical editing
// session with New and share it by reference; each instance is independent,
// so tests and composition roots create their own rather than reaching for
// a global.
type Engine struct {
	mu      sync.Mutex
	entries []*historyEntry
	current int // index of the newest executed entry, -1 when none
	opts    Options
	exclude map[CommandType]struct{}

	// executing is the non-reentrant guard: a second ExecuteCommand while
	// one is in flight is dropped with a warning, never queued.
	executing atomic.Bool

	snapshots *snapshotStore
	bus       *eventBus
	batcher   *autoBatcher
	logger    *slog.Logger

	closeOnce sync.Once
}

// New creates an Engine. Zero-valued options fall back to defaults; invalid
// options return an error wrapping ErrInvalidConfig.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With(slog.String("component", "cmdhist"))
	e := &Engine{
		current:   -1,
		opts:      opts,
		exclude:   excludedSet(opts.ExcludedCommandTypes),
		snapshots: newSnapshotStore(logger),
		bus:       newEventBus(logger),
		logger:    logger,
	}
	e.batcher = newAutoBatcher(e)
	return e, nil
}

// ExecuteCommand runs cmd and appends it to history. While a command is in
// flight, further calls log a warning and return nil without executing
// (single-actor model; callers needing queuing serialize above the engine).
//
// Executing a new command invalidates the redo chain: entries above the
// cursor are dropped before the append. Commands whose type is excluded by
// configuration execute but never enter history. When the command fails,
// history is untouched, a command.failed event fires, and the wrapped error
// is returned.
func (e *Engine) ExecuteCommand(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return errors.New("cmdhist: nil command")
	}
	if !e.executing.CompareAndSwap(false, true) {
		e.logger.Warn("command rejected: execution already in progress",
			slog.String("command_id", cmd.ID()),
			slog.String("type", string(cmd.Type())))
		return nil
	}
	defer e.executing.Store(false)

	start := time.Now()
	err := cmd.Execute(ctx)
	elapsed := time.Since(start)
	if err != nil {
		e.emitCommand(EventCommandFailed, cmd, err, elapsed)
		return fmt.Errorf("cmdhist: execute %s (%s): %w", cmd.Type(), cmd.ID(), err)
	}

	if e.isExcluded(cmd.Type()) {
		e.emitCommand(EventCommandExecuted, cmd, nil, elapsed)
		return nil
	}

	e.mu.Lock()
	e.truncateRedoLocked()
	e.entries = append(e.entries, &historyEntry{cmd: cmd, state: StateExecuted, index: len(e.entries)})
	e.current = len(e.entries) - 1
	e.trimLocked()
	undo, redo := e.countsLocked()
	e.mu.Unlock()

	e.snapshots.record(cmd)
	e.emitCommand(EventCommandExecuted, cmd, nil, elapsed)
	e.emitHistory(EventHistoryChanged, undo, redo)
	return nil
}

// ExecuteBatch wraps commands into a BatchCommand and executes it as one
// history entry. It fails synchronously, before any side effect, with
// ErrEmptyBatch or ErrBatchTooLarge when the command count is out of range.
func (e *Engine) ExecuteBatch(ctx context.Context, commands []Command, description string, ectx ExecutionContext, strategy BatchStrategy) error {
	if len(commands) == 0 {
		return ErrEmptyBatch
	}
	if limit := e.maxBatchSize(); len(commands) > limit {
		return fmt.Errorf("%w: %d commands, limit %d", ErrBatchTooLarge, len(commands), limit)
	}
	return e.ExecuteCommand(ctx, NewBatchCommand(description, ectx, strategy, commands))
}

// Undo reverses the command at the cursor and moves the cursor down.
// It returns false when there is nothing to undo or when the command's Undo
// fails; on failure the entry state and cursor are unchanged so a retry is
// possible, and an undo.failed event carries the error.
func (e *Engine) Undo(ctx context.Context) bool {
	e.mu.Lock()
	if !e.canUndoLocked() {
		e.mu.Unlock()
		return false
	}
	entry := e.entries[e.current]
	e.mu.Unlock()

	if err := entry.cmd.Undo(ctx); err != nil {
		e.emitCommand(EventUndoFailed, entry.cmd, err, 0)
		return false
	}

	e.mu.Lock()
	entry.state = StateUndone
	e.current--
	undo, redo := e.countsLocked()
	e.mu.Unlock()

	e.emitCommand(EventCommandUndone, entry.cmd, nil, 0)
	e.emitHistory(EventHistoryChanged, undo, redo)
	return true
}

// Redo re-executes the entry just above the cursor and moves the cursor up.
// Failure semantics mirror Undo: false return, state unchanged, redo.failed
// event.
func (e *Engine) Redo(ctx context.Context) bool {
	e.mu.Lock()
	if !e.canRedoLocked() {
		e.mu.Unlock()
		return false
	}
	entry := e.entries[e.current+1]
	e.mu.Unlock()

	start := time.Now()
	if err := entry.cmd.Execute(ctx); err != nil {
		e.emitCommand(EventRedoFailed, entry.cmd, err, time.Since(start))
		return false
	}

	e.mu.Lock()
	entry.state = StateExecuted
	e.current++
	undo, redo := e.countsLocked()
	e.mu.Unlock()

	e.emitCommand(EventCommandRedone, entry.cmd, nil, time.Since(start))
	e.emitHistory(EventHistoryChanged, undo, redo)
	return true
}

// UndoMultiple undoes up to n commands, stopping early at the first one that
// cannot be undone or fails. It returns the count actually undone and never
// errors.
func (e *Engine) UndoMultiple(ctx context.Context, n int) int {
	done := 0
	for i := 0; i < n; i++ {
		if !e.Undo(ctx) {
			break
		}
		done++
	}
	return done
}

// RedoMultiple redoes up to n commands, stopping early at the first one that
// cannot be redone or fails. It returns the count actually redone.
func (e *Engine) RedoMultiple(ctx context.Context, n int) int {
	done := 0
	for i := 0; i < n; i++ {
		if !e.Redo(ctx) {
			break
		}
		done++
	}
	return done
}

// SelectiveUndo reverses one specific past command, found anywhere in
// history by id, without moving the cursor. Requires
// Options.EnableSelectiveUndo.
//
// The flipped entry may sit below the cursor, out of linear order, where
// normal redo (which only looks just above the cursor) can never reach it.
// Callers enabling this feature accept that trade-off: it exists to remove
// one specific unrelated edit, not to branch history.
func (e *Engine) SelectiveUndo(ctx context.Context, commandID string) bool {
	if !e.selectiveUndoEnabled() {
		e.logger.Warn("selective undo is disabled by configuration",
			slog.String("command_id", commandID))
		return false
	}

	e.mu.Lock()
	var entry *historyEntry
	for _, en := range e.entries {
		if en.cmd.ID() == commandID {
			entry = en
			break
		}
	}
	if entry == nil || entry.state != StateExecuted || !entry.cmd.CanUndo() {
		e.mu.Unlock()
		e.logger.Warn("selective undo target not found, not executed, or not reversible",
			slog.String("command_id", commandID))
		return false
	}
	e.mu.Unlock()

	if err := entry.cmd.Undo(ctx); err != nil {
		e.emitCommand(EventUndoFailed, entry.cmd, err, 0)
		return false
	}

	e.mu.Lock()
	entry.state = StateUndone
	undo, redo := e.countsLocked()
	e.mu.Unlock()

	e.emitCommand(EventSelectiveUndo, entry.cmd, nil, 0)
	e.emitHistory(EventHistoryChanged, undo, redo)
	return true
}

// CanUndo reports whether Undo would act: the entry at the cursor exists, is
// executed, and its command is reversible.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canUndoLocked()
}

// CanRedo reports whether Redo would act: the entry just above the cursor
// exists, is undone, and its command is re-executable.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canRedoLocked()
}

// AddToBatch appends cmd to the pending auto-batch and restarts the debounce
// timer. When the pending list reaches MaxBatchSize it flushes immediately.
func (e *Engine) AddToBatch(ctx context.Context, cmd Command) error {
	return e.batcher.add(ctx, cmd)
}

// FlushBatch executes whatever is pending in the auto-batch right now:
// nothing (no-op), a single command directly, or a wrapped batch.
func (e *Engine) FlushBatch(ctx context.Context) error {
	return e.batcher.flush(ctx)
}

// On registers a handler for one event type and returns its subscription
// token.
func (e *Engine) On(t EventType, h Handler) Subscription {
	return e.bus.subscribe(t, h)
}

// Off removes a previously registered handler.
func (e *Engine) Off(t EventType, s Subscription) {
	e.bus.unsubscribe(t, s)
}

// HistoryInfo returns undo/redo counts and the descriptions at the cursor
// boundary.
func (e *Engine) HistoryInfo() HistoryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	undo, redo := e.countsLocked()
	info := HistoryInfo{UndoCount: undo, RedoCount: redo}
	if e.current >= 0 {
		info.CurrentDescription = e.entries[e.current].cmd.Description()
	}
	if e.current+1 < len(e.entries) {
		info.NextDescription = e.entries[e.current+1].cmd.Description()
	}
	return info
}

// CommandHistory returns read-only copies of the most recent ledger entries,
// oldest first. limit <= 0 or beyond the ledger length returns everything.
func (e *Engine) CommandHistory(limit int) []HistoryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(e.entries) {
		start = len(e.entries) - limit
	}
	records := make([]HistoryRecord, 0, len(e.entries)-start)
	for _, en := range e.entries[start:] {
		md := en.cmd.Metadata()
		records = append(records, HistoryRecord{
			ID:                  en.cmd.ID(),
			Type:                en.cmd.Type(),
			Description:         en.cmd.Description(),
			State:               en.state,
			Index:               en.index,
			Timestamp:           md.Timestamp,
			AffectedAnnotations: append([]string(nil), md.AffectedAnnotations...),
			BatchID:             md.BatchID,
			Context:             md.Context,
		})
	}
	return records
}

// AnnotationSnapshots returns the retained before/after captures for one
// annotation id, oldest first.
func (e *Engine) AnnotationSnapshots(id string) []SnapshotEntry {
	return e.snapshots.forID(id)
}

// Statistics reports command counts by type over live entries plus a rough
// memory estimate covering snapshot payloads and entry overhead.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	byType := make(map[CommandType]int)
	var estimate int64
	for _, en := range e.entries {
		byType[en.cmd.Type()]++
		estimate += entryOverheadBytes + int64(len(en.cmd.Description()))
		for _, id := range en.cmd.Metadata().AffectedAnnotations {
			estimate += int64(len(id))
		}
	}
	total := len(e.entries)
	e.mu.Unlock()

	return Statistics{
		TotalCommands:        total,
		CommandsByType:       byType,
		SnapshotCount:        e.snapshots.entryCount(),
		EstimatedMemoryBytes: estimate + e.snapshots.totalBytes(),
	}
}

// ClearHistory drops every ledger entry and all snapshots. Commands that
// were applied stay applied; only the ability to reverse them is discarded.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.entries = nil
	e.current = -1
	e.mu.Unlock()
	e.snapshots.clear()

	e.emitHistory(EventHistoryCleared, 0, 0)
	e.emitHistory(EventHistoryChanged, 0, 0)
}

// UpdateConfig revalidates and swaps the engine options. A shrunken
// MaxHistorySize trims immediately. The existing logger is kept unless the
// new options carry one.
func (e *Engine) UpdateConfig(opts Options) error {
	e.mu.Lock()
	if opts.Logger == nil {
		opts.Logger = e.opts.Logger
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.opts = opts
	e.exclude = excludedSet(opts.ExcludedCommandTypes)
	before := len(e.entries)
	e.trimLocked()
	trimmed := len(e.entries) != before
	undo, redo := e.countsLocked()
	e.mu.Unlock()

	if trimmed {
		e.emitHistory(EventHistoryChanged, undo, redo)
	}
	return nil
}

// Close flushes any pending auto-batch and stops its timer. The engine
// remains readable afterwards; Close is safe to call multiple times.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.batcher.flush(context.Background())
		e.batcher.stop()
	})
	return err
}

// ---- internal ----

func (e *Engine) canUndoLocked() bool {
	return e.current >= 0 &&
		e.entries[e.current].state == StateExecuted &&
		e.entries[e.current].cmd.CanUndo()
}

func (e *Engine) canRedoLocked() bool {
	next := e.current + 1
	return next < len(e.entries) &&
		e.entries[next].state == StateUndone &&
		e.entries[next].cmd.CanRedo()
}

// countsLocked derives the undo/redo counts from the cursor position.
// Selectively undone entries below the cursor still count as undoable here;
// HistoryInfo reflects cursor arithmetic, CanUndo the actual entry state.
func (e *Engine) countsLocked() (undo, redo int) {
	return e.current + 1, len(e.entries) - e.current - 1
}

// truncateRedoLocked drops every entry above the cursor, releasing the
// commands so trimmed history does not pin caller payloads.
func (e *Engine) truncateRedoLocked() {
	for i := e.current + 1; i < len(e.entries); i++ {
		e.entries[i] = nil
	}
	e.entries = e.entries[:e.current+1]
}

// trimLocked enforces MaxHistorySize by dropping the oldest entries,
// re-stamping the survivors' indexes and shifting the cursor down by the
// number removed, floored at zero.
func (e *Engine) trimLocked() {
	over := len(e.entries) - e.opts.MaxHistorySize
	if over <= 0 {
		return
	}
	kept := len(e.entries) - over
	copy(e.entries, e.entries[over:])
	for i := kept; i < len(e.entries); i++ {
		e.entries[i] = nil
	}
	e.entries = e.entries[:kept]
	for i, en := range e.entries {
		en.index = i
	}
	e.current -= over
	if e.current < 0 {
		e.current = 0
	}
}

func (e *Engine) isExcluded(t CommandType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.exclude[t]
	return ok
}

func (e *Engine) maxBatchSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.MaxBatchSize
}

func (e *Engine) autoBatchTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.AutoBatchTimeout
}

func (e *Engine) selectiveUndoEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.EnableSelectiveUndo
}

func (e *Engine) emitCommand(t EventType, cmd Command, err error, elapsed time.Duration) {
	md := cmd.Metadata()
	e.bus.emit(Event{
		Type:                t,
		Timestamp:           time.Now(),
		CommandID:           cmd.ID(),
		CommandType:         cmd.Type(),
		Description:         cmd.Description(),
		AffectedAnnotations: append([]string(nil), md.AffectedAnnotations...),
		BatchID:             md.BatchID,
		Context:             md.Context,
		Err:                 err,
		Duration:            elapsed,
	})
}

func (e *Engine) emitHistory(t EventType, undo, redo int) {
	e.bus.emit(Event{
		Type:      t,
		Timestamp: time.Now(),
		UndoCount: undo,
		RedoCount: redo,
	})
}
