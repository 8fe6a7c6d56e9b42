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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandType tags a command with its kind. The set is closed; extend it
// only by adding new tags here so switches over kinds stay exhaustive.
type CommandType string

const (
	CommandCreate CommandType = "create"
	CommandUpdate CommandType = "update"
	CommandDelete CommandType = "delete"
	CommandBatch  CommandType = "batch"
	CommandImport CommandType = "import"
	CommandClear  CommandType = "clear"
	CommandMove   CommandType = "move"
	CommandStyle  CommandType = "style"
)

var knownCommandTypes = map[CommandType]struct{}{
	CommandCreate: {}, CommandUpdate: {}, CommandDelete: {}, CommandBatch: {},
	CommandImport: {}, CommandClear: {}, CommandMove: {}, CommandStyle: {},
}

// ExecutionContext identifies where a command originated. The engine attaches
// it to events and records but never interprets its fields.
type ExecutionContext struct {
	ViewportID        string `json:"viewportId,omitempty"`
	ImageID           string `json:"imageId,omitempty"`
	SeriesInstanceUID string `json:"seriesInstanceUID,omitempty"`
}

// CommandMetadata carries the bookkeeping attached to every command.
// BatchID is empty unless the command was wrapped into a batch, in which case
// NewBatchCommand stamps it once at construction. That stamp is the single
// sanctioned post-construction mutation; treat everything else as read-only.
type CommandMetadata struct {
	Timestamp           time.Time
	AffectedAnnotations []string
	BatchID             string
	Context             ExecutionContext
}

// Command is a reversible unit of work. Execute applies the forward
// operation, Undo reverses it. Commands do not need to self-guard against
// repeated Undo calls: the engine gates reversal on ledger entry state.
// Implementations hold no external resources, only references to
// caller-supplied mutation callbacks, so there is no disposal step.
type Command interface {
	ID() string
	Type() CommandType
	Description() string
	Metadata() *CommandMetadata
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	CanUndo() bool
	CanRedo() bool
}

// MutationFunc is a caller-supplied domain mutation. apply-style functions
// make the payload present (upsert), revert-style functions make it absent.
// The engine treats payloads as opaque and never validates their effects.
type MutationFunc func(ctx context.Context, payload any) error

// SnapshotCapture is one before/after state exposed by a command for the
// snapshot store.
type SnapshotCapture struct {
	AnnotationID string
	Payload      any
	IsBefore     bool
}

// Snapshotter is implemented by commands whose payload states should be
// captured into the snapshot store. Commands that do not implement it are
// simply not snapshotted.
type Snapshotter interface {
	SnapshotCaptures() []SnapshotCapture
}

// commandBase carries the identity and metadata shared by all command kinds.
type commandBase struct {
	id   string
	typ  CommandType
	desc string
	meta CommandMetadata
}

func newCommandBase(t CommandType, desc string, affected []string, ectx ExecutionContext) commandBase {
	return commandBase{
		id:   uuid.NewString(),
		typ:  t,
		desc: desc,
		meta: CommandMetadata{
			Timestamp:           time.Now(),
			AffectedAnnotations: affected,
			Context:             ectx,
		},
	}
}

func (b *commandBase) ID() string                 { return b.id }
func (b *commandBase) Type() CommandType          { return b.typ }
func (b *commandBase) Description() string        { return b.desc }
func (b *commandBase) Metadata() *CommandMetadata { return &b.meta }

// CreateCommand introduces a new annotation. Execute applies the "after"
// payload; Undo removes it again via revert.
type CreateCommand struct {
	commandBase
	after  any
	apply  MutationFunc
	revert MutationFunc
}

// NewCreateCommand builds a create command for one annotation. after is the
// payload handed to apply on Execute and to revert on Undo.
func NewCreateCommand(annotationID string, after any, ectx ExecutionContext, apply, revert MutationFunc) *CreateCommand {
	return &CreateCommand{
		commandBase: newCommandBase(CommandCreate, fmt.Sprintf("Create annotation %s", annotationID), []string{annotationID}, ectx),
		after:       after,
		apply:       apply,
		revert:      revert,
	}
}

func (c *CreateCommand) Execute(ctx context.Context) error { return c.apply(ctx, c.after) }
func (c *CreateCommand) Undo(ctx context.Context) error    { return c.revert(ctx, c.after) }

// Leaf commands are reversible by construction: they hold nothing but the
// payload captures, so undo/redo can repeat arbitrarily often.
func (c *CreateCommand) CanUndo() bool { return true }
func (c *CreateCommand) CanRedo() bool { return true }

func (c *CreateCommand) SnapshotCaptures() []SnapshotCapture {
	return []SnapshotCapture{{AnnotationID: c.meta.AffectedAnnotations[0], Payload: c.after, IsBefore: false}}
}

// UpdateCommand replaces an annotation's state. Execute applies "after";
// Undo re-applies the captured "before" payload. revert is retained for
// contract symmetry with the other variants but is not used on the undo
// path: reversing an update means applying the prior state, not removing.
type UpdateCommand struct {
	commandBase
	before any
	after  any
	apply  MutationFunc
	revert MutationFunc
}

// NewUpdateCommand builds an update command carrying both payload captures.
func NewUpdateCommand(annotationID string, before, after any, ectx ExecutionContext, apply, revert MutationFunc) *UpdateCommand {
	return &UpdateCommand{
		commandBase: newCommandBase(CommandUpdate, fmt.Sprintf("Update annotation %s", annotationID), []string{annotationID}, ectx),
		before:      before,
		after:       after,
		apply:       apply,
		revert:      revert,
	}
}

func (c *UpdateCommand) Execute(ctx context.Context) error { return c.apply(ctx, c.after) }
func (c *UpdateCommand) Undo(ctx context.Context) error    { return c.apply(ctx, c.before) }
func (c *UpdateCommand) CanUndo() bool                     { return true }
func (c *UpdateCommand) CanRedo() bool                     { return true }

func (c *UpdateCommand) SnapshotCaptures() []SnapshotCapture {
	id := c.meta.AffectedAnnotations[0]
	return []SnapshotCapture{
		{AnnotationID: id, Payload: c.before, IsBefore: true},
		{AnnotationID: id, Payload: c.after, IsBefore: false},
	}
}

// DeleteCommand removes an annotation. Execute calls revert with the
// captured "before" payload (removal); Undo restores it via apply.
type DeleteCommand struct {
	commandBase
	before any
	apply  MutationFunc
	revert MutationFunc
}

// NewDeleteCommand builds a delete command. before is the payload captured
// prior to deletion so Undo can restore it.
func NewDeleteCommand(annotationID string, before any, ectx ExecutionContext, apply, revert MutationFunc) *DeleteCommand {
	return &DeleteCommand{
		commandBase: newCommandBase(CommandDelete, fmt.Sprintf("Delete annotation %s", annotationID), []string{annotationID}, ectx),
		before:      before,
		apply:       apply,
		revert:      revert,
	}
}

func (c *DeleteCommand) Execute(ctx context.Context) error { return c.revert(ctx, c.before) }
func (c *DeleteCommand) Undo(ctx context.Context) error    { return c.apply(ctx, c.before) }
func (c *DeleteCommand) CanUndo() bool                     { return true }
func (c *DeleteCommand) CanRedo() bool                     { return true }

func (c *DeleteCommand) SnapshotCaptures() []SnapshotCapture {
	return []SnapshotCapture{{AnnotationID: c.meta.AffectedAnnotations[0], Payload: c.before, IsBefore: true}}
}

// FuncCommand wraps arbitrary forward/backward closures under any command
// tag. It carries the remaining command kinds (import, clear, move, style)
// and any one-off operation a caller wants tracked. A nil undo makes the
// command irreversible: CanUndo reports false and a batch containing it is
// itself irreversible.
type FuncCommand struct {
	commandBase
	execute func(ctx context.Context) error
	undo    func(ctx context.Context) error
}

// NewFuncCommand builds a closure-backed command. affected lists the
// annotation ids the closures touch; undo may be nil for one-way operations.
func NewFuncCommand(t CommandType, description string, affected []string, ectx ExecutionContext, execute, undo func(ctx context.Context) error) *FuncCommand {
	return &FuncCommand{
		commandBase: newCommandBase(t, description, affected, ectx),
		execute:     execute,
		undo:        undo,
	}
}

func (c *FuncCommand) Execute(ctx context.Context) error { return c.execute(ctx) }

func (c *FuncCommand) Undo(ctx context.Context) error {
	if c.undo == nil {
		return fmt.Errorf("cmdhist: command %s (%s) is not reversible", c.id, c.typ)
	}
	return c.undo(ctx)
}

func (c *FuncCommand) CanUndo() bool { return c.undo != nil }
func (c *FuncCommand) CanRedo() bool { return true }
