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

package annotator

import (
	"context"
	"fmt"
	"time"

	"cmdhist"
)

// applyState adapts the store's upsert into the engine's make-present
// callback. The payload is always an Annotation captured by a factory below.
func applyState(store *Store) cmdhist.MutationFunc {
	return func(ctx context.Context, payload any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		a, ok := payload.(Annotation)
		if !ok {
			return fmt.Errorf("annotator: unexpected payload %T", payload)
		}
		store.Upsert(a)
		return nil
	}
}

// revertState adapts the store's remove into the make-absent callback.
func revertState(store *Store) cmdhist.MutationFunc {
	return func(ctx context.Context, payload any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		a, ok := payload.(Annotation)
		if !ok {
			return fmt.Errorf("annotator: unexpected payload %T", payload)
		}
		store.Remove(a.ID)
		return nil
	}
}

// Create returns a command that introduces ann into the store.
func Create(store *Store, ann Annotation, ectx cmdhist.ExecutionContext) cmdhist.Command {
	if ann.UpdatedAt.IsZero() {
		ann.UpdatedAt = time.Now()
	}
	return cmdhist.NewCreateCommand(ann.ID, ann.clone(), ectx, applyState(store), revertState(store))
}

// Update returns a command that replaces before with after.
func Update(store *Store, before, after Annotation, ectx cmdhist.ExecutionContext) cmdhist.Command {
	if after.UpdatedAt.IsZero() {
		after.UpdatedAt = time.Now()
	}
	return cmdhist.NewUpdateCommand(after.ID, before.clone(), after.clone(), ectx, applyState(store), revertState(store))
}

// Delete returns a command that removes ann from the store, restorable from
// the captured state.
func Delete(store *Store, ann Annotation, ectx cmdhist.ExecutionContext) cmdhist.Command {
	return cmdhist.NewDeleteCommand(ann.ID, ann.clone(), ectx, applyState(store), revertState(store))
}

// stateCommand decorates a closure-backed command with the before/after
// states it moves between, so the snapshot store can capture them.
type stateCommand struct {
	cmdhist.Command
	captures []cmdhist.SnapshotCapture
}

func (c *stateCommand) SnapshotCaptures() []cmdhist.SnapshotCapture { return c.captures }

// transition builds a move/style-shaped command: execute applies after,
// undo re-applies before.
func transition(store *Store, t cmdhist.CommandType, desc string, before, after Annotation, ectx cmdhist.ExecutionContext) cmdhist.Command {
	before, after = before.clone(), after.clone()
	inner := cmdhist.NewFuncCommand(t, desc, []string{after.ID}, ectx,
		func(ctx context.Context) error { return applyState(store)(ctx, after) },
		func(ctx context.Context) error { return applyState(store)(ctx, before) },
	)
	return &stateCommand{
		Command: inner,
		captures: []cmdhist.SnapshotCapture{
			{AnnotationID: after.ID, Payload: before, IsBefore: true},
			{AnnotationID: after.ID, Payload: after, IsBefore: false},
		},
	}
}

// Move returns a move-tagged command repositioning an annotation's points.
// from is the geometry being left, to the geometry being entered; the rest
// of the annotation's current state is carried across unchanged.
func Move(store *Store, id string, from, to []Point, ectx cmdhist.ExecutionContext) (cmdhist.Command, error) {
	cur, ok := store.Get(id)
	if !ok {
		return nil, fmt.Errorf("annotator: annotation %s not found", id)
	}
	before := cur
	before.Points = append([]Point(nil), from...)
	after := cur
	after.Points = append([]Point(nil), to...)
	after.UpdatedAt = time.Now()
	return transition(store, cmdhist.CommandMove, fmt.Sprintf("Move annotation %s", id), before, after, ectx), nil
}

// Restyle returns a style-tagged command swapping an annotation's style map.
func Restyle(store *Store, id string, beforeStyle, afterStyle map[string]string, ectx cmdhist.ExecutionContext) (cmdhist.Command, error) {
	cur, ok := store.Get(id)
	if !ok {
		return nil, fmt.Errorf("annotator: annotation %s not found", id)
	}
	before := cur
	before.Style = beforeStyle
	after := cur
	after.Style = afterStyle
	after.UpdatedAt = time.Now()
	return transition(store, cmdhist.CommandStyle, fmt.Sprintf("Restyle annotation %s", id), before, after, ectx), nil
}

// ImportBatch returns import-tagged create commands for each annotation,
// intended as children for ExecuteBatch.
func ImportBatch(store *Store, anns []Annotation, ectx cmdhist.ExecutionContext) []cmdhist.Command {
	out := make([]cmdhist.Command, 0, len(anns))
	for _, ann := range anns {
		if ann.UpdatedAt.IsZero() {
			ann.UpdatedAt = time.Now()
		}
		ann := ann.clone()
		inner := cmdhist.NewFuncCommand(cmdhist.CommandImport,
			fmt.Sprintf("Import annotation %s", ann.ID), []string{ann.ID}, ectx,
			func(ctx context.Context) error { return applyState(store)(ctx, ann) },
			func(ctx context.Context) error { return revertState(store)(ctx, ann) },
		)
		out = append(out, &stateCommand{
			Command:  inner,
			captures: []cmdhist.SnapshotCapture{{AnnotationID: ann.ID, Payload: ann, IsBefore: false}},
		})
	}
	return out
}

// ClearAll returns a clear-tagged command that removes every annotation
// currently in the store. The full contents are captured at construction so
// undo can restore them.
func ClearAll(store *Store, ectx cmdhist.ExecutionContext) cmdhist.Command {
	saved := store.List()
	ids := make([]string, len(saved))
	for i, a := range saved {
		ids[i] = a.ID
	}
	inner := cmdhist.NewFuncCommand(cmdhist.CommandClear,
		fmt.Sprintf("Clear all annotations (%d)", len(saved)), ids, ectx,
		func(ctx context.Context) error {
			for _, a := range saved {
				if err := revertState(store)(ctx, a); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context) error {
			for _, a := range saved {
				if err := applyState(store)(ctx, a); err != nil {
					return err
				}
			}
			return nil
		},
	)
	captures := make([]cmdhist.SnapshotCapture, len(saved))
	for i, a := range saved {
		captures[i] = cmdhist.SnapshotCapture{AnnotationID: a.ID, Payload: a, IsBefore: true}
	}
	return &stateCommand{Command: inner, captures: captures}
}
