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

	"golang.org/x/sync/errgroup"
)

// BatchStrategy selects how a batch runs its children.
type BatchStrategy string

const (
	// StrategySequential executes children in order, awaiting each before
	// starting the next, preserving relative side-effect ordering.
	StrategySequential BatchStrategy = "sequential"
	// StrategyParallel launches all children concurrently and awaits all of
	// them, surfacing the first error only after every child has settled.
	StrategyParallel BatchStrategy = "parallel"
)

// BatchCommand composes an ordered list of child commands into one atomic
// history entry. Undo always replays children in reverse order relative to
// their execute order, regardless of strategy.
//
// Failure policy, sequential: the first failing child aborts the remainder
// and already-executed children stay executed; there is no automatic
// rollback, the caller inspects the error and may issue compensating undo
// calls. Parallel: every child is awaited even when siblings fail, so no
// side effect is left running unobserved.
type BatchCommand struct {
	commandBase
	children []Command
	strategy BatchStrategy
}

// NewBatchCommand wraps children into a batch. Every child's metadata is
// stamped with the batch id here; this is the one place a command is mutated
// after construction. An unknown or empty strategy falls back to sequential.
func NewBatchCommand(description string, ectx ExecutionContext, strategy BatchStrategy, children []Command) *BatchCommand {
	if strategy != StrategyParallel {
		strategy = StrategySequential
	}

	// Affected set is the de-duplicated union of the children's sets.
	seen := make(map[string]struct{})
	var affected []string
	for _, c := range children {
		for _, id := range c.Metadata().AffectedAnnotations {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			affected = append(affected, id)
		}
	}

	b := &BatchCommand{
		commandBase: newCommandBase(CommandBatch, description, affected, ectx),
		children:    append([]Command(nil), children...),
		strategy:    strategy,
	}
	for _, c := range b.children {
		c.Metadata().BatchID = b.id
	}
	return b
}

// Children returns a copy of the child list in execute order.
func (b *BatchCommand) Children() []Command { return append([]Command(nil), b.children...) }

// Strategy reports the execution strategy chosen at construction.
func (b *BatchCommand) Strategy() BatchStrategy { return b.strategy }

func (b *BatchCommand) Execute(ctx context.Context) error {
	if b.strategy == StrategyParallel {
		// Plain errgroup, no shared cancellation: Wait returns only after
		// every child settles, then reports the first error.
		var g errgroup.Group
		for _, c := range b.children {
			c := c
			g.Go(func() error {
				if err := c.Execute(ctx); err != nil {
					return fmt.Errorf("batch child %s (%s): %w", c.ID(), c.Type(), err)
				}
				return nil
			})
		}
		return g.Wait()
	}
	for _, c := range b.children {
		if err := c.Execute(ctx); err != nil {
			return fmt.Errorf("batch child %s (%s): %w", c.ID(), c.Type(), err)
		}
	}
	return nil
}

func (b *BatchCommand) Undo(ctx context.Context) error {
	if b.strategy == StrategyParallel {
		var g errgroup.Group
		for i := len(b.children) - 1; i >= 0; i-- {
			c := b.children[i]
			g.Go(func() error {
				if err := c.Undo(ctx); err != nil {
					return fmt.Errorf("batch child %s (%s): %w", c.ID(), c.Type(), err)
				}
				return nil
			})
		}
		return g.Wait()
	}
	for i := len(b.children) - 1; i >= 0; i-- {
		c := b.children[i]
		if err := c.Undo(ctx); err != nil {
			return fmt.Errorf("batch child %s (%s): %w", c.ID(), c.Type(), err)
		}
	}
	return nil
}

// CanUndo is the logical AND over all children: one irreversible child makes
// the whole batch irreversible.
func (b *BatchCommand) CanUndo() bool {
	for _, c := range b.children {
		if !c.CanUndo() {
			return false
		}
	}
	return true
}

// CanRedo is the logical AND over all children.
func (b *BatchCommand) CanRedo() bool {
	for _, c := range b.children {
		if !c.CanRedo() {
			return false
		}
	}
	return true
}

func (b *BatchCommand) SnapshotCaptures() []SnapshotCapture {
	var caps []SnapshotCapture
	for _, c := range b.children {
		if s, ok := c.(Snapshotter); ok {
			caps = append(caps, s.SnapshotCaptures()...)
		}
	}
	return caps
}
