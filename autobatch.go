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
	"log/slog"
	"sync"
	"time"
)

// autoBatcher coalesces rapid-fire commands into one batch. Every add
// restarts the single debounce timer; the batch flushes when the timer
// fires, when the pending list reaches MaxBatchSize, or on an explicit
// FlushBatch/Close.
type autoBatcher struct {
	mu      sync.Mutex
	engine  *Engine
	pending []Command
	timer   *time.Timer
}

func newAutoBatcher(e *Engine) *autoBatcher {
	return &autoBatcher{engine: e}
}

func (b *autoBatcher) add(ctx context.Context, cmd Command) error {
	limit := b.engine.maxBatchSize()
	quiet := b.engine.autoBatchTimeout()

	b.mu.Lock()
	b.pending = append(b.pending, cmd)
	if len(b.pending) >= limit {
		cmds := b.takeLocked()
		b.mu.Unlock()
		return b.submit(ctx, cmds)
	}
	b.resetTimerLocked(quiet)
	b.mu.Unlock()
	return nil
}

func (b *autoBatcher) flush(ctx context.Context) error {
	b.mu.Lock()
	cmds := b.takeLocked()
	b.mu.Unlock()
	return b.submit(ctx, cmds)
}

func (b *autoBatcher) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// takeLocked grabs the pending list and cancels the timer in one step, so a
// timer fire racing an explicit flush finds nothing left to submit instead
// of double-submitting.
func (b *autoBatcher) takeLocked() []Command {
	cmds := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return cmds
}

func (b *autoBatcher) submit(ctx context.Context, cmds []Command) error {
	switch len(cmds) {
	case 0:
		return nil
	case 1:
		// Singleton: no batch wrapper overhead.
		return b.engine.ExecuteCommand(ctx, cmds[0])
	}
	desc := fmt.Sprintf("Batch operation (%d commands)", len(cmds))
	ectx := cmds[0].Metadata().Context
	return b.engine.ExecuteBatch(ctx, cmds, desc, ectx, StrategySequential)
}

func (b *autoBatcher) resetTimerLocked(quiet time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(quiet, func() {
		if err := b.flush(context.Background()); err != nil {
			b.engine.logger.Error("auto-batch flush failed", slog.Any("error", err))
		}
	})
}
