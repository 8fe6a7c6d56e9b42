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
	"fmt"
	"log/slog"
	"time"
)

// Defaults applied when the corresponding Options field is zero.
const (
	DefaultMaxHistorySize   = 50
	DefaultMaxBatchSize     = 10
	DefaultAutoBatchTimeout = time.Second
)

// Options configures Engine construction. The zero value is usable: zero
// fields fall back to the defaults above. Explicitly negative sizes and
// timeouts fail validation with ErrInvalidConfig.
type Options struct {
	// MaxHistorySize bounds the ledger. Once exceeded, the oldest entries
	// are dropped from the front and the cursor shifts down accordingly.
	// 0 uses DefaultMaxHistorySize; must otherwise be > 0.
	MaxHistorySize int

	// MaxBatchSize caps ExecuteBatch and triggers an immediate auto-batch
	// flush when the pending list reaches it. 0 uses DefaultMaxBatchSize;
	// must otherwise be > 0.
	MaxBatchSize int

	// AutoBatchTimeout is the quiet period after the last AddToBatch before
	// the pending batch flushes. 0 uses DefaultAutoBatchTimeout; negative
	// values fail validation. Use FlushBatch directly for immediate flush.
	AutoBatchTimeout time.Duration

	// EnableSelectiveUndo permits undoing an arbitrary past command without
	// moving the undo/redo cursor. Off by default; see Engine.SelectiveUndo
	// for the semantics callers opt into.
	EnableSelectiveUndo bool

	// ExcludedCommandTypes lists command types that execute normally but
	// never enter history: useful for commands the caller wants replayed
	// but not tracked. Unknown type tags fail validation.
	ExcludedCommandTypes []CommandType

	// ViewportSpecificHistory is accepted and stored for a future
	// per-viewport history partition. It has no behavior yet.
	ViewportSpecificHistory bool

	// Logger receives engine warnings and errors. nil uses slog.Default().
	Logger *slog.Logger
}

// withDefaults returns a copy with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.MaxHistorySize == 0 {
		o.MaxHistorySize = DefaultMaxHistorySize
	}
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.AutoBatchTimeout == 0 {
		o.AutoBatchTimeout = DefaultAutoBatchTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// validate checks an options set that already has defaults applied.
func (o Options) validate() error {
	if o.MaxHistorySize <= 0 {
		return fmt.Errorf("%w: MaxHistorySize must be > 0, got %d", ErrInvalidConfig, o.MaxHistorySize)
	}
	if o.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: MaxBatchSize must be > 0, got %d", ErrInvalidConfig, o.MaxBatchSize)
	}
	if o.AutoBatchTimeout < 0 {
		return fmt.Errorf("%w: AutoBatchTimeout must be >= 0, got %s", ErrInvalidConfig, o.AutoBatchTimeout)
	}
	for _, t := range o.ExcludedCommandTypes {
		if _, ok := knownCommandTypes[t]; !ok {
			return fmt.Errorf("%w: unknown excluded command type %q", ErrInvalidConfig, t)
		}
	}
	return nil
}

func excludedSet(types []CommandType) map[CommandType]struct{} {
	if len(types) == 0 {
		return nil
	}
	m := make(map[CommandType]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}
