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
	"log/slog"
	"sync"
	"time"
)

// EventType names a lifecycle event. The set is closed so a typo in a
// subscription is a compile error, not a handler that never fires.
type EventType string

const (
	EventCommandExecuted EventType = "command.executed"
	EventCommandFailed   EventType = "command.failed"
	EventCommandUndone   EventType = "command.undone"
	EventCommandRedone   EventType = "command.redone"
	EventUndoFailed      EventType = "undo.failed"
	EventRedoFailed      EventType = "redo.failed"
	EventSelectiveUndo   EventType = "selective.undo"
	EventHistoryChanged  EventType = "history.changed"
	EventHistoryCleared  EventType = "history.cleared"
)

// EventTypes lists every event the engine emits, in a stable order. Useful
// for observers that subscribe to everything.
func EventTypes() []EventType {
	return []EventType{
		EventCommandExecuted, EventCommandFailed,
		EventCommandUndone, EventCommandRedone,
		EventUndoFailed, EventRedoFailed,
		EventSelectiveUndo,
		EventHistoryChanged, EventHistoryCleared,
	}
}

// Event is the payload delivered to handlers. Command fields are populated
// on command.* / *.failed / selective.undo events; Err only on failures;
// Duration only on execution events; the counts on history.* events.
type Event struct {
	Type      EventType
	Timestamp time.Time

	CommandID           string
	CommandType         CommandType
	Description         string
	AffectedAnnotations []string
	BatchID             string
	Context             ExecutionContext

	Err      error
	Duration time.Duration

	UndoCount int
	RedoCount int
}

// Handler receives events synchronously on the emitting goroutine. A panic
// inside a handler is recovered and logged, never propagated, so one faulty
// observer cannot break the engine or its siblings.
type Handler func(Event)

// Subscription identifies one registered handler for removal via Off.
// Handlers are functions and not comparable, so Off takes the token instead.
type Subscription int64

type eventBus struct {
	mu       sync.RWMutex
	nextID   Subscription
	handlers map[EventType]map[Subscription]Handler
	logger   *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	return &eventBus{
		handlers: make(map[EventType]map[Subscription]Handler),
		logger:   logger,
	}
}

func (b *eventBus) subscribe(t EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	m := b.handlers[t]
	if m == nil {
		m = make(map[Subscription]Handler)
		b.handlers[t] = m
	}
	m[id] = h
	return id
}

func (b *eventBus) unsubscribe(t EventType, id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.handlers[t]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.handlers, t)
		}
	}
}

// emit delivers ev to every handler registered for its type. Handlers run
// outside the bus lock so they may subscribe, unsubscribe, or call back into
// the engine's introspection methods.
func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	m := b.handlers[ev.Type]
	hs := make([]Handler, 0, len(m))
	for _, h := range m {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, ev)
	}
}

func (b *eventBus) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", r))
		}
	}()
	h(ev)
}
