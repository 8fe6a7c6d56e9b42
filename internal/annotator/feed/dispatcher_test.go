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

package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cmdhist"
)

type sinkMock struct {
	mu     sync.Mutex
	seen   [][]Record
	fail   int
	calls  int
	closed bool
}

func (s *sinkMock) Publish(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	batch := make([]Record, len(records))
	copy(batch, records)
	s.seen = append(s.seen, batch)
	return nil
}

func (s *sinkMock) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *sinkMock) flat() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, b := range s.seen {
		out = append(out, b...)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func rec(event string) Record {
	return NewRecord(cmdhist.Event{Type: cmdhist.EventType(event), Timestamp: time.Now()})
}

func TestDispatcher_FlushBySize(t *testing.T) {
	sink := &sinkMock{}
	d := NewDispatcher(sink, DispatcherOptions{FlushSize: 2, FlushInterval: time.Hour, Logger: quietLogger()})
	d.Start()
	defer d.Stop()

	d.Enqueue(rec("command.executed"))
	d.Enqueue(rec("history.changed"))

	waitFor(t, "size-triggered flush", func() bool { return len(sink.flat()) == 2 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 1 || len(sink.seen[0]) != 2 {
		t.Fatalf("expected a single batch of 2 records, got %d batches", len(sink.seen))
	}
}

func TestDispatcher_PeriodicFlush(t *testing.T) {
	sink := &sinkMock{}
	d := NewDispatcher(sink, DispatcherOptions{FlushSize: 100, FlushInterval: 10 * time.Millisecond, Logger: quietLogger()})
	d.Start()
	defer d.Stop()

	d.Enqueue(rec("command.executed"))
	waitFor(t, "periodic flush", func() bool { return len(sink.flat()) == 1 })
}

func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	sink := &sinkMock{}
	// Worker intentionally not started, so the buffer cannot drain.
	d := NewDispatcher(sink, DispatcherOptions{Buffer: 1, Logger: quietLogger()})

	if ok := d.Enqueue(rec("command.executed")); !ok {
		t.Fatalf("expected first enqueue to fit the buffer")
	}
	if ok := d.Enqueue(rec("command.executed")); ok {
		t.Fatalf("expected second enqueue to be dropped")
	}
	st := d.Stats()
	if st.Enqueued != 1 || st.Dropped != 1 {
		t.Fatalf("expected enqueued=1 dropped=1, got %+v", st)
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	sink := &sinkMock{fail: 1}
	d := NewDispatcher(sink, DispatcherOptions{
		FlushSize: 1, FlushInterval: time.Hour,
		RetryBackoff: time.Millisecond, Logger: quietLogger(),
	})
	d.Start()
	defer d.Stop()

	d.Enqueue(rec("command.executed"))
	waitFor(t, "retried publish", func() bool { return len(sink.flat()) == 1 })

	st := d.Stats()
	if st.Retries != 1 || st.Published != 1 || st.Dropped != 0 {
		t.Fatalf("expected retries=1 published=1 dropped=0, got %+v", st)
	}
}

func TestDispatcher_DropsBatchAfterRetryExhaustion(t *testing.T) {
	sink := &sinkMock{fail: 10}
	d := NewDispatcher(sink, DispatcherOptions{
		FlushSize: 1, FlushInterval: time.Hour,
		MaxRetries: 2, RetryBackoff: time.Millisecond, Logger: quietLogger(),
	})
	d.Start()
	defer d.Stop()

	d.Enqueue(rec("command.executed"))
	waitFor(t, "retry exhaustion", func() bool { return d.Stats().Dropped == 1 })

	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 publish attempts (1 + 2 retries), got %d", calls)
	}
	if st := d.Stats(); st.Published != 0 {
		t.Fatalf("expected nothing published, got %+v", st)
	}
}

func TestDispatcher_StopDrainsAndClosesSink(t *testing.T) {
	sink := &sinkMock{}
	d := NewDispatcher(sink, DispatcherOptions{FlushSize: 100, FlushInterval: time.Hour, Logger: quietLogger()})
	d.Start()

	for i := 0; i < 3; i++ {
		d.Enqueue(rec("command.executed"))
	}
	d.Stop()
	d.Stop() // second stop must be a no-op

	if got := len(sink.flat()); got != 3 {
		t.Fatalf("expected 3 records flushed on stop, got %d", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Fatalf("expected sink to be closed on stop")
	}
}

func TestDispatcher_AttachForwardsEngineEvents(t *testing.T) {
	engine, err := cmdhist.New(cmdhist.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	sink := &sinkMock{}
	d := NewDispatcher(sink, DispatcherOptions{FlushSize: 100, FlushInterval: time.Hour, Logger: quietLogger()})
	d.Attach(engine)
	d.Start()

	noop := func(ctx context.Context, payload any) error { return nil }
	cmd := cmdhist.NewCreateCommand("ann-1", "state",
		cmdhist.ExecutionContext{ViewportID: "vp-1", ImageID: "img-9"}, noop, noop)
	if err := engine.ExecuteCommand(context.Background(), cmd); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// One command.executed plus one history.changed.
	waitFor(t, "forwarded events", func() bool {
		d.Flush()
		return len(sink.flat()) >= 2
	})

	var execRec *Record
	for _, r := range sink.flat() {
		if r.Event == string(cmdhist.EventCommandExecuted) {
			r := r
			execRec = &r
		}
	}
	if execRec == nil {
		t.Fatalf("expected a command.executed record")
	}
	if execRec.CommandID != cmd.ID() || execRec.CommandType != "create" {
		t.Fatalf("unexpected command identity: %+v", execRec)
	}
	if execRec.ViewportID != "vp-1" || execRec.ImageID != "img-9" {
		t.Fatalf("expected execution context on record, got %+v", execRec)
	}
	if execRec.RecordID == "" {
		t.Fatalf("expected a record id")
	}

	before := len(sink.flat())
	d.Stop()

	// After Stop the dispatcher is detached; new commands produce no records.
	if err := engine.ExecuteCommand(context.Background(), cmdhist.NewCreateCommand("ann-2", "state",
		cmdhist.ExecutionContext{}, noop, noop)); err != nil {
		t.Fatalf("execute after stop: %v", err)
	}
	if got := len(sink.flat()); got != before {
		t.Fatalf("expected no records after detach, got %d new", got-before)
	}
}
