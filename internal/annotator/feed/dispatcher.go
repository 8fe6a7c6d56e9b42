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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cmdhist"
)

// DispatcherOptions configure the feed dispatcher.
type DispatcherOptions struct {
	// Buffer is the bounded capacity of the ingress channel. Default 1024.
	Buffer int
	// FlushSize flushes the pending batch when it reaches this many records.
	// Default 64.
	FlushSize int
	// FlushInterval is the periodic flush cadence, enforcing a tail latency
	// bound for quiet streams. Default 250ms.
	FlushInterval time.Duration
	// MaxRetries is how many times a failed Publish is retried before the
	// batch is dropped. Default 3.
	MaxRetries int
	// RetryBackoff is the delay before the first retry; it doubles per
	// attempt. Default 100ms.
	RetryBackoff time.Duration
	// PublishTimeout bounds a single Publish call. Default 5s.
	PublishTimeout time.Duration
	// Logger receives drop and retry diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DispatcherStats is a point-in-time snapshot of dispatcher counters.
type DispatcherStats struct {
	Enqueued  int64 `json:"enqueued"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Retries   int64 `json:"retries"`
}

// Dispatcher is a single-worker pump that ingests history events, accumulates
// them in-memory, and periodically flushes batches into a Sink. It enforces a
// time-capped batching policy regardless of edit load, and it never blocks
// the editor: when the ingress buffer is full, records are dropped and
// counted instead of applying backpressure.
type Dispatcher struct {
	sink       Sink
	in         chan Record
	stopCh     chan struct{}
	doneCh     chan struct{}
	flushNowCh chan struct{}
	opts       DispatcherOptions
	startOnce  sync.Once
	stopOnce   sync.Once
	logger     *slog.Logger

	enqueued  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
	retries   atomic.Int64

	mu     sync.Mutex
	detach []func()
}

// NewDispatcher constructs a dispatcher that feeds sink. The dispatcher owns
// the sink: Stop closes it after the final flush.
func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.FlushSize <= 0 {
		opts.FlushSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 250 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:       sink,
		in:         make(chan Record, opts.Buffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		flushNowCh: make(chan struct{}, 1),
		opts:       opts,
		logger:     logger.With(slog.String("component", "feed")),
	}
}

// Start launches the background worker.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Stop detaches from any engine, drains queued records, performs a final
// flush, closes the sink, and waits for completion. Safe to call twice.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		detach := d.detach
		d.detach = nil
		d.mu.Unlock()
		for _, off := range detach {
			off()
		}
		close(d.stopCh)
		<-d.doneCh
		if err := d.sink.Close(); err != nil {
			d.logger.Error("feed sink close failed", slog.Any("error", err))
		}
	})
}

// Attach subscribes the dispatcher to every event type on the engine's bus.
// Detaching happens automatically on Stop.
func (d *Dispatcher) Attach(engine *cmdhist.Engine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range cmdhist.EventTypes() {
		t := t
		sub := engine.On(t, func(ev cmdhist.Event) {
			d.Enqueue(NewRecord(ev))
		})
		d.detach = append(d.detach, func() { engine.Off(t, sub) })
	}
}

// Enqueue offers a record to the worker without blocking. Returns false and
// bumps the drop counter if the ingress buffer is full.
func (d *Dispatcher) Enqueue(r Record) bool {
	select {
	case d.in <- r:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Debug("feed buffer full, record dropped",
			slog.String("event", r.Event), slog.String("command_id", r.CommandID))
		return false
	}
}

// Flush requests an immediate best-effort flush on the worker goroutine.
// It is non-blocking: if a prior flush request is still pending, this call
// is a no-op.
func (d *Dispatcher) Flush() {
	select {
	case d.flushNowCh <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Enqueued:  d.enqueued.Load(),
		Published: d.published.Load(),
		Dropped:   d.dropped.Load(),
		Retries:   d.retries.Load(),
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.opts.FlushInterval)
	defer ticker.Stop()
	var pending []Record
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		d.publish(batch)
	}
	for {
		select {
		case r := <-d.in:
			pending = append(pending, r)
			if len(pending) >= d.opts.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-d.flushNowCh:
			flush()
		case <-d.stopCh:
			// Drain remaining queued records without blocking
			for {
				select {
				case r := <-d.in:
					pending = append(pending, r)
				default:
					flush()
					return
				}
			}
		}
	}
}

// publish delivers one batch with bounded retries. On exhaustion the batch is
// dropped and counted; the feed is advisory and must not wedge the worker.
func (d *Dispatcher) publish(batch []Record) {
	backoff := d.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
		err := d.sink.Publish(ctx, batch)
		cancel()
		if err == nil {
			d.published.Add(int64(len(batch)))
			return
		}
		if attempt >= d.opts.MaxRetries {
			d.dropped.Add(int64(len(batch)))
			d.logger.Error("feed publish failed, batch dropped",
				slog.Int("records", len(batch)), slog.Int("attempts", attempt+1), slog.Any("error", err))
			return
		}
		d.retries.Add(1)
		d.logger.Warn("feed publish failed, retrying",
			slog.Int("records", len(batch)), slog.Int("attempt", attempt+1), slog.Any("error", err))
		time.Sleep(backoff)
		backoff *= 2
	}
}
