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

package replay

import (
	"sync"
	"time"

	"cmdhist"
	"cmdhist/internal/annotator/feed"
)

// SummarySink consumes periodic replay summaries. Implementations must be
// non-blocking or bounded in latency; otherwise the service backpressure
// will propagate to ingress.
type SummarySink interface {
	OnSummary(Summary)
}

// ServiceOptions configure the background replay service.
type ServiceOptions struct {
	// Buffer is the bounded capacity of the ingress channel. Default 1024.
	Buffer int
	// FlushInterval is the periodic summary cadence. Default 2s.
	FlushInterval time.Duration
}

// Service is a single-worker service that ingests feed records, folds them
// into a Builder, and periodically publishes summaries to a sink. The final
// summary is always published on Stop, so short sessions still produce one.
type Service struct {
	builder *Builder
	sink    SummarySink
	in      chan feed.Record
	stopCh  chan struct{}
	doneCh  chan struct{}
	opts    ServiceOptions
	once    sync.Once
	// flushNowCh allows external callers to request an immediate summary on
	// the service goroutine
	flushNowCh chan struct{}

	mu     sync.Mutex
	detach []func()
}

// NewService constructs a new service. The builder is exclusive to the
// service goroutine; callers interact via Ingest/TryIngest only.
func NewService(sink SummarySink, opts ServiceOptions) *Service {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	return &Service{
		builder:    NewBuilder(),
		sink:       sink,
		in:         make(chan feed.Record, opts.Buffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		opts:       opts,
		flushNowCh: make(chan struct{}, 1),
	}
}

// Start launches the background worker.
func (s *Service) Start() {
	s.once.Do(func() {
		go s.run()
	})
}

// Stop detaches from any engine, asks the worker to stop, publishes the
// final summary, and waits for completion.
func (s *Service) Stop() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()
	for _, off := range detach {
		off()
	}
	close(s.stopCh)
	<-s.doneCh
}

// Flush requests an immediate best-effort summary on the service goroutine.
// It is non-blocking: if a prior request is still pending, this is a no-op.
func (s *Service) Flush() {
	select {
	case s.flushNowCh <- struct{}{}:
	default:
	}
}

// Attach subscribes the service to every engine event so live sessions feed
// it without extra plumbing.
func (s *Service) Attach(engine *cmdhist.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range cmdhist.EventTypes() {
		t := t
		sub := engine.On(t, func(ev cmdhist.Event) {
			s.TryIngest(feed.NewRecord(ev))
		})
		s.detach = append(s.detach, func() { engine.Off(t, sub) })
	}
}

// Ingest enqueues a record. It blocks if the buffer is full.
func (s *Service) Ingest(rec feed.Record) {
	s.in <- rec
}

// TryIngest attempts to enqueue without blocking. Returns false if the
// buffer is full.
func (s *Service) TryIngest(rec feed.Record) bool {
	select {
	case s.in <- rec:
		return true
	default:
		return false
	}
}

func (s *Service) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	published := 0
	publish := func() {
		// Skip when nothing new arrived since the last summary.
		if s.builder.Records() == published {
			return
		}
		published = s.builder.Records()
		if s.sink != nil {
			s.sink.OnSummary(s.builder.Build())
		}
	}

	for {
		select {
		case rec := <-s.in:
			s.builder.Add(rec)
		case <-ticker.C:
			publish()
		case <-s.flushNowCh:
			publish()
		case <-s.stopCh:
			// Drain remaining queued records without blocking
			for {
				select {
				case rec := <-s.in:
					s.builder.Add(rec)
				default:
					publish()
					return
				}
			}
		}
	}
}
