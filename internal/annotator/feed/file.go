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
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink is a buffered NDJSON sink for history records. It is safe for
// concurrent use and optimized for append-only workloads.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	flushEvery time.Duration
	lastFlush  time.Time
}

// NewFileSink opens (or creates) the file at path in append mode with
// a buffered writer, creating parent directories as needed. flushEvery
// bounds how stale buffered records may get; set 0 for the 100ms default.
// Call Close() when done.
func NewFileSink(path string, flushEvery time.Duration) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	s := &FileSink{f: f, w: bufio.NewWriterSize(f, 1<<20 /*1MiB*/), path: path, flushEvery: flushEvery, lastFlush: time.Now()}
	return s, nil
}

// Publish writes the records as JSON lines.
func (s *FileSink) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			// best effort: on error, try to flush and retry once
			_ = s.w.Flush()
			if err := enc.Encode(&records[i]); err != nil {
				return err
			}
		}
	}
	// Flush periodically to bound data loss on crash and for replay visibility.
	if time.Since(s.lastFlush) > s.flushEvery {
		if err := s.w.Flush(); err != nil {
			return err
		}
		s.lastFlush = time.Now()
	}
	return nil
}

// Flush forces buffered records to be written to disk.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAllRecords reads an entire NDJSON record log as a slice. Intended for
// demo and replay tooling, not for streaming large logs.
func ReadAllRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Record
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err == nil {
			out = append(out, r)
		}
	}
	return out, scanner.Err()
}
