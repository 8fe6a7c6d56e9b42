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
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// snapshotCap bounds the retained captures per annotation id. Appending
// beyond the cap evicts the oldest entry first (FIFO).
const snapshotCap = 20

// SnapshotEntry is one captured annotation state. Payload is the
// JSON-marshaled payload taken at execute time, so later mutations of the
// caller's object cannot reach back into stored history.
type SnapshotEntry struct {
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CommandID     string          `json:"commandId"`
	CommandType   CommandType     `json:"commandType"`
	IsBeforeState bool            `json:"isBeforeState"`
}

// snapshotStore keeps a bounded FIFO of before/after captures per
// annotation id, for inspection and debugging. It tracks total payload
// bytes so Statistics can report a memory estimate without re-marshaling.
type snapshotStore struct {
	mu     sync.Mutex
	perID  map[string][]SnapshotEntry
	bytes  int64
	logger *slog.Logger
}

func newSnapshotStore(logger *slog.Logger) *snapshotStore {
	return &snapshotStore{perID: make(map[string][]SnapshotEntry), logger: logger}
}

// record captures the command's payload states, if it exposes any. A payload
// that fails to marshal is skipped with a warning; the command itself still
// executed, only its capture is lost.
func (s *snapshotStore) record(cmd Command) {
	sc, ok := cmd.(Snapshotter)
	if !ok {
		return
	}
	now := time.Now()
	for _, capture := range sc.SnapshotCaptures() {
		raw, err := json.Marshal(capture.Payload)
		if err != nil {
			s.logger.Warn("snapshot payload not serializable, capture skipped",
				slog.String("annotation_id", capture.AnnotationID),
				slog.String("command_id", cmd.ID()),
				slog.Any("error", err))
			continue
		}
		s.append(capture.AnnotationID, SnapshotEntry{
			Payload:       raw,
			Timestamp:     now,
			CommandID:     cmd.ID(),
			CommandType:   cmd.Type(),
			IsBeforeState: capture.IsBefore,
		})
	}
}

func (s *snapshotStore) append(id string, e SnapshotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.perID[id]
	if len(list) >= snapshotCap {
		s.bytes -= int64(len(list[0].Payload))
		copy(list, list[1:])
		list = list[:len(list)-1]
	}
	s.perID[id] = append(list, e)
	s.bytes += int64(len(e.Payload))
}

// forID returns copies of the retained captures for one annotation, oldest
// first. Unknown ids yield nil.
func (s *snapshotStore) forID(id string) []SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.perID[id]
	if len(list) == 0 {
		return nil
	}
	return append([]SnapshotEntry(nil), list...)
}

func (s *snapshotStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perID = make(map[string][]SnapshotEntry)
	s.bytes = 0
}

func (s *snapshotStore) totalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *snapshotStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.perID {
		n += len(list)
	}
	return n
}
