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

// Package feed ships history events to downstream sinks: Redis Streams,
// Kafka, append-only NDJSON files, or a logging stand-in for local runs.
//
// The dispatcher subscribes to an engine's event bus, converts each event
// into a Record, and hands batches of records to a Sink. Sinks are fire
// and forget from the editor's point of view: a slow or failing sink never
// blocks an edit, it only drops feed records.
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cmdhist"
)

// Record is the sink-facing shape of a single history event.
//
// Fields:
//   - RecordID: globally unique id for this record, minted at enqueue time.
//     Sinks that support keyed delivery (Kafka) use it as the message key so
//     broker-side dedup keeps retries harmless.
//   - Event: the bus event type (command.executed, history.changed, ...).
//   - CommandID / CommandType / Description: identity of the command the
//     event describes; empty for pure history events.
//   - AffectedAnnotations: annotation ids the command touched.
//   - BatchID: parent batch id when the command ran inside a batch.
//   - ViewportID / ImageID / SeriesInstanceUID: execution context captured
//     when the command was built.
//   - Error: failure text for *.failed events, empty otherwise.
//   - DurationMs: execution latency for command.executed, 0 otherwise.
//   - UndoCount / RedoCount: ledger depths at emission time.
//   - TsUnixMs: the event's emission time (enqueue time when absent).
//
// Records are self-contained: a consumer can rebuild an edit timeline from
// the stream alone, without access to the producing process.
type Record struct {
	RecordID            string   `json:"recordId"`
	Event               string   `json:"event"`
	CommandID           string   `json:"commandId,omitempty"`
	CommandType         string   `json:"commandType,omitempty"`
	Description         string   `json:"description,omitempty"`
	AffectedAnnotations []string `json:"affectedAnnotations,omitempty"`
	BatchID             string   `json:"batchId,omitempty"`
	ViewportID          string   `json:"viewportId,omitempty"`
	ImageID             string   `json:"imageId,omitempty"`
	SeriesInstanceUID   string   `json:"seriesInstanceUID,omitempty"`
	Error               string   `json:"error,omitempty"`
	DurationMs          int64    `json:"durationMs,omitempty"`
	UndoCount           int      `json:"undoCount"`
	RedoCount           int      `json:"redoCount"`
	TsUnixMs            int64    `json:"tsUnixMs"`
}

// NewRecord converts a bus event into a Record with a fresh RecordID.
func NewRecord(ev cmdhist.Event) Record {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	r := Record{
		RecordID:            uuid.NewString(),
		Event:               string(ev.Type),
		CommandID:           ev.CommandID,
		CommandType:         string(ev.CommandType),
		Description:         ev.Description,
		AffectedAnnotations: ev.AffectedAnnotations,
		BatchID:             ev.BatchID,
		ViewportID:          ev.Context.ViewportID,
		ImageID:             ev.Context.ImageID,
		SeriesInstanceUID:   ev.Context.SeriesInstanceUID,
		DurationMs:          ev.Duration.Milliseconds(),
		UndoCount:           ev.UndoCount,
		RedoCount:           ev.RedoCount,
		TsUnixMs:            ts.UnixMilli(),
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r
}

// Sink delivers batches of records to a downstream system.
//
// Publish must be safe for concurrent use and should batch efficiently where
// the backend supports it. A returned error means none or only part of the
// batch was delivered; the dispatcher retries the whole batch, so sinks
// whose backends cannot dedup by RecordID may see duplicates after a partial
// failure. Consumers that need exactly-once semantics must dedup on RecordID.
//
// Close releases backend resources. Publish is never called after Close.
type Sink interface {
	Publish(ctx context.Context, records []Record) error
	Close() error
}
