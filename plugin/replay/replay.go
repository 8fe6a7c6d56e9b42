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

// Package replay rebuilds per-annotation editing timelines from the history
// feed. Given the record stream a session emitted, it answers what happened
// to each annotation: when it was first and last touched, how often it was
// edited and reverted, and whether it survived the session.
package replay

import (
	"sort"
	"time"

	"cmdhist"
	"cmdhist/internal/annotator/feed"
)

// Timeline is the reconstructed editing history of one annotation.
type Timeline struct {
	AnnotationID string    `json:"annotationId"`
	FirstTouch   time.Time `json:"firstTouch"`
	LastTouch    time.Time `json:"lastTouch"`
	// Commands lists the distinct command ids that touched this annotation,
	// in arrival order.
	Commands []string `json:"commands"`
	// Edits counts forward applications (executed and redone).
	Edits int `json:"edits"`
	// Reversals counts undo applications, selective ones included.
	Reversals int `json:"reversals"`
	// ByType breaks executed commands down by command type.
	ByType map[string]int `json:"byType"`
	// Present is the net outcome: does the annotation exist after replaying
	// the stream? Only create/import/delete/clear flip it.
	Present bool `json:"present"`
}

// Summary is the aggregate view over every record fed to a Builder.
type Summary struct {
	Records     int        `json:"records"`
	Commands    int        `json:"commands"`
	Annotations int        `json:"annotations"`
	Failures    int        `json:"failures"`
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Timelines   []Timeline `json:"timelines"`
}

// Builder accumulates feed records into timelines. It is not safe for
// concurrent use; the Service owns one per worker goroutine, and offline
// tools feed it single-threaded.
type Builder struct {
	byID     map[string]*Timeline
	order    []string // annotation ids in first-touch order
	seenCmds map[string]struct{}
	records  int
	failures int
	from, to time.Time
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		byID:     make(map[string]*Timeline),
		seenCmds: make(map[string]struct{}),
	}
}

// Records reports how many records have been added so far.
func (b *Builder) Records() int { return b.records }

// Add folds one record into the timelines. History-level records (cleared,
// changed) count toward the window but carry no annotation ids, so they only
// adjust the bounds.
func (b *Builder) Add(rec feed.Record) {
	b.records++
	ts := time.UnixMilli(rec.TsUnixMs)
	if b.from.IsZero() || ts.Before(b.from) {
		b.from = ts
	}
	if ts.After(b.to) {
		b.to = ts
	}
	if rec.CommandID != "" {
		b.seenCmds[rec.CommandID] = struct{}{}
	}

	ev := cmdhist.EventType(rec.Event)
	if ev == cmdhist.EventCommandFailed {
		b.failures++
		return
	}

	forward := ev == cmdhist.EventCommandExecuted || ev == cmdhist.EventCommandRedone
	reverse := ev == cmdhist.EventCommandUndone || ev == cmdhist.EventSelectiveUndo
	if !forward && !reverse {
		return
	}

	for _, id := range rec.AffectedAnnotations {
		tl := b.timeline(id, ts)
		if ts.After(tl.LastTouch) {
			tl.LastTouch = ts
		}
		if len(tl.Commands) == 0 || tl.Commands[len(tl.Commands)-1] != rec.CommandID {
			tl.Commands = append(tl.Commands, rec.CommandID)
		}
		if forward {
			tl.Edits++
			if ev == cmdhist.EventCommandExecuted {
				tl.ByType[rec.CommandType]++
			}
		} else {
			tl.Reversals++
		}
		switch cmdhist.CommandType(rec.CommandType) {
		case cmdhist.CommandCreate, cmdhist.CommandImport:
			tl.Present = forward
		case cmdhist.CommandDelete, cmdhist.CommandClear:
			tl.Present = reverse
		}
	}
}

func (b *Builder) timeline(id string, ts time.Time) *Timeline {
	if tl, ok := b.byID[id]; ok {
		return tl
	}
	tl := &Timeline{
		AnnotationID: id,
		FirstTouch:   ts,
		LastTouch:    ts,
		ByType:       make(map[string]int),
	}
	b.byID[id] = tl
	b.order = append(b.order, id)
	return tl
}

// Build snapshots the current state into a Summary. The builder keeps
// accumulating afterwards; Build can be called repeatedly.
func (b *Builder) Build() Summary {
	timelines := make([]Timeline, 0, len(b.order))
	for _, id := range b.order {
		tl := *b.byID[id]
		tl.Commands = append([]string(nil), tl.Commands...)
		byType := make(map[string]int, len(tl.ByType))
		for k, v := range tl.ByType {
			byType[k] = v
		}
		tl.ByType = byType
		timelines = append(timelines, tl)
	}
	sort.Slice(timelines, func(i, j int) bool {
		return timelines[i].AnnotationID < timelines[j].AnnotationID
	})
	return Summary{
		Records:     b.records,
		Commands:    len(b.seenCmds),
		Annotations: len(b.byID),
		Failures:    b.failures,
		From:        b.from,
		To:          b.to,
		GeneratedAt: Now(),
		Timelines:   timelines,
	}
}

// Now is abstracted for testability.
var Now = func() time.Time { return time.Now() }
