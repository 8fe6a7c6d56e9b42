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
	"testing"
	"time"

	"cmdhist"
	"cmdhist/internal/annotator/feed"
)

// rec builds a feed record by hand so tests control ids and timestamps.
func rec(ev cmdhist.EventType, cmdID string, cmdType cmdhist.CommandType, ids []string, ts time.Time) feed.Record {
	return feed.Record{
		RecordID:            "r-" + cmdID,
		Event:               string(ev),
		CommandID:           cmdID,
		CommandType:         string(cmdType),
		AffectedAnnotations: ids,
		TsUnixMs:            ts.UnixMilli(),
	}
}

func TestBuilder_TimelinesFromStream(t *testing.T) {
	oldNow := Now
	generated := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
	Now = func() time.Time { return generated }
	defer func() { Now = oldNow }()

	t0 := time.Date(2025, 10, 20, 10, 0, 0, 0, time.UTC)
	at := func(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "cmd-1", cmdhist.CommandCreate, []string{"ann-1"}, at(1)))
	b.Add(rec(cmdhist.EventCommandExecuted, "cmd-2", cmdhist.CommandUpdate, []string{"ann-1"}, at(2)))
	b.Add(rec(cmdhist.EventCommandUndone, "cmd-2", cmdhist.CommandUpdate, []string{"ann-1"}, at(3)))
	b.Add(rec(cmdhist.EventCommandExecuted, "cmd-3", cmdhist.CommandDelete, []string{"ann-1"}, at(4)))
	b.Add(rec(cmdhist.EventCommandExecuted, "cmd-4", cmdhist.CommandImport, []string{"ann-2"}, at(5)))
	b.Add(rec(cmdhist.EventCommandFailed, "cmd-5", cmdhist.CommandUpdate, []string{"ann-2"}, at(6)))

	sum := b.Build()
	if sum.Records != 6 || sum.Commands != 5 || sum.Annotations != 2 || sum.Failures != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if !sum.From.Equal(at(1)) || !sum.To.Equal(at(6)) {
		t.Fatalf("window = %s..%s", sum.From, sum.To)
	}
	if !sum.GeneratedAt.Equal(generated) {
		t.Fatalf("GeneratedAt = %s, want the Now hook value", sum.GeneratedAt)
	}

	if len(sum.Timelines) != 2 || sum.Timelines[0].AnnotationID != "ann-1" {
		t.Fatalf("timelines = %+v", sum.Timelines)
	}
	tl := sum.Timelines[0]
	if tl.Edits != 3 || tl.Reversals != 1 {
		t.Fatalf("ann-1 edits=%d reversals=%d", tl.Edits, tl.Reversals)
	}
	if tl.Present {
		t.Fatal("ann-1 should be gone: its delete executed last")
	}
	if !tl.FirstTouch.Equal(at(1)) || !tl.LastTouch.Equal(at(4)) {
		t.Fatalf("ann-1 touch window = %s..%s", tl.FirstTouch, tl.LastTouch)
	}
	// The undo shares cmd-2, so the command sequence stays three long.
	if len(tl.Commands) != 3 || tl.Commands[0] != "cmd-1" || tl.Commands[2] != "cmd-3" {
		t.Fatalf("ann-1 commands = %v", tl.Commands)
	}
	for typ, want := range map[string]int{"create": 1, "update": 1, "delete": 1} {
		if tl.ByType[typ] != want {
			t.Fatalf("ann-1 ByType[%s] = %d, want %d", typ, tl.ByType[typ], want)
		}
	}

	if tl2 := sum.Timelines[1]; !tl2.Present || tl2.Edits != 1 {
		t.Fatalf("ann-2 = %+v", tl2)
	}
}

func TestBuilder_RedoCountsAsEdit(t *testing.T) {
	t0 := time.Now()
	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "c1", cmdhist.CommandCreate, []string{"a"}, t0))
	b.Add(rec(cmdhist.EventCommandUndone, "c1", cmdhist.CommandCreate, []string{"a"}, t0.Add(time.Second)))
	b.Add(rec(cmdhist.EventCommandRedone, "c1", cmdhist.CommandCreate, []string{"a"}, t0.Add(2*time.Second)))

	tl := b.Build().Timelines[0]
	if tl.Edits != 2 || tl.Reversals != 1 {
		t.Fatalf("edits=%d reversals=%d", tl.Edits, tl.Reversals)
	}
	if !tl.Present {
		t.Fatal("redone create must leave the annotation present")
	}
	// Redo is a replay, not a new execution, so the type histogram counts one.
	if tl.ByType["create"] != 1 {
		t.Fatalf("ByType[create] = %d", tl.ByType["create"])
	}
}

func TestBuilder_ClearFlipsPresence(t *testing.T) {
	t0 := time.Now()
	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "c1", cmdhist.CommandCreate, []string{"a"}, t0))
	b.Add(rec(cmdhist.EventCommandExecuted, "c2", cmdhist.CommandCreate, []string{"b"}, t0))
	b.Add(rec(cmdhist.EventCommandExecuted, "c3", cmdhist.CommandClear, []string{"a", "b"}, t0.Add(time.Second)))

	sum := b.Build()
	for _, tl := range sum.Timelines {
		if tl.Present {
			t.Fatalf("%s present after clear", tl.AnnotationID)
		}
	}

	b.Add(rec(cmdhist.EventCommandUndone, "c3", cmdhist.CommandClear, []string{"a", "b"}, t0.Add(2*time.Second)))
	sum = b.Build()
	for _, tl := range sum.Timelines {
		if !tl.Present {
			t.Fatalf("%s absent after the clear was undone", tl.AnnotationID)
		}
	}
}

// TestBuilder_SelectiveUndoIsAReversal covers the event the cursor never
// sees: a selective undo must count like a normal one.
func TestBuilder_SelectiveUndoIsAReversal(t *testing.T) {
	t0 := time.Now()
	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "c1", cmdhist.CommandCreate, []string{"a"}, t0))
	b.Add(rec(cmdhist.EventSelectiveUndo, "c1", cmdhist.CommandCreate, []string{"a"}, t0.Add(time.Second)))

	tl := b.Build().Timelines[0]
	if tl.Reversals != 1 || tl.Present {
		t.Fatalf("timeline = %+v", tl)
	}
}

func TestBuilder_HistoryEventsOnlyWidenWindow(t *testing.T) {
	t0 := time.Now().Truncate(time.Millisecond)
	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "c1", cmdhist.CommandCreate, []string{"a"}, t0))
	b.Add(feed.Record{Event: string(cmdhist.EventHistoryCleared), TsUnixMs: t0.Add(time.Minute).UnixMilli()})

	sum := b.Build()
	if sum.Annotations != 1 || sum.Records != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if !sum.To.Equal(t0.Add(time.Minute)) {
		t.Fatalf("To = %s, want the history event to extend the window", sum.To)
	}
}

func TestBuilder_BuildSnapshotsAreIsolated(t *testing.T) {
	t0 := time.Now()
	b := NewBuilder()
	b.Add(rec(cmdhist.EventCommandExecuted, "c1", cmdhist.CommandCreate, []string{"a"}, t0))

	first := b.Build()
	first.Timelines[0].Commands[0] = "tampered"
	first.Timelines[0].ByType["create"] = 99

	second := b.Build()
	if second.Timelines[0].Commands[0] != "c1" || second.Timelines[0].ByType["create"] != 1 {
		t.Fatalf("builder state leaked through a summary: %+v", second.Timelines[0])
	}
}
