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

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"cmdhist/internal/annotator/feed"
	"cmdhist/plugin/replay"
)

func main() {
	// Overview:
	//   replay-tap reads a history feed off a pipe or file and turns it into
	//   per-annotation editing timelines. It consumes the same NDJSON records
	//   the feed dispatcher ships to its sinks, so anything that produced a
	//   record log can be inspected offline:
	//
	//     annotator-api -feed_sink=file               (then point -file at it)
	//     redis-cli XRANGE annotation-history - + ... | jq -r '...' | replay-tap
	//     history-sim | replay-tap
	//
	// Main purpose:
	//   - Answer "what happened to annotation X" after the fact: when it was
	//     first and last touched, how many edits and reversals it saw, and
	//     whether it survived the session.
	//   - Sanity-check a feed capture: record counts, command counts, failure
	//     counts, and the covered time window.
	//
	// Usage (quick start):
	//   go run ./cmd/replay-tap -file history.ndjson
	//   cat history.ndjson | go run ./cmd/replay-tap
	//   go run ./cmd/replay-tap -file history.ndjson -json   # machine-readable
	//
	// Flags
	file := flag.String("file", "", "NDJSON record log to read; empty reads stdin")
	asJSON := flag.Bool("json", false, "emit the full summary as JSON instead of a table")
	topN := flag.Int("top", 15, "max timelines to print in table mode (most edited first)")
	flag.Parse()

	builder := replay.NewBuilder()
	var skipped int

	if *file != "" {
		// The file helper tolerates malformed lines itself.
		records, err := feed.ReadAllRecords(*file)
		if err != nil {
			log.Fatalf("read %s: %v", *file, err)
		}
		for _, rec := range records {
			builder.Add(rec)
		}
	} else {
		skipped = readRecords(os.Stdin, builder)
	}

	sum := builder.Build()

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			log.Fatalf("encode summary: %v", err)
		}
		return
	}

	printSummary(sum, skipped, *topN)
}

// readRecords scans NDJSON records from r into the builder, skipping lines
// that do not parse. It returns the skipped-line count so the operator can
// tell a clean capture from a mangled one.
func readRecords(r io.Reader, builder *replay.Builder) int {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec feed.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		builder.Add(rec)
	}
	return skipped
}

func printSummary(sum replay.Summary, skipped, topN int) {
	window := "-"
	if !sum.From.IsZero() {
		window = fmt.Sprintf("%s .. %s (%s)",
			sum.From.Format(time.RFC3339),
			sum.To.Format(time.RFC3339),
			sum.To.Sub(sum.From).Truncate(time.Millisecond))
	}
	fmt.Printf("Records:     %d (skipped %d)\n", sum.Records, skipped)
	fmt.Printf("Commands:    %d   Failures: %d\n", sum.Commands, sum.Failures)
	fmt.Printf("Annotations: %d\n", sum.Annotations)
	fmt.Printf("Window:      %s\n", window)

	if len(sum.Timelines) == 0 {
		return
	}

	timelines := append([]replay.Timeline(nil), sum.Timelines...)
	sort.Slice(timelines, func(i, j int) bool {
		if timelines[i].Edits != timelines[j].Edits {
			return timelines[i].Edits > timelines[j].Edits
		}
		return timelines[i].AnnotationID < timelines[j].AnnotationID
	})
	if topN > 0 && len(timelines) > topN {
		timelines = timelines[:topN]
	}

	fmt.Printf("\n%-24s %6s %9s %8s  %s\n", "ANNOTATION", "EDITS", "REVERSALS", "PRESENT", "BY TYPE")
	for _, tl := range timelines {
		fmt.Printf("%-24s %6d %9d %8v  %s\n",
			truncateID(tl.AnnotationID), tl.Edits, tl.Reversals, tl.Present, formatByType(tl.ByType))
	}
}

func formatByType(byType map[string]int) string {
	if len(byType) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(byType))
	for k := range byType {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byType[k]))
	}
	return strings.Join(parts, " ")
}

func truncateID(id string) string {
	if len(id) <= 24 {
		return id
	}
	return id[:21] + "..."
}
