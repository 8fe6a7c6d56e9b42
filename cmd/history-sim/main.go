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
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cmdhist"
	"cmdhist/internal/annotator"
	"cmdhist/internal/annotator/feed"
	"cmdhist/internal/annotator/telemetry"
	"cmdhist/plugin/replay"
)

// lastSummarySink keeps the most recent replay summary for the final report.
type lastSummarySink struct {
	mu   sync.Mutex
	last replay.Summary
	seen int
}

func (s *lastSummarySink) OnSummary(sum replay.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = sum
	s.seen++
}

func (s *lastSummarySink) snapshot() (replay.Summary, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.seen
}

var (
	kinds  = []string{"length", "angle", "freehand", "roi"}
	labels = []string{"femur", "tibia", "radius", "lesion", "margin", "caliper"}
	colors = []string{"yellow", "cyan", "magenta", "lime", "orange"}
)

func randomAnnotation(rng *rand.Rand, id string) annotator.Annotation {
	pts := make([]annotator.Point, 2+rng.Intn(4))
	for i := range pts {
		pts[i] = annotator.Point{X: rng.Float64() * 512, Y: rng.Float64() * 512}
	}
	return annotator.Annotation{
		ID:      id,
		Kind:    kinds[rng.Intn(len(kinds))],
		Label:   labels[rng.Intn(len(labels))],
		Points:  pts,
		Style:   map[string]string{"color": colors[rng.Intn(len(colors))]},
		ImageID: fmt.Sprintf("img-%d", rng.Intn(8)),
	}
}

func main() {
	// In plain words (what this tool does):
	//   - history-sim drives a synthetic editing session against the command
	//     history engine: a weighted mix of creates, updates, drags (move
	//     bursts that auto-batch), restyles, deletes, undos and redos.
	//   - While the session runs, the replay service reconstructs
	//     per-annotation timelines from the emitted events, exactly the way
	//     an offline consumer of the history feed would.
	//
	// What to look for:
	//   - The ledger staying bounded at -history_size while edits keep coming.
	//   - Drag bursts collapsing into single batch entries (stats show far
	//     fewer history entries than move operations issued).
	//   - The final replay summary agreeing with the live document: an
	//     annotation the summary says is absent is absent from the store.
	//
	// Usage (quick start):
	//   go run ./cmd/history-sim -rate 500 -duration 20s -pool 40
	//   Optional: -metrics_addr :9091 exposes Prometheus metrics,
	//   -feed_sink file -feed_path history.ndjson captures the event stream.

	rate := flag.Int("rate", 200, "target edit operations per second")
	duration := flag.Duration("duration", 10*time.Second, "run duration; 0 means until Ctrl+C")
	pool := flag.Int("pool", 50, "maximum number of live annotations")
	seed := flag.Int64("seed", 0, "rng seed; 0 derives one from the clock")
	historySize := flag.Int("history_size", 200, "ledger capacity (entries)")
	batchTimeout := flag.Duration("batch_timeout", 150*time.Millisecond, "auto-batch quiet period")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address")
	feedSink := flag.String("feed_sink", "none", "history feed sink: none, logging, file")
	feedPath := flag.String("feed_path", "history-sim.ndjson", "file path when -feed_sink=file")
	summaryEvery := flag.Duration("summary_every", 5*time.Second, "replay summary cadence")
	flag.Parse()

	if *rate <= 0 {
		*rate = 200
	}
	if *pool <= 0 {
		*pool = 50
	}
	if *historySize <= 0 {
		*historySize = 200
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store := annotator.NewStore()
	engine, err := cmdhist.New(cmdhist.Options{
		MaxHistorySize:      *historySize,
		AutoBatchTimeout:    *batchTimeout,
		EnableSelectiveUndo: true,
		Logger:              logger,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	telemetry.Enable(telemetry.Config{
		Enabled:     *metricsAddr != "",
		MetricsAddr: *metricsAddr,
	})
	detachMetrics := telemetry.Observe(engine)

	sink, err := feed.BuildSink(*feedSink, feed.SinkOptions{FilePath: *feedPath})
	if err != nil {
		log.Fatalf("feed sink: %v", err)
	}
	dispatcher := feed.NewDispatcher(sink, feed.DispatcherOptions{Logger: logger})
	dispatcher.Attach(engine)
	dispatcher.Start()

	summaries := &lastSummarySink{}
	replaySvc := replay.NewService(summaries, replay.ServiceOptions{FlushInterval: *summaryEvery})
	replaySvc.Attach(engine)
	replaySvc.Start()

	// Generator loop: one weighted operation per tick.
	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()
	stopGen := make(chan struct{})
	var ops, moves int

	go func() {
		interval := time.Second / time.Duration(*rate)
		if interval <= 0 {
			interval = time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		nextID := 0
		for {
			select {
			case <-stopGen:
				return
			case <-ticker.C:
				ops++
				live := store.List()
				pick := func() annotator.Annotation { return live[rng.Intn(len(live))] }

				switch p := rng.Float64(); {
				case p < 0.30 && len(live) < *pool:
					nextID++
					id := fmt.Sprintf("sim-%d", nextID)
					_ = engine.ExecuteCommand(ctx, annotator.Create(store, randomAnnotation(rng, id), cmdhist.ExecutionContext{ViewportID: "vp-sim"}))
				case p < 0.50 && len(live) > 0:
					before := pick()
					after := randomAnnotation(rng, before.ID)
					_ = engine.ExecuteCommand(ctx, annotator.Update(store, before, after, cmdhist.ExecutionContext{ViewportID: "vp-sim"}))
				case p < 0.75 && len(live) > 0:
					// A drag: a short burst of moves that should auto-batch.
					target := pick()
					steps := 2 + rng.Intn(3)
					for s := 0; s < steps; s++ {
						current, ok := store.Get(target.ID)
						if !ok {
							break
						}
						to := make([]annotator.Point, len(current.Points))
						for i, pt := range current.Points {
							to[i] = annotator.Point{X: pt.X + rng.Float64()*4 - 2, Y: pt.Y + rng.Float64()*4 - 2}
						}
						if cmd, err := annotator.Move(store, target.ID, current.Points, to, cmdhist.ExecutionContext{ViewportID: "vp-sim"}); err == nil {
							_ = engine.AddToBatch(ctx, cmd)
							moves++
						}
					}
				case p < 0.85 && len(live) > 0:
					target := pick()
					if cmd, err := annotator.Restyle(store, target.ID, target.Style, map[string]string{"color": colors[rng.Intn(len(colors))]}, cmdhist.ExecutionContext{ViewportID: "vp-sim"}); err == nil {
						_ = engine.AddToBatch(ctx, cmd)
					}
				case p < 0.93 && len(live) > 0:
					_ = engine.ExecuteCommand(ctx, annotator.Delete(store, pick(), cmdhist.ExecutionContext{ViewportID: "vp-sim"}))
				case p < 0.97:
					engine.Undo(ctx)
				default:
					engine.Redo(ctx)
				}
			}
		}
	}()

	// Run until the duration elapses or the user interrupts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var endTimer <-chan time.Time
	if *duration > 0 {
		endTimer = time.After(*duration)
	}
	select {
	case <-sigCh:
	case <-endTimer:
	}
	close(stopGen)

	// Unwind: flush the pending batch, let consumers drain, then report.
	if err := engine.Close(); err != nil {
		logger.Error("engine close", slog.Any("error", err))
	}
	replaySvc.Stop()
	dispatcher.Stop()
	detachMetrics()

	stats := engine.Statistics()
	info := engine.HistoryInfo()
	fmt.Printf("\n--- session ---\nops issued: %d (moves queued: %d)\nlive annotations: %d\n", ops, moves, store.Len())
	fmt.Printf("ledger: %d entries (undo %d / redo %d), %d snapshots, ~%d bytes retained\n",
		stats.TotalCommands, info.UndoCount, info.RedoCount, stats.SnapshotCount, stats.EstimatedMemoryBytes)
	fmt.Printf("by type: %v\n", stats.CommandsByType)
	if ds := dispatcher.Stats(); ds.Enqueued > 0 {
		fmt.Printf("feed: %d enqueued, %d published, %d dropped\n", ds.Enqueued, ds.Published, ds.Dropped)
	}

	final, published := summaries.snapshot()
	fmt.Printf("\n--- replay summary (#%d) ---\n", published)
	out, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		log.Fatalf("marshal summary: %v", err)
	}
	fmt.Println(string(out))
}
