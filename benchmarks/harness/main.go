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
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"cmdhist"
)

// The harness answers one tuning question: how long should the auto-batch
// quiet period be? Too short and a drag gesture fragments into many history
// entries (each one an undo step the user has to repeat); too long and the
// editor feels laggy because the entry only lands after the timeout.
//
// It replays a synthetic drag workload (bursts of move commands with a fixed
// intra-burst gap, separated by pauses) against a fresh engine per candidate
// timeout and reports, per variant: resulting history entries, the coalesce
// factor (commands per entry), AddToBatch latency percentiles, and wall time.
//
// Usage:
//
//	go run ./benchmarks/harness -timeouts 5ms,20ms,50ms,200ms \
//	    -bursts 20 -burst_len 25 -gap 2ms -pause 80ms
//
// Reading the output: the coalesce factor should approach burst_len once the
// timeout exceeds the intra-burst gap comfortably, and flatten after it
// exceeds the inter-burst pause (at that point bursts start merging, which a
// user would perceive as unrelated drags undoing together).

type workload struct {
	bursts   int
	burstLen int
	gap      time.Duration // between commands inside a burst
	pause    time.Duration // between bursts
	batchCap int
}

type result struct {
	timeout   time.Duration
	commands  int
	entries   int
	coalesce  float64
	elapsed   time.Duration
	latencies []time.Duration
}

// runVariant replays the workload against a fresh engine configured with the
// given auto-batch timeout and measures what the ledger ends up holding.
func runVariant(timeout time.Duration, wl workload) (result, error) {
	engine, err := cmdhist.New(cmdhist.Options{
		MaxHistorySize:   wl.bursts * wl.burstLen, // never trim; trimming would hide coalescing
		MaxBatchSize:     wl.batchCap,
		AutoBatchTimeout: timeout,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return result{}, err
	}
	defer engine.Close()

	ctx := context.Background()
	ectx := cmdhist.ExecutionContext{ViewportID: "vp-harness", ImageID: "img-harness"}
	apply := func(ctx context.Context, state any) error { return nil }

	res := result{timeout: timeout, latencies: make([]time.Duration, 0, wl.bursts*wl.burstLen)}
	start := time.Now()
	for b := 0; b < wl.bursts; b++ {
		annID := fmt.Sprintf("drag-%d", b)
		for i := 0; i < wl.burstLen; i++ {
			cmd := cmdhist.NewUpdateCommand(annID, i, i+1, ectx, apply, apply)
			t0 := time.Now()
			if err := engine.AddToBatch(ctx, cmd); err != nil {
				return result{}, fmt.Errorf("add to batch: %w", err)
			}
			res.latencies = append(res.latencies, time.Since(t0))
			res.commands++
			if wl.gap > 0 {
				time.Sleep(wl.gap)
			}
		}
		if wl.pause > 0 {
			time.Sleep(wl.pause)
		}
	}
	// Let the last quiet period elapse, then force out any stragglers.
	time.Sleep(timeout + 10*time.Millisecond)
	if err := engine.FlushBatch(ctx); err != nil {
		return result{}, fmt.Errorf("final flush: %w", err)
	}
	res.elapsed = time.Since(start)

	res.entries = engine.Statistics().TotalCommands
	if res.entries > 0 {
		res.coalesce = float64(res.commands) / float64(res.entries)
	}
	return res, nil
}

// percentile returns the p-th percentile (0..100) of the sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}

func printResult(w io.Writer, res result) {
	lat := append([]time.Duration(nil), res.latencies...)
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	opsSec := float64(res.commands) / res.elapsed.Seconds()
	fmt.Fprintf(w, "Variant: %-8s Commands: %d\n", res.timeout, res.commands)
	fmt.Fprintf(w, "Duration: %-12s Ops/sec: %.0f\n", res.elapsed.Truncate(time.Millisecond), opsSec)
	fmt.Fprintf(w, "Latency p50: %.1fµs  p95: %.1fµs  p99: %.1fµs\n",
		float64(percentile(lat, 50).Nanoseconds())/1e3,
		float64(percentile(lat, 95).Nanoseconds())/1e3,
		float64(percentile(lat, 99).Nanoseconds())/1e3)
	fmt.Fprintf(w, "History: entries=%d coalesce=%.1fx\n\n", res.entries, res.coalesce)
}

func parseTimeouts(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad timeout %q: %w", p, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("timeout %q is negative", p)
		}
		out = append(out, d)
	}
	return out, nil
}

func main() {
	timeouts := flag.String("timeouts", "5ms,20ms,50ms,200ms", "comma-separated auto-batch timeouts to sweep")
	bursts := flag.Int("bursts", 20, "number of drag bursts")
	burstLen := flag.Int("burst_len", 25, "commands per burst")
	gap := flag.Duration("gap", 2*time.Millisecond, "inter-command gap inside a burst")
	pause := flag.Duration("pause", 80*time.Millisecond, "pause between bursts")
	batchCap := flag.Int("batch_cap", 64, "engine MaxBatchSize (size-triggered flush)")
	flag.Parse()

	tos, err := parseTimeouts(*timeouts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *bursts <= 0 || *burstLen <= 0 || *batchCap <= 0 {
		fmt.Fprintln(os.Stderr, "-bursts, -burst_len and -batch_cap must be > 0")
		os.Exit(2)
	}

	wl := workload{bursts: *bursts, burstLen: *burstLen, gap: *gap, pause: *pause, batchCap: *batchCap}
	fmt.Printf("Auto-batch timeout sweep: bursts=%d burst_len=%d gap=%s pause=%s batch_cap=%d\n\n",
		wl.bursts, wl.burstLen, wl.gap, wl.pause, wl.batchCap)
	for _, to := range tos {
		res, err := runVariant(to, wl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "variant %s: %v\n", to, err)
			os.Exit(1)
		}
		printResult(os.Stdout, res)
	}
}
