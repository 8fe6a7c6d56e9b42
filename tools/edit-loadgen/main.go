// edit-loadgen is a tiny, dependency-free HTTP load generator tailored for the
// annotator-api demo. It reuses HTTP connections (keep-alive) and supports
// concurrency so demo scripts run fast on Windows (Git Bash), Ubuntu (WSL),
// and macOS without relying on external tools.
//
// Modes:
//   - edit: create N annotations, then round-robin update/undo churn on them
//   - drag: create one annotation, then burst PATCH /move calls against it to
//     exercise the auto-batch (follow with a /v1/history/flush)
//
// Usage examples:
//
//	edit-loadgen -base=http://127.0.0.1:8080 -mode=edit -anns=50 -n=5000 -c=16
//	edit-loadgen -base=http://127.0.0.1:8080 -mode=drag -n=2000 -c=8
//
// Notes:
//   - Request bodies are minimal JSON annotations; ids are loadgen-<i>.
//   - Prints a summary with duration, approximate throughput, and request
//     latency percentiles (p50/p95/p99).
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeEdit modeType = "edit"
	modeDrag modeType = "drag"
)

func main() {
	var (
		base  = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		modeS = flag.String("mode", string(modeEdit), "Mode: edit|drag")
		anns  = flag.Int("anns", 50, "Number of annotations to spread edits across in edit mode")
		N     = flag.Int("n", 5000, "Total requests to send (after setup creates)")
		conc  = flag.Int("c", 8, "Number of concurrent workers")
		// Every undoEvery-th edit request becomes a POST /v1/history/undo, so the
		// run exercises the reversal path too. 0 disables undos.
		undoEvery = flag.Int("undo_every", 20, "Issue an undo every this many edit requests (0 = never)")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeEdit && m != modeDrag {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want edit|drag)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeEdit && *anns <= 0 {
		fmt.Fprintln(os.Stderr, "-anns must be > 0 in edit mode")
		os.Exit(2)
	}

	baseURL := strings.TrimRight(*base, "/")

	// Configure HTTP client with connection reuse
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	send := func(method, url, body string) int {
		var rd io.Reader
		if body != "" {
			rd = bytes.NewReader([]byte(body))
		}
		req, _ := http.NewRequestWithContext(ctx, method, url, rd)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			// Brief backoff on errors to avoid hot spinning
			time.Sleep(200 * time.Microsecond)
			return 0
		}
		// Drain and close body to enable connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	// Setup: create the annotations the run will edit.
	setup := 1
	if m == modeEdit {
		setup = *anns
	}
	for i := 0; i < setup; i++ {
		id := fmt.Sprintf("loadgen-%d", i)
		body := fmt.Sprintf(`{"id":%q,"kind":"rect","points":[{"x":0,"y":0}]}`, id)
		if code := send(http.MethodPost, baseURL+"/v1/annotations", body); code != http.StatusCreated && code != http.StatusConflict {
			fmt.Fprintf(os.Stderr, "setup create %s failed with status %d\n", id, code)
			os.Exit(1)
		}
	}

	start := time.Now()
	var sent, failed int64
	latC := make(chan []time.Duration, *conc)

	worker := func(id, count int) {
		lats := make([]time.Duration, 0, count)
		defer func() { latC <- lats }()
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var code int
			t0 := time.Now()
			switch {
			case m == modeDrag:
				body := fmt.Sprintf(`{"points":[{"x":%d,"y":%d}]}`, i+id, i)
				code = send(http.MethodPatch, baseURL+"/v1/annotations/loadgen-0/move", body)
			case *undoEvery > 0 && (i+id)%*undoEvery == 0:
				code = send(http.MethodPost, baseURL+"/v1/history/undo", "")
			default:
				target := fmt.Sprintf("loadgen-%d", (i+id)%*anns)
				body := fmt.Sprintf(`{"kind":"rect","label":"edit-%d","points":[{"x":%d,"y":%d}]}`, i, i, id)
				code = send(http.MethodPut, baseURL+"/v1/annotations/"+target, body)
			}
			lats = append(lats, time.Since(t0))
			atomic.AddInt64(&sent, 1)
			if code < 200 || code >= 300 {
				atomic.AddInt64(&failed, 1)
			}
		}
	}

	// Split N across conc workers
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()

	// In drag mode the tail of the burst is still pending in the auto-batch;
	// flush so the history reflects the whole run.
	if m == modeDrag {
		_ = send(http.MethodPost, baseURL+"/v1/history/flush", "")
	}

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	// Merge per-worker latency samples for the percentile report.
	close(latC)
	var all []time.Duration
	for lats := range latC {
		all = append(all, lats...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	pct := func(p float64) time.Duration {
		if len(all) == 0 {
			return 0
		}
		return all[int(p/100*float64(len(all)-1))]
	}

	ops := float64(sent) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s Failed=%d\n",
		m, sent, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, failed)
	fmt.Printf("Latency p50: %s  p95: %s  p99: %s\n",
		pct(50).Truncate(time.Microsecond), pct(95).Truncate(time.Microsecond), pct(99).Truncate(time.Microsecond))
}
