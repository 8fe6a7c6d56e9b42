package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type point struct {
	ts       time.Time
	executed int64
	undone   int64
	redone   int64
	failed   int64
}

// Internal aggregates and exporter loop

type annAgg struct {
	edits      atomic.Int64 // commands that touched this annotation
	lastUpdate atomic.Int64 // unix nano
}

var (
	agg sync.Map // map[string]*annAgg

	executedAll atomic.Int64
	undoneAll   atomic.Int64
	redoneAll   atomic.Int64
	failedAll   atomic.Int64

	exporterMu   sync.Mutex
	exporterStop chan struct{}
	exporterDone chan struct{}
	currCfg      atomic.Value // stores Config

	// rolling window points for summary rates (protected by windowMu)
	windowPoints []point
	windowMu     sync.Mutex
)

func startOrUpdateExporter(cfg Config) {
	exporterMu.Lock()
	defer exporterMu.Unlock()

	currCfg.Store(cfg)

	// Stop previous loop if running
	if exporterStop != nil {
		close(exporterStop)
		<-exporterDone
		exporterStop, exporterDone = nil, nil
	}
	if !cfg.Enabled || cfg.LogInterval <= 0 {
		return
	}
	// Start new loop
	exporterStop = make(chan struct{})
	exporterDone = make(chan struct{})
	go exporterLoop(exporterStop, exporterDone)
}

func exporterLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	cfgAny := currCfg.Load()
	cfg, _ := cfgAny.(Config)
	// cfg.LogInterval is guaranteed > 0 by the starter
	ticker := time.NewTicker(cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishSnapshot()
		case <-stop:
			return
		}
	}
}

func publishSnapshot() {
	cfgAny := currCfg.Load()
	cfg, _ := cfgAny.(Config)

	// Snapshot per-annotation aggregates and evict idle entries beyond 2x Window
	type row struct {
		id    string
		edits int64
	}
	rows := make([]row, 0, 64)
	var tracked int
	idleTTL := cfg.Window * 2
	cutoff := time.Now().Add(-idleTTL).UnixNano()
	agg.Range(func(k, v any) bool {
		a := v.(*annAgg)
		last := a.lastUpdate.Load()
		if last > 0 && last < cutoff {
			agg.Delete(k)
			return true
		}
		tracked++
		rows = append(rows, row{id: k.(string), edits: a.edits.Load()})
		return true
	})

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].edits == rows[j].edits {
			return rows[i].id < rows[j].id
		}
		return rows[i].edits > rows[j].edits
	})
	if len(rows) > cfg.TopN {
		rows = rows[:cfg.TopN]
	}

	// Windowed rates using rolling points
	now := time.Now()
	pt := point{
		ts:       now,
		executed: executedAll.Load(),
		undone:   undoneAll.Load(),
		redone:   redoneAll.Load(),
		failed:   failedAll.Load(),
	}
	windowMu.Lock()
	windowPoints = append(windowPoints, pt)
	winStart := now.Add(-cfg.Window)
	idx := 0
	for idx < len(windowPoints) && windowPoints[idx].ts.Before(winStart) {
		idx++
	}
	if idx > 0 {
		windowPoints = windowPoints[idx:]
	}
	old := windowPoints[0]
	windowMu.Unlock()

	dExec := pt.executed - old.executed
	dUndo := pt.undone - old.undone
	dRedo := pt.redone - old.redone
	dFail := pt.failed - old.failed

	summary := fmt.Sprintf("history summary: window=%s executed=%d undone=%d redone=%d failed=%d tracked=%d",
		cfg.Window, dExec, dUndo, dRedo, dFail, tracked)

	var topLine string
	if len(rows) > 0 {
		topLine = fmt.Sprintf("top annotation=%s edits=%d", rows[0].id, rows[0].edits)
	} else {
		topLine = "top annotation: (none yet)"
	}

	ts := time.Now().Format(time.RFC3339)
	fmt.Printf("[%s] %s\n", ts, summary)
	fmt.Printf("  - %s\n", topLine)
}

// --- recording helpers (called from metrics.go) ---

func recordExecution(affected []string) {
	executedAll.Add(1)
	now := time.Now().UnixNano()
	for _, id := range affected {
		if id == "" {
			continue
		}
		a := getAgg(id)
		a.edits.Add(1)
		a.lastUpdate.Store(now)
	}
}

func recordUndo()    { undoneAll.Add(1) }
func recordRedo()    { redoneAll.Add(1) }
func recordFailure() { failedAll.Add(1) }

func getAgg(id string) *annAgg {
	if v, ok := agg.Load(id); ok {
		return v.(*annAgg)
	}
	a := &annAgg{}
	actual, _ := agg.LoadOrStore(id, a)
	return actual.(*annAgg)
}
