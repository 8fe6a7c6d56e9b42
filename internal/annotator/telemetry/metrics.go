// Package telemetry provides opt-in Prometheus instrumentation and periodic
// activity summaries for the history engine. It is safe to wire from any
// composition root: when Enable has not been called, the observers are
// no-ops and only the eager metric registration remains.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cmdhist"
)

// Config controls the telemetry module.
//
// Notes:
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server that serves /metrics.
//     If you already expose Prometheus elsewhere, leave it empty and register promhttp yourself.
//   - LogInterval drives the exporter loop (see exporter.go). If LogInterval == 0, the
//     exporter loop is disabled.
//   - Window is the rolling window the summary rates are computed over; defaults to 1m if 0.
//   - TopN is how many most-edited annotations the exporter considers for its top line.
type Config struct {
	Enabled     bool
	MetricsAddr string
	LogInterval time.Duration
	Window      time.Duration
	TopN        int
}

var (
	modEnabled atomic.Bool

	// Prometheus metrics. The type label is bounded by the closed command
	// type set, so cardinality stays fixed.
	commandsExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmdhist_commands_executed_total",
		Help: "Total commands executed successfully, by command type",
	}, []string{"type"})
	commandFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmdhist_command_failures_total",
		Help: "Total command executions that returned an error",
	})
	undoTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmdhist_undo_total",
		Help: "Total successful undo operations, selective undo included",
	})
	redoTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmdhist_redo_total",
		Help: "Total successful redo operations",
	})
	reversalFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmdhist_reversal_failures_total",
		Help: "Total undo/redo attempts that failed, by direction",
	}, []string{"direction"})
	selectiveUndoTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmdhist_selective_undo_total",
		Help: "Total successful selective undo operations",
	})
	executeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmdhist_execute_duration_seconds",
		Help:    "Distribution of command execution latency",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
	historyEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cmdhist_history_entries",
		Help: "Number of entries currently held in the history ledger",
	})
	undoAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cmdhist_undo_available",
		Help: "Number of entries currently reachable by Undo",
	})
	redoAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cmdhist_redo_available",
		Help: "Number of entries currently reachable by Redo",
	})
)

func init() {
	// Register metrics eagerly. If no Prometheus endpoint is exposed, the registration is harmless.
	prometheus.MustRegister(commandsExecutedTotal, commandFailuresTotal, undoTotal, redoTotal,
		reversalFailuresTotal, selectiveUndoTotal, executeDuration,
		historyEntries, undoAvailable, redoAvailable)
}

// Enable configures the module. Safe to call multiple times; subsequent calls replace config.
func Enable(cfg Config) {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	modEnabled.Store(cfg.Enabled)

	startOrUpdateExporter(cfg)

	if cfg.MetricsAddr != "" {
		StartMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether the telemetry module is active.
func Enabled() bool { return modEnabled.Load() }

// Observe subscribes metric handlers to the engine's event bus and returns a
// detach function. The handlers are no-ops while the module is disabled.
func Observe(e *cmdhist.Engine) func() {
	type sub struct {
		t  cmdhist.EventType
		id cmdhist.Subscription
	}
	var subs []sub
	on := func(t cmdhist.EventType, h cmdhist.Handler) {
		subs = append(subs, sub{t: t, id: e.On(t, h)})
	}

	on(cmdhist.EventCommandExecuted, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		commandsExecutedTotal.WithLabelValues(string(ev.CommandType)).Inc()
		executeDuration.Observe(ev.Duration.Seconds())
		recordExecution(ev.AffectedAnnotations)
	})
	on(cmdhist.EventCommandFailed, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		commandFailuresTotal.Inc()
		recordFailure()
	})
	on(cmdhist.EventCommandUndone, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		undoTotal.Inc()
		recordUndo()
	})
	on(cmdhist.EventCommandRedone, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		redoTotal.Inc()
		recordRedo()
	})
	on(cmdhist.EventUndoFailed, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		reversalFailuresTotal.WithLabelValues("undo").Inc()
	})
	on(cmdhist.EventRedoFailed, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		reversalFailuresTotal.WithLabelValues("redo").Inc()
	})
	on(cmdhist.EventSelectiveUndo, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		undoTotal.Inc()
		selectiveUndoTotal.Inc()
		recordUndo()
	})
	on(cmdhist.EventHistoryChanged, func(ev cmdhist.Event) {
		if !modEnabled.Load() {
			return
		}
		undoAvailable.Set(float64(ev.UndoCount))
		redoAvailable.Set(float64(ev.RedoCount))
		historyEntries.Set(float64(ev.UndoCount + ev.RedoCount))
	})

	return func() {
		for _, s := range subs {
			e.Off(s.t, s.id)
		}
	}
}

// RegisterDroppedRecords exposes a monotonically increasing drop count (such
// as the feed dispatcher's) as cmdhist_events_dropped_total. Call at most
// once per process; the collector reads fn lazily on scrape.
func RegisterDroppedRecords(fn func() int64) prometheus.Collector {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cmdhist_events_dropped_total",
		Help: "Total history event records dropped before reaching a sink",
	}, func() float64 { return float64(fn()) })
	prometheus.MustRegister(c)
	return c
}

// StartMetricsEndpoint exposes /metrics on the given addr in a background
// goroutine and returns the server so callers can shut it down. Safe to call
// multiple times with distinct addrs.
func StartMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
