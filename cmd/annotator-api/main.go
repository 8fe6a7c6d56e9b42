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

// Package main runs the annotation editing demo service.
//
// This binary is the reference wiring of the cmdhist library: an in-memory
// annotation document whose every edit goes through the command history
// engine, so undo/redo, auto-batched drags, selective undo, and snapshots
// all work over plain HTTP. Around the engine it assembles the full
// supporting cast:
//  1. The HTTP API (create/update/delete/move/style/import + history routes).
//  2. A websocket hub mirroring every history event to connected viewers.
//  3. The feed dispatcher shipping history records to a configurable sink
//     (stdout, NDJSON file, Redis Stream, or Kafka).
//  4. Optional Prometheus metrics and a periodic console summary.
//  5. Graceful shutdown that flushes pending batches and drains the feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"cmdhist"
	"cmdhist/internal/annotator"
	"cmdhist/internal/annotator/api"
	"cmdhist/internal/annotator/feed"
	"cmdhist/internal/annotator/telemetry"
	"cmdhist/internal/annotator/ws"
)

// Config is the full knob set. Values come from defaults, then an optional
// annotator.yaml, then CMDHIST_* environment variables, then flags.
type Config struct {
	HTTPAddr string `mapstructure:"httpAddr"`

	History struct {
		MaxEntries       int           `mapstructure:"maxEntries"`
		MaxBatchSize     int           `mapstructure:"maxBatchSize"`
		AutoBatchTimeout time.Duration `mapstructure:"autoBatchTimeout"`
		SelectiveUndo    bool          `mapstructure:"selectiveUndo"`
	} `mapstructure:"history"`

	Feed struct {
		Sink          string        `mapstructure:"sink"`
		FilePath      string        `mapstructure:"filePath"`
		RedisAddr     string        `mapstructure:"redisAddr"`
		RedisStream   string        `mapstructure:"redisStream"`
		RedisMaxLen   int64         `mapstructure:"redisMaxLen"`
		KafkaBrokers  []string      `mapstructure:"kafkaBrokers"`
		KafkaTopic    string        `mapstructure:"kafkaTopic"`
		Buffer        int           `mapstructure:"buffer"`
		FlushSize     int           `mapstructure:"flushSize"`
		FlushInterval time.Duration `mapstructure:"flushInterval"`
	} `mapstructure:"feed"`

	Telemetry struct {
		Enabled     bool          `mapstructure:"enabled"`
		MetricsAddr string        `mapstructure:"metricsAddr"`
		LogInterval time.Duration `mapstructure:"logInterval"`
		Window      time.Duration `mapstructure:"window"`
		TopN        int           `mapstructure:"topN"`
	} `mapstructure:"telemetry"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func initConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("httpAddr", ":8080")
	v.SetDefault("history.maxEntries", cmdhist.DefaultMaxHistorySize)
	v.SetDefault("history.maxBatchSize", cmdhist.DefaultMaxBatchSize)
	v.SetDefault("history.autoBatchTimeout", cmdhist.DefaultAutoBatchTimeout)
	v.SetDefault("history.selectiveUndo", true)
	v.SetDefault("feed.sink", "logging")
	v.SetDefault("feed.redisStream", feed.DefaultRedisStream)
	v.SetDefault("feed.kafkaTopic", feed.DefaultKafkaTopic)
	v.SetDefault("feed.buffer", 1024)
	v.SetDefault("feed.flushSize", 64)
	v.SetDefault("feed.flushInterval", 250*time.Millisecond)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.logInterval", 15*time.Second)
	v.SetDefault("telemetry.window", time.Minute)
	v.SetDefault("telemetry.topN", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// CMDHIST_FEED_SINK=redis style overrides.
	v.SetEnvPrefix("CMDHIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Optional config file, from the working dir or ./config.
	v.SetConfigName("annotator")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	// --- What this is ---
	// An annotation editor backend where every edit is a reversible command.
	// Create, update, move, or restyle annotations over HTTP; the engine
	// keeps the ledger, so POST /v1/history/undo takes any of it back.
	// Rapid PATCH /move calls (a drag) coalesce into one undoable batch.
	//
	// How to try it quickly:
	//   go run ./cmd/annotator-api
	//   curl -XPOST localhost:8080/v1/annotations -d '{"id":"a1","kind":"length","points":[{"x":1,"y":2}]}'
	//   curl -XPOST localhost:8080/v1/history/undo
	//   curl localhost:8080/v1/history
	//
	// Watch the edits live: connect a websocket client to ws://localhost:8080/ws.
	// Ship the history elsewhere: CMDHIST_FEED_SINK=file CMDHIST_FEED_FILEPATH=history.ndjson,
	// or point feed.redisAddr / feed.kafkaBrokers at real infrastructure.

	// 1. Resolve configuration (defaults <- annotator.yaml <- env <- flags).
	httpAddr := flag.String("http_addr", "", "HTTP listen address; overrides config when set (e.g. :8080)")
	feedSink := flag.String("feed_sink", "", "history feed sink: logging, none, file, redis, kafka; overrides config when set")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address and enable telemetry")
	flag.Parse()

	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *feedSink != "" {
		cfg.Feed.Sink = *feedSink
	}
	if *metricsAddr != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// 2. The document and its history engine.
	store := annotator.NewStore()
	engine, err := cmdhist.New(cmdhist.Options{
		MaxHistorySize:      cfg.History.MaxEntries,
		MaxBatchSize:        cfg.History.MaxBatchSize,
		AutoBatchTimeout:    cfg.History.AutoBatchTimeout,
		EnableSelectiveUndo: cfg.History.SelectiveUndo,
		Logger:              logger,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	// 3. Telemetry (no-op unless enabled).
	telemetry.Enable(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		MetricsAddr: cfg.Telemetry.MetricsAddr,
		LogInterval: cfg.Telemetry.LogInterval,
		Window:      cfg.Telemetry.Window,
		TopN:        cfg.Telemetry.TopN,
	})
	detachMetrics := telemetry.Observe(engine)

	// 4. The history feed: engine events -> records -> sink.
	sink, err := feed.BuildSink(cfg.Feed.Sink, feed.SinkOptions{
		RedisAddr:    cfg.Feed.RedisAddr,
		RedisStream:  cfg.Feed.RedisStream,
		RedisMaxLen:  cfg.Feed.RedisMaxLen,
		KafkaBrokers: cfg.Feed.KafkaBrokers,
		KafkaTopic:   cfg.Feed.KafkaTopic,
		FilePath:     cfg.Feed.FilePath,
	})
	if err != nil {
		log.Fatalf("feed sink: %v", err)
	}
	dispatcher := feed.NewDispatcher(sink, feed.DispatcherOptions{
		Buffer:        cfg.Feed.Buffer,
		FlushSize:     cfg.Feed.FlushSize,
		FlushInterval: cfg.Feed.FlushInterval,
		Logger:        logger,
	})
	telemetry.RegisterDroppedRecords(func() int64 { return dispatcher.Stats().Dropped })
	dispatcher.Attach(engine)
	dispatcher.Start()

	// 5. The websocket hub for live viewers.
	hub := ws.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	hub.Attach(engine)

	// 6. The HTTP server, owned here so shutdown can be graceful.
	apiServer := api.NewServer(store, engine, hub, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("annotator API listening",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("feedSink", cfg.Feed.Sink))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("could not listen on %s: %v", cfg.HTTPAddr, err)
		}
	}()

	// 7. Wait for a signal, then unwind in dependency order.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down...")

	// Stop taking requests first.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}

	// Disconnect viewers, then flush the pending auto-batch. Closing the
	// engine emits final events, so the dispatcher must still be running.
	stopHub()
	if err := engine.Close(); err != nil {
		logger.Error("engine close", slog.Any("error", err))
	}
	dispatcher.Stop()
	detachMetrics()

	fmt.Println("Server gracefully stopped.")
}
