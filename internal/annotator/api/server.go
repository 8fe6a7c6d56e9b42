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

// Package api exposes the annotation document and its history over HTTP.
// Mutating routes go through the engine so every edit is undoable; rapid
// move/style edits are queued into the auto-batch instead of landing as
// individual history entries.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cmdhist"
	"cmdhist/internal/annotator"
	"cmdhist/internal/annotator/ws"
)

// Server handles the HTTP surface for one editing session. hub is optional;
// without it the /ws route is simply not registered.
type Server struct {
	store  *annotator.Store
	engine *cmdhist.Engine
	hub    *ws.Hub
	logger *slog.Logger
}

// NewServer wires the handlers to a store and engine pair.
func NewServer(store *annotator.Store, engine *cmdhist.Engine, hub *ws.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		engine: engine,
		hub:    hub,
		logger: logger.With(slog.String("component", "api")),
	}
}

// Router builds a gin engine with recovery and all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes sets up the HTTP routes on the given gin engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
	if s.hub != nil {
		r.GET("/ws", s.hub.ServeWS)
	}

	v1 := r.Group("/v1")

	ann := v1.Group("/annotations")
	ann.POST("", s.handleCreate)
	ann.GET("", s.handleList)
	ann.POST("/import", s.handleImport)
	ann.GET("/:id", s.handleGet)
	ann.PUT("/:id", s.handleUpdate)
	ann.DELETE("/:id", s.handleDelete)
	ann.PATCH("/:id/move", s.handleMove)
	ann.PATCH("/:id/style", s.handleStyle)
	ann.GET("/:id/snapshots", s.handleSnapshots)

	hist := v1.Group("/history")
	hist.GET("", s.handleHistoryInfo)
	hist.GET("/records", s.handleHistoryRecords)
	hist.GET("/stats", s.handleHistoryStats)
	hist.DELETE("", s.handleHistoryClear)
	hist.POST("/undo", s.handleUndo)
	hist.POST("/redo", s.handleRedo)
	hist.POST("/selective-undo", s.handleSelectiveUndo)
	hist.POST("/flush", s.handleFlush)
}

// ListenAndServe starts the HTTP server on the specified address with the
// usual production timeouts. For graceful shutdown, build your own
// http.Server around Router() instead.
func (s *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("annotation API listening", slog.String("addr", addr))
	return httpServer.ListenAndServe()
}

// ectxFrom pulls the editing context off the query string so every route can
// carry viewport and image attribution without a dedicated body field.
func ectxFrom(c *gin.Context) cmdhist.ExecutionContext {
	return cmdhist.ExecutionContext{
		ViewportID:        c.Query("viewportId"),
		ImageID:           c.Query("imageId"),
		SeriesInstanceUID: c.Query("seriesInstanceUID"),
	}
}

// execError maps engine failures onto HTTP statuses: batch shape violations
// are caller errors worth a 409, anything else is a plain 500.
func (s *Server) execError(c *gin.Context, err error) {
	if errors.Is(err, cmdhist.ErrEmptyBatch) || errors.Is(err, cmdhist.ErrBatchTooLarge) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("command failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "annotations": s.store.Len()}
	if s.hub != nil {
		resp["wsClients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreate(c *gin.Context) {
	var ann annotator.Annotation
	if err := c.ShouldBindJSON(&ann); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ann.ID == "" {
		ann.ID = uuid.NewString()
	}
	if _, exists := s.store.Get(ann.ID); exists {
		c.JSON(http.StatusConflict, gin.H{"error": "annotation already exists: " + ann.ID})
		return
	}
	cmd := annotator.Create(s.store, ann, ectxFrom(c))
	if err := s.engine.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.execError(c, err)
		return
	}
	created, _ := s.store.Get(ann.ID)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleList(c *gin.Context) {
	anns := s.store.List()
	c.JSON(http.StatusOK, gin.H{"annotations": anns, "count": len(anns)})
}

func (s *Server) handleGet(c *gin.Context) {
	ann, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found: " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, ann)
}

func (s *Server) handleUpdate(c *gin.Context) {
	id := c.Param("id")
	before, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found: " + id})
		return
	}
	var after annotator.Annotation
	if err := c.ShouldBindJSON(&after); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	after.ID = id
	cmd := annotator.Update(s.store, before, after, ectxFrom(c))
	if err := s.engine.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.execError(c, err)
		return
	}
	updated, _ := s.store.Get(id)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	ann, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found: " + id})
		return
	}
	cmd := annotator.Delete(s.store, ann, ectxFrom(c))
	if err := s.engine.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.execError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type moveRequest struct {
	Points []annotator.Point `json:"points"`
}

// handleMove queues the move into the auto-batch: a drag arrives as a burst
// of these, and the engine folds the burst into one undoable entry.
func (s *Server) handleMove(c *gin.Context) {
	id := c.Param("id")
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Points) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points are required"})
		return
	}
	current, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found: " + id})
		return
	}
	cmd, err := annotator.Move(s.store, id, current.Points, req.Points, ectxFrom(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.AddToBatch(c.Request.Context(), cmd); err != nil {
		s.execError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "commandId": cmd.ID()})
}

type styleRequest struct {
	Style map[string]string `json:"style"`
}

func (s *Server) handleStyle(c *gin.Context) {
	id := c.Param("id")
	var req styleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Style) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "style is required"})
		return
	}
	current, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found: " + id})
		return
	}
	cmd, err := annotator.Restyle(s.store, id, current.Style, req.Style, ectxFrom(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.AddToBatch(c.Request.Context(), cmd); err != nil {
		s.execError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "commandId": cmd.ID()})
}

type importRequest struct {
	Annotations []annotator.Annotation `json:"annotations"`
}

func (s *Server) handleImport(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var strategy cmdhist.BatchStrategy
	switch c.DefaultQuery("strategy", "sequential") {
	case "sequential":
		strategy = cmdhist.StrategySequential
	case "parallel":
		strategy = cmdhist.StrategyParallel
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy must be sequential or parallel"})
		return
	}
	for i := range req.Annotations {
		if req.Annotations[i].ID == "" {
			req.Annotations[i].ID = uuid.NewString()
		}
	}
	ectx := ectxFrom(c)
	cmds := annotator.ImportBatch(s.store, req.Annotations, ectx)
	desc := "Import " + strconv.Itoa(len(cmds)) + " annotations"
	if err := s.engine.ExecuteBatch(c.Request.Context(), cmds, desc, ectx, strategy); err != nil {
		s.execError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(cmds)})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	id := c.Param("id")
	snaps := s.engine.AnnotationSnapshots(id)
	c.JSON(http.StatusOK, gin.H{"annotationId": id, "snapshots": snaps, "count": len(snaps)})
}

func (s *Server) handleHistoryInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.HistoryInfo())
}

func (s *Server) handleHistoryRecords(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records := s.engine.CommandHistory(limit)
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) handleHistoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Statistics())
}

func (s *Server) handleHistoryClear(c *gin.Context) {
	s.engine.ClearHistory()
	c.Status(http.StatusNoContent)
}

type undoRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleUndo(c *gin.Context) {
	var req undoRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()
	if req.Count > 1 {
		n := s.engine.UndoMultiple(ctx, req.Count)
		c.JSON(http.StatusOK, gin.H{"ok": n > 0, "undone": n})
		return
	}
	ok := s.engine.Undo(ctx)
	n := 0
	if ok {
		n = 1
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "undone": n})
}

func (s *Server) handleRedo(c *gin.Context) {
	var req undoRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()
	if req.Count > 1 {
		n := s.engine.RedoMultiple(ctx, req.Count)
		c.JSON(http.StatusOK, gin.H{"ok": n > 0, "redone": n})
		return
	}
	ok := s.engine.Redo(ctx)
	n := 0
	if ok {
		n = 1
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "redone": n})
}

type selectiveUndoRequest struct {
	CommandID string `json:"commandId"`
}

func (s *Server) handleSelectiveUndo(c *gin.Context) {
	var req selectiveUndoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commandId is required"})
		return
	}
	ok := s.engine.SelectiveUndo(c.Request.Context(), req.CommandID)
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

// handleFlush forces the pending auto-batch out immediately, e.g. when the
// frontend knows a drag gesture ended.
func (s *Server) handleFlush(c *gin.Context) {
	if err := s.engine.FlushBatch(c.Request.Context()); err != nil {
		s.execError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true})
}
