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

// Package ws fans history events out to websocket subscribers, letting a
// viewer frontend mirror undo/redo state live without polling.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cmdhist"
	"cmdhist/internal/annotator/feed"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second
	// sendBuffer is the per-client outbound queue; clients that fall this
	// far behind are dropped rather than allowed to stall the hub.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub serves the same-host viewer; cross-origin pages get no access.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected clients and serializes all membership and
// broadcast operations through its Run loop, so no map locking is needed.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	clients    map[*client]struct{}
	logger     *slog.Logger

	connected atomic.Int64
	dropped   atomic.Int64

	mu     sync.Mutex
	detach []func()
}

// NewHub constructs a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run processes membership and broadcasts until ctx is cancelled, then
// disconnects every client. Call exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case cl := <-h.register:
			h.clients[cl] = struct{}{}
			h.connected.Store(int64(len(h.clients)))
		case cl := <-h.unregister:
			if _, ok := h.clients[cl]; ok {
				delete(h.clients, cl)
				close(cl.send)
			}
			h.connected.Store(int64(len(h.clients)))
		case msg := <-h.broadcast:
			for cl := range h.clients {
				select {
				case cl.send <- msg:
				default:
					// Slow client: drop it instead of stalling the loop.
					delete(h.clients, cl)
					close(cl.send)
					h.dropped.Add(1)
				}
			}
			h.connected.Store(int64(len(h.clients)))
		case <-ctx.Done():
			h.mu.Lock()
			detach := h.detach
			h.detach = nil
			h.mu.Unlock()
			for _, off := range detach {
				off()
			}
			for cl := range h.clients {
				close(cl.send)
			}
			h.clients = make(map[*client]struct{})
			h.connected.Store(0)
			return
		}
	}
}

// Attach subscribes the hub to every engine event type; each event is
// broadcast to all clients as a feed record in JSON.
func (h *Hub) Attach(engine *cmdhist.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range cmdhist.EventTypes() {
		t := t
		sub := engine.On(t, func(ev cmdhist.Event) {
			b, err := json.Marshal(feed.NewRecord(ev))
			if err != nil {
				return
			}
			h.Broadcast(b)
		})
		h.detach = append(h.detach, func() { engine.Off(t, sub) })
	}
}

// Broadcast queues msg for delivery to every connected client. It never
// blocks the caller: when the hub is saturated or stopped the message is
// dropped.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int64 { return h.connected.Load() }

// ServeWS upgrades the request and attaches the connection to the hub.
// Inbound frames are read and discarded; the stream is one-way.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go cl.writeLoop()
	h.readLoop(cl)
}

func (h *Hub) readLoop(cl *client) {
	defer func() {
		select {
		case h.unregister <- cl:
		case <-h.done:
		}
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *client) writeLoop() {
	defer cl.conn.Close()
	for msg := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	// Channel closed by the hub: say goodbye properly.
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
