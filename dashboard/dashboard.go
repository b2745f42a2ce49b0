// Package dashboard exposes a debug surface for operators: a websocket
// feed of metric lifecycle events and JSON snapshots of the cache and its
// statistics. It is disabled by default and meant for troubleshooting
// extractor configs, not for production scraping.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Oorpe/prometheus-webhook-collector/engine"
)

const maxClients = 32

// Hub fans engine lifecycle events out to connected websocket clients.
type Hub struct {
	engine *engine.Engine
	logger *slog.Logger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool

	events chan engine.Event
}

// New creates a dashboard hub for the given engine.
func New(eng *engine.Engine, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine: eng,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The debug surface is same-host tooling; cross-origin pages
			// have no business connecting to it.
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == "" || r.Host != ""
			},
		},
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan engine.Event, 128),
	}
}

// Listener returns an engine listener feeding the hub. Events are dropped
// rather than blocking the engine when the feed is saturated.
func (h *Hub) Listener() engine.Listener {
	return func(event engine.Event) {
		select {
		case h.events <- event:
		default:
		}
	}
}

// Run broadcasts queued events until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// Register attaches the debug routes to the mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/ws", h.handleWS)
	mux.HandleFunc("/debug/cache", h.handleCache)
	mux.HandleFunc("/debug/stats", h.handleStats)
}

// handleWS upgrades the connection and registers the client.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := len(h.clients) >= maxClients
	h.mu.Unlock()
	if full {
		http.Error(w, "too many debug clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.logger.Debug("debug client connected", "remote", conn.RemoteAddr())

	// Reader loop exists only to observe the close handshake.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleCache returns a JSON snapshot of the metric table.
func (h *Hub) handleCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"size":    h.engine.Size(),
		"entries": h.engine.Snapshot(),
	})
}

// handleStats returns the cache statistics.
func (h *Hub) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.engine.Stats()
	writeJSON(w, map[string]interface{}{
		"hits":      stats.Hits(),
		"misses":    stats.Misses(),
		"sets":      stats.Sets(),
		"deletes":   stats.Deletes(),
		"evictions": stats.Evictions(),
		"size":      stats.CurrentSize(),
		"max_size":  stats.MaxSize(),
	})
}

// broadcast writes an event to all clients, dropping any that fail.
func (h *Hub) broadcast(event engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

// drop removes and closes one client.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// closeAll closes every client connection.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
