package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux for the gateway's HTTP surface.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	r.Handle("/metrics", g.metrics.Handler())

	// Node connections over WebSocket, for clients that cannot open a raw
	// TCP socket (browsers, restricted mobile runtimes).
	r.Get("/ws/node", g.handleNodeWebSocket)

	return r
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"serverName": g.config.ServerName,
			"nodeCount":  g.registry.Len(),
			"nodes":      g.registry.Snapshot(),
		})
	}
}

// handleNodeWebSocket upgrades the request and feeds the connection through
// the same handshake and read loop as raw TCP nodes.
func (g *Gateway) handleNodeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Nodes connect from app webviews and tailnets, not browsers with
		// meaningful origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(8 * 1024 * 1024)

	netConn := websocket.NetConn(r.Context(), conn, websocket.MessageText)
	g.HandleConn(r.Context(), netConn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
