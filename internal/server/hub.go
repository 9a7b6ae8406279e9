// SPDX-License-Identifier: MIT
package server

import (
	"encoding/json"
	applog "locator/internal/log"
	"locator/internal/tdoa"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Message is the envelope for every frame on /ws.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub streams snapshots to WebSocket clients of the API server. It is a
// tdoa.Sink: hand it to the Runner.
type Hub struct {
	engine Engine

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // per-connection write lock
	closed  bool
}

func newHub(engine Engine) *Hub {
	return &Hub{
		engine:  engine,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Send broadcasts a snapshot as a "tdoa" message. Write errors drop
// nothing but the failing client, which is cleaned up when its read loop
// ends.
func (h *Hub) Send(data any) error {
	snap, ok := data.(*tdoa.Snapshot)
	if !ok {
		return nil
	}
	msg, err := json.Marshal(Message{Type: "tdoa", Data: snap})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, wmu := range h.clients {
		wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			applog.Debugf("Hub: Write error: %v", err)
		}
		wmu.Unlock()
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
	}
	clear(h.clients)
	return nil
}

// upgradeHandler rejects plain HTTP requests to /ws.
func (h *Hub) upgradeHandler() fiber.Handler {
	handler := websocket.New(h.handleConnection)
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return handler(c)
		}
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error": "WebSocket upgrade required",
		})
	}
}

func (h *Hub) handleConnection(c *websocket.Conn) {
	wmu := &sync.Mutex{}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[c] = wmu
	total := len(h.clients)
	h.mu.Unlock()
	applog.Infof("Hub: Client connected, total: %d", total)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		total := len(h.clients)
		h.mu.Unlock()
		applog.Infof("Hub: Client disconnected, total: %d", total)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		wmu.Lock()
		err = c.WriteJSON(h.handleCommand(msg))
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}

// handleCommand answers {"type": "ping" | "get_levels" | "get_tdoa"} and
// {"type": "set_sensitivity", "value": 1.2}.
func (h *Hub) handleCommand(raw []byte) Message {
	var cmd struct {
		Type  string   `json:"type"`
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Message{Type: "error", Data: "malformed command"}
	}

	switch cmd.Type {
	case "ping":
		return Message{Type: "pong", Data: time.Now().Unix()}
	case "get_tdoa":
		return Message{Type: "tdoa", Data: h.engine.Snapshot()}
	case "get_levels":
		return Message{Type: "levels", Data: h.engine.Levels()}
	case "set_sensitivity":
		if cmd.Value == nil {
			return Message{Type: "error", Data: "set_sensitivity needs a value"}
		}
		h.engine.SetSensitivity(*cmd.Value)
		return Message{Type: "sensitivity", Data: h.engine.Sensitivity()}
	default:
		return Message{Type: "error", Data: "unknown command " + cmd.Type}
	}
}
