// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	applog "locator/internal/log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	broadcastBuffer = 256
	writeWait       = time.Second
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// WebSocketTransport implements the Transport interface for WebSocket
// connections. Every payload sent is written as JSON to every client.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
	wg        sync.WaitGroup
}

// NewWebSocketTransport creates a WebSocketTransport serving "/ws" on addr.
// An empty addr starts no listener; mount the transport as an http.Handler
// instead.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, broadcastBuffer),
		done:      make(chan struct{}),
	}

	wst.start()
	return wst
}

// start begins the broadcast loop and, when an address is set, the HTTP server.
func (wst *WebSocketTransport) start() {
	if wst.addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", wst)
		wst.server = &http.Server{
			Addr:    wst.addr,
			Handler: mux,
		}

		go func() {
			applog.Infof("WebSocketTransport: Starting WebSocket server on %s", wst.addr)
			if err := wst.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				applog.Errorf("WebSocketTransport: Server error: %v", err)
			}
		}()
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
}

// ServeHTTP upgrades HTTP connections to WebSocket and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected, total: %d", total)

	// Clients only listen; the first read error means they left.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		wst.clientsMu.Lock()
		delete(wst.clients, conn)
		total := len(wst.clients)
		wst.clientsMu.Unlock()
		conn.Close()
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}()
}

// handleBroadcasts sends messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		case <-wst.done:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Send queues data for broadcast. When the queue is full the payload is
// dropped; slow clients never block the caller.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrTransportClosed
	default:
	}

	select {
	case wst.broadcast <- data:
	default:
		// Channel full, drop message
	}
	return nil
}

// Close disconnects every client and shuts down the server.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		close(wst.done)
		wst.wg.Wait()

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
