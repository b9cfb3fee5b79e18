package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	logHistory    = 50
	clientBuffer  = 32
	writeDeadline = 5 * time.Second
)

// LogHub fans observer log lines out to websocket clients. New clients first
// receive the most recent lines.
type LogHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan string
	history []string
}

func NewLogHub() *LogHub {
	return &LogHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]chan string),
	}
}

// Run forwards lines from in until ctx is done or in is closed.
func (h *LogHub) Run(ctx context.Context, in <-chan string) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg, ok := <-in:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(msg)
		}
	}
}

func (h *LogHub) broadcast(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, msg)
	if len(h.history) > logHistory {
		h.history = h.history[len(h.history)-logHistory:]
	}
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// slow client, drop the line
		}
	}
}

func (h *LogHub) register(conn *websocket.Conn) chan string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan string, clientBuffer+logHistory)
	for _, msg := range h.history {
		ch <- msg
	}
	h.clients[conn] = ch
	return ch
}

func (h *LogHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}

func (h *LogHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
	}
}

// Clients returns the number of connected websocket clients.
func (h *LogHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LogHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("LogHub.ServeHTTP: upgrade failed", "error", err)
		return
	}
	ch := h.register(conn)

	go func() {
		defer conn.Close()
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				h.unregister(conn)
				for range ch {
				}
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(conn)
			return
		}
	}
}
