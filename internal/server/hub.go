package server

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// wsClient is one connected websocket consumer of the /ws/frames push
// channel (SPEC_FULL.md §3 domain-stack wiring: a supplementary live-push
// channel alongside the spec-mandated get_frame long-poll).
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) readLoop(h *hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// hub fans every broadcast out to all connected clients, dropping a slow
// client's send buffer rather than blocking the publish path (spec.md §9:
// never block the pipeline on a slow consumer). Grounded on photonic's
// internal/web/server.go WebSocketHub, generalized from a single shared
// *websocket.Conn registry to per-client send channels so one disconnected
// or backed-up client can't stall writes to the others.
type hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	log        *slog.Logger
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}
