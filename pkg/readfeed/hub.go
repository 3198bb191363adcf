// Package readfeed publishes finished reads over websocket and consumes them
// on the collector side.
package readfeed

import (
	"net/http"
	"sync"

	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Hub fans read events out to all connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex

	latestMu sync.RWMutex
	latest   *types.ReadEvent
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, the feed is read-only
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeWS upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.addClient(conn)

	// Send latest read immediately if available
	if ev := h.Latest(); ev != nil {
		h.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, ev.ToJsonBytes())
		h.writeMu.Unlock()
		if err != nil {
			h.removeClient(conn)
			return
		}
	}

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.removeClient(conn)
			return
		}
	}
}

// Broadcast stores ev as the latest read and sends it to every client.
func (h *Hub) Broadcast(ev *types.ReadEvent) {
	h.latestMu.Lock()
	h.latest = ev
	h.latestMu.Unlock()

	payload := ev.ToJsonBytes()

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debugf("dropping websocket client: %v", err)
			h.removeClient(client)
		}
	}
}

func (h *Hub) Latest() *types.ReadEvent {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	conn.Close()
}
