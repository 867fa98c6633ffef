package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wasmkernel/pkg/logger"
)

// Hub fans a single outbound event stream out to every connected
// dashboard client. Unlike a per-client addon hub, there is no inbound
// protocol here: a client that connects only ever receives frames.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]chan Event
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan Event),
		log:   logger.Named("control.hub"),
	}
}

// ServeHTTP upgrades the connection and streams events to it until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	outbox := make(chan Event, 64)

	h.mu.Lock()
	h.conns[conn] = outbox
	h.mu.Unlock()

	go h.pingLoop(conn)
	h.writeLoop(conn, outbox)

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) writeLoop(conn *websocket.Conn, outbox chan Event) {
	for event := range outbox {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		outbox, ok := h.conns[conn]
		h.mu.Unlock()
		if !ok {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			h.mu.Lock()
			delete(h.conns, conn)
			close(outbox)
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast enqueues event for delivery to every connected client. A
// client whose outbox is full is dropped rather than allowed to block the
// others.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, outbox := range h.conns {
		select {
		case outbox <- event:
		default:
			h.log.Warn("dropping slow dashboard client")
			delete(h.conns, conn)
			close(outbox)
			conn.Close()
		}
	}
}

// BroadcastKernelMessage is a convenience wrapper for the most frequent
// event type.
func (h *Hub) BroadcastKernelMessage(from, to, topic string) {
	payload, _ := json.Marshal(KernelMessagePayload{From: from, To: to, Topic: topic})
	h.Broadcast(Event{Type: EventKernelMessage, Payload: payload})
}

// BroadcastLifecycle announces a plugin status transition.
func (h *Hub) BroadcastLifecycle(pluginID, status string) {
	payload, _ := json.Marshal(LifecyclePayload{PluginID: pluginID, Status: status})
	h.Broadcast(Event{Type: EventLifecycle, Payload: payload})
}

// BroadcastSystemStats announces a periodic kernel-wide counter snapshot.
func (h *Hub) BroadcastSystemStats(stats SystemStatsPayload) {
	payload, _ := json.Marshal(stats)
	h.Broadcast(Event{Type: EventSystemStats, Payload: payload})
}

// CloseAll disconnects every client, used during kernel shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, outbox := range h.conns {
		close(outbox)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(5*time.Second))
		conn.Close()
		delete(h.conns, conn)
	}
}
