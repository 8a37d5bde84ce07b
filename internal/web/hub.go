package web

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/mqtt"
)

// Hub fans button reports out to websocket clients. Broadcast never blocks:
// a client whose queue is full misses the frame.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	queue   int
	closed  bool
}

// NewHub creates a Hub that queues up to queue frames per client.
func NewHub(queue int) *Hub {
	if queue < 1 {
		queue = 1
	}
	return &Hub{clients: make(map[chan []byte]struct{}), queue: queue}
}

// Broadcast sends report to every connected client.
func (h *Hub) Broadcast(report button.Report) {
	frame, err := mqtt.FormatPayload(report)
	if err != nil {
		log.WithError(err).Warn("ws: format report")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			log.WithField("channel", report.Channel).Debug("ws: client queue full, frame dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// subscribe returns a frame queue, or nil once the hub is closed.
func (h *Hub) subscribe() chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan []byte, h.queue)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}
