package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/domain/event"
)

const (
	// sendBuffer bounds each subscriber's delivery queue. A full queue drops
	// the subscriber rather than blocking the producer.
	sendBuffer     = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Hub fans committed transition events out to live websocket subscribers.
// Delivery is at-most-once; clients needing guaranteed history query the
// transition log.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Publish delivers evt to every subscriber of the match. It never blocks:
// subscribers whose queue is full are evicted.
func (h *Hub) Publish(matchID uuid.UUID, evt *event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode event")
		return
	}

	var stale []*subscriber
	h.mu.RLock()
	for _, sub := range h.subscribers {
		if !sub.subscribedTo(matchID) {
			continue
		}
		if !sub.trySend(data) {
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		h.drop(sub, "send buffer full")
	}
}

// SubscriberCount returns the number of live connections.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleUpgrade upgrades the request and serves the connection until the
// client disconnects.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := newSubscriber(conn)
	h.register(sub)
	h.logger.Debug().Str("subscriber", sub.id).Msg("subscriber connected")

	go sub.writeLoop()
	sub.readLoop()
	h.drop(sub, "connection closed")
}

// Stop drops every subscriber.
func (h *Hub) Stop() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
}

func (h *Hub) drop(sub *subscriber, reason string) {
	h.mu.Lock()
	_, present := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	h.mu.Unlock()

	sub.close()
	if present {
		h.logger.Debug().Str("subscriber", sub.id).Str("reason", reason).Msg("subscriber dropped")
	}
}
