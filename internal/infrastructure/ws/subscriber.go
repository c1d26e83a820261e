package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type clientMessage struct {
	Type    string    `json:"type"`
	MatchID uuid.UUID `json:"match_id,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// subscriber is one websocket connection with its match subscriptions and a
// bounded outbound queue. The write loop is the only goroutine writing to the
// connection.
type subscriber struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	matches map[uuid.UUID]struct{}
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		matches: make(map[uuid.UUID]struct{}),
	}
}

func (s *subscriber) subscribe(matchID uuid.UUID) {
	s.mu.Lock()
	s.matches[matchID] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriber) unsubscribe(matchID uuid.UUID) {
	s.mu.Lock()
	delete(s.matches, matchID)
	s.mu.Unlock()
}

func (s *subscriber) subscribedTo(matchID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.matches[matchID]
	return ok
}

// trySend queues data without blocking. A false return means the queue is
// full and the subscriber should be dropped.
func (s *subscriber) trySend(data []byte) bool {
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscriber) sendControl(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.trySend(data)
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendControl(serverMessage{Type: "error", Message: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.MatchID != uuid.Nil {
				s.subscribe(msg.MatchID)
			}
		case "unsubscribe":
			if msg.MatchID != uuid.Nil {
				s.unsubscribe(msg.MatchID)
			}
		case "ping":
			s.sendControl(serverMessage{Type: "pong"})
		default:
			s.sendControl(serverMessage{Type: "error", Message: "unknown message type"})
		}
	}
}
