package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Subscription ties a WebSocket connection to a topic. Topics are order
// numbers or checkout request ids.
type Subscription struct {
	Topic string
	Conn  *websocket.Conn
}

// Message is a payload addressed to every subscriber of a topic.
type Message struct {
	Topic string
	Data  []byte
}

// Hub manages WebSocket subscribers per topic and pushes messages to them.
// Delivery is best-effort: a failed write drops the connection.
type Hub struct {
	topics     map[string]map[*websocket.Conn]struct{}
	Register   chan Subscription
	Unregister chan Subscription
	Publish    chan Message
	mu         sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*websocket.Conn]struct{}),
		Register:   make(chan Subscription),
		Unregister: make(chan Subscription),
		Publish:    make(chan Message),
	}
}

// Broadcast queues a message for every subscriber of the topic.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.Publish <- Message{Topic: topic, Data: data}
}

// Run processes register/unregister/publish events.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.Register:
			h.mu.Lock()
			conns, ok := h.topics[sub.Topic]
			if !ok {
				conns = make(map[*websocket.Conn]struct{})
				h.topics[sub.Topic] = conns
			}
			conns[sub.Conn] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.Unregister:
			h.mu.Lock()
			h.drop(sub.Topic, sub.Conn)
			h.mu.Unlock()
			sub.Conn.Close()
		case msg := <-h.Publish:
			h.mu.Lock()
			for conn := range h.topics[msg.Topic] {
				if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
					conn.Close()
					h.drop(msg.Topic, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(topic string, conn *websocket.Conn) {
	conns, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.topics, topic)
	}
}
