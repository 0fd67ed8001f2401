// Package websocket pushes intake session events to browser clients. A
// client subscribes to topics and receives every event published on them.
package websocket

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is the envelope written to clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Typed payloads name their own event type. Others are sent as "event".
type Typed interface {
	EventType() string
}

// Client is one connection's outbound queue and subscriptions. The hub
// closes Send when the client is unregistered.
type Client struct {
	ID   string
	Send chan []byte

	topics map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer), topics: make(map[string]struct{})}
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
	clients     map[*Client]struct{}
	logger      zerolog.Logger
	now         func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		logger:      logger.With().Str("component", "websocket").Logger(),
		now:         time.Now,
	}
}

// Register adds c to the hub and subscribes it to topics.
func (h *Hub) Register(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.subscribe(c, topics)
}

// Unregister drops every subscription of c and closes c.Send. Calling it
// twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.unsubscribe(c, nil)
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.subscribe(c, topics)
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(topics) > 0 {
		h.unsubscribe(c, topics)
	}
}

func (h *Hub) subscribe(c *Client, topics []string) {
	for _, t := range topics {
		set := h.subscribers[t]
		if set == nil {
			set = make(map[*Client]struct{})
			h.subscribers[t] = set
		}
		set[c] = struct{}{}
		c.topics[t] = struct{}{}
	}
}

// unsubscribe removes c from topics, or from all of its topics when topics
// is nil.
func (h *Hub) unsubscribe(c *Client, topics []string) {
	if topics == nil {
		for t := range c.topics {
			topics = append(topics, t)
		}
	}
	for _, t := range topics {
		delete(c.topics, t)
		if set := h.subscribers[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscribers, t)
			}
		}
	}
}

// Topics returns the client's subscriptions in sorted order.
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// deliver queues msg on each client without blocking. A client whose
// buffer is full misses the message. Must be called with mu held.
func (h *Hub) deliver(clients map[*Client]struct{}, msg []byte, topic string) {
	for c := range clients {
		select {
		case c.Send <- msg:
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Broadcast sends event to the subscribers of topic.
func (h *Hub) Broadcast(topic string, event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.subscribers[topic], msg, topic)
}

// BroadcastAll sends event to every connected client regardless of topic.
func (h *Hub) BroadcastAll(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.clients, msg, "")
}

// Publish wraps payload in an Event and broadcasts it on topic.
func (h *Hub) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal payload")
		return
	}
	typ := "event"
	if t, ok := payload.(Typed); ok {
		typ = t.EventType()
	}
	h.Broadcast(topic, Event{Type: typ, Topic: topic, Timestamp: h.now(), Data: data})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
