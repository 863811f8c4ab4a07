package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

const outboxSize = 4096

// Hub maintains session_id -> set of connections and fans events out to them.
// Uses Redis pub/sub for horizontal scaling: local delivery + publish to Redis.
type Hub struct {
	// sessionID -> map[clientID]*Client
	rooms    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	origin   string
	outbox   chan Envelope
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishSessionEvent(ctx context.Context, sessionID string, env Envelope) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(env Envelope)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Both Redis sides may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		origin:   uuid.New().String(),
		outbox:   make(chan Envelope, outboxSize),
	}
}

// Run publishes queued events to Redis in order until ctx is done. Broadcasts never wait on
// the network: they only enqueue here.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.outbox:
			if err := h.redis.PublishSessionEvent(ctx, env.SessionID, env); err != nil {
				h.logger.Warn("publish session event failed",
					zap.String("session_id", env.SessionID), zap.String("event", env.Event), zap.Error(err))
			}
		}
	}
}

// Register adds a client to a session room. The first client of a session starts its
// Redis subscription; the subscribe round-trip happens outside the hub lock.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.rooms[c.SessionID] == nil
	if first {
		h.rooms[c.SessionID] = make(map[string]*Client)
	}
	h.rooms[c.SessionID][c.ID] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))

	if first && h.redisSub != nil {
		h.subscribe(c.SessionID)
	}
}

func (h *Hub) subscribe(sessionID string) {
	cancel, err := h.redisSub.SubscribeSession(sessionID, func(env Envelope) {
		if env.Origin == h.origin {
			return
		}
		h.deliver(env, env.filter())
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	h.mu.Lock()
	_, open := h.rooms[sessionID]
	_, dup := h.subs[sessionID]
	if open && !dup {
		h.subs[sessionID] = cancel
		cancel = nil
	}
	h.mu.Unlock()
	// The room emptied meanwhile, or another registration already subscribed.
	if cancel != nil {
		cancel()
	}
}

// Unregister removes a client from a session room. Cancels Redis subscription when last client leaves.
// It reports whether the user still has another connection in the session.
func (h *Hub) Unregister(c *Client) (stillConnected bool) {
	h.mu.Lock()
	if m, ok := h.rooms[c.SessionID]; ok {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
			close(c.send)
			metrics.WSConnections.Dec()
		}
		for _, other := range m {
			if other.Requester.UserID == c.Requester.UserID {
				stillConnected = true
			}
		}
		if len(m) == 0 {
			delete(h.rooms, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
	return stillConnected
}

// Broadcast sends an event to every client in a session on every instance.
func (h *Hub) Broadcast(sessionID, event string, seq uint64, payload interface{}) {
	h.fanOut(Envelope{SessionID: sessionID, Event: event, Sequence: seq}, payload)
}

// BroadcastTo sends an event to the clients of a session allowed by audience.
func (h *Hub) BroadcastTo(sessionID, event string, seq uint64, payload interface{}, audience models.Audience) {
	a := audienceOf(audience)
	h.fanOut(Envelope{SessionID: sessionID, Event: event, Sequence: seq, Audience: &a}, payload)
}

// SendToUser sends an event to one user's connections in a session.
func (h *Hub) SendToUser(sessionID, userID, event string, seq uint64, payload interface{}) {
	h.fanOut(Envelope{SessionID: sessionID, Event: event, Sequence: seq, UserID: userID}, payload)
}

func (h *Hub) fanOut(env Envelope, payload interface{}) {
	data, err := marshal(payload)
	if err != nil {
		h.logger.Error("marshal event failed", zap.String("event", env.Event), zap.Error(err))
		return
	}
	env.Data = data
	env.Origin = h.origin
	h.deliver(env, env.filter())
	if h.redis == nil {
		return
	}
	select {
	case h.outbox <- env:
	default:
		metrics.WSMessagesDropped.WithLabelValues("publish_full").Inc()
	}
}

// deliver is non-blocking: a client whose buffer is full misses the event and recovers by
// gap-filling from the sequence.
func (h *Hub) deliver(env Envelope, allow func(*Client) bool) {
	msg := WSMessage{Event: env.Event, Data: env.Data, Sequence: env.Sequence}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[env.SessionID] {
		if allow != nil && !allow(c) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			metrics.WSMessagesDropped.WithLabelValues("buffer_full").Inc()
		}
	}
}

// sendToClient queues a reply to one connection.
func (h *Hub) sendToClient(c *Client, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[c.SessionID][c.ID]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		metrics.WSMessagesDropped.WithLabelValues("buffer_full").Inc()
	}
}

// ConnectionCount returns the number of connected clients in a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func marshal(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(payload)
}
