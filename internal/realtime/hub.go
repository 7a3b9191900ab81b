package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// PresenceHandler is called when the participant count of a session room changes.
type PresenceHandler func(sessionID string, count int)

// RedisPublisher publishes session room events for cross-instance broadcast.
type RedisPublisher interface {
	PublishSessionEvent(sessionID string, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of peers and fans out room messages.
// With Redis configured, messages are published and the subscription performs the local broadcast,
// so every instance (including this one) delivers each message once.
type Hub struct {
	rooms      map[string]map[string]*Peer
	subs       map[string]func()
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	onPresence PresenceHandler
}

// NewHub creates a new websocket hub. pub and sub may be nil for single-instance deployments.
func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Peer),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    pub,
		redisSub: sub,
	}
}

// SetPresenceHandler sets the callback for participant count changes.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Register adds a peer to its session room. Starts the Redis subscription for the room if first peer.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	if h.rooms[p.SessionID] == nil {
		h.rooms[p.SessionID] = make(map[string]*Peer)
		if h.redisSub != nil {
			sessionID := p.SessionID
			cancel, err := h.redisSub.SubscribeSession(sessionID, func(event string, payload []byte) {
				h.Broadcast(sessionID, Message{Event: event, Data: payload})
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
			} else {
				h.subs[sessionID] = cancel
			}
		}
	}
	h.rooms[p.SessionID][p.ID] = p
	count := len(h.rooms[p.SessionID])
	onPresence := h.onPresence
	h.mu.Unlock()

	if onPresence != nil {
		onPresence(p.SessionID, count)
	}
	h.logger.Debug("peer joined session", zap.String("peer_id", p.ID), zap.String("session_id", p.SessionID))
}

// Unregister removes a peer from its room. Cancels the Redis subscription when the last peer leaves.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	count := 0
	var cancel func()
	if m, ok := h.rooms[p.SessionID]; ok {
		delete(m, p.ID)
		count = len(m)
		if count == 0 {
			delete(h.rooms, p.SessionID)
			cancel = h.subs[p.SessionID]
			delete(h.subs, p.SessionID)
		}
	}
	onPresence := h.onPresence
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.closeSend()
	if onPresence != nil {
		onPresence(p.SessionID, count)
	}
	h.logger.Debug("peer left session", zap.String("peer_id", p.ID), zap.String("session_id", p.SessionID))
}

// Broadcast delivers a message to every local peer of the session.
func (h *Hub) Broadcast(sessionID string, msg Message) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.rooms[sessionID]))
	for _, p := range h.rooms[sessionID] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.enqueue(msg)
	}
}

// Publish routes a message through Redis when configured, otherwise broadcasts locally.
func (h *Hub) Publish(sessionID string, msg Message) {
	if h.redis != nil {
		if err := h.redis.PublishSessionEvent(sessionID, msg.Event, msg.Data); err != nil {
			h.logger.Warn("redis publish failed, broadcasting locally", zap.String("session_id", sessionID), zap.Error(err))
			h.Broadcast(sessionID, msg)
		}
		return
	}
	h.Broadcast(sessionID, msg)
}

// ParticipantCount returns the number of peers connected to this instance for a session.
func (h *Hub) ParticipantCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// CloseRoom disconnects every local peer of the session.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.rooms[sessionID]))
	for _, p := range h.rooms[sessionID] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.closeSend()
	}
}
