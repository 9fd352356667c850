package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// ResponseHandler is called when a room member submits a new_response event.
// The submitter's company and role travel with the payload so the receiver
// can enforce company scope. Wired to the participation aggregator at startup.
type ResponseHandler func(sessionID, userID, companyID uuid.UUID, role string, payload json.RawMessage)

// ParticipationQueryHandler is called when a member requests a fresh
// participation snapshot; the handler broadcasts the result itself.
type ParticipationQueryHandler func(sessionID uuid.UUID)

// RedisPublisher publishes room events for cross-instance fan-out.
type RedisPublisher interface {
	PublishRoomEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a room channel and invokes handler for
// incoming events from other instances.
type RedisSubscriber interface {
	SubscribeRoom(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections and fans out room events.
// Membership is mutated only under the hub mutex; a member that disconnects
// between lookup and send is skipped, never retried.
type Hub struct {
	// sessionID -> map[clientID]*Client
	rooms map[uuid.UUID]map[string]*Client
	subs  map[uuid.UUID]func() // cancel Redis subscription per room
	mu    sync.RWMutex

	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber

	onResponse           ResponseHandler
	onParticipationQuery ParticipationQueryHandler
}

// NewHub creates a room broadcast hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetResponseHandler wires the callback invoked on inbound new_response events.
func (h *Hub) SetResponseHandler(fn ResponseHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResponse = fn
}

// SetParticipationQueryHandler wires the callback invoked on inbound
// update_participation events.
func (h *Hub) SetParticipationQueryHandler(fn ParticipationQueryHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onParticipationQuery = fn
}

// Join adds a client to a room. No-op if already a member. Starts the Redis
// subscription for the room when the first member joins. The subscribe round
// trip happens outside the hub mutex; a placeholder cancel reserves the slot
// so a concurrent join does not subscribe twice.
func (h *Hub) Join(c *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]*Client)
	}
	if _, already := h.rooms[sessionID][c.ID]; already {
		h.mu.Unlock()
		return
	}
	h.rooms[sessionID][c.ID] = c
	c.rooms[sessionID] = struct{}{}
	needSub := false
	if h.redisSub != nil {
		if _, subscribed := h.subs[sessionID]; !subscribed {
			h.subs[sessionID] = func() {}
			needSub = true
		}
	}
	h.mu.Unlock()

	if needSub {
		h.subscribeRoom(sessionID)
	}
	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("session_id", sessionID.String()))
}

// subscribeRoom establishes the cross-instance subscription for a room and
// swaps it in for the placeholder. If the room emptied while the subscribe
// was in flight, the fresh subscription is torn down again.
func (h *Hub) subscribeRoom(sessionID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeRoom(sessionID, func(event string, payload []byte) {
		h.Broadcast(sessionID, event, json.RawMessage(payload), "")
	})
	if err != nil {
		h.logger.Warn("room subscribe failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		h.mu.Lock()
		delete(h.subs, sessionID)
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	if _, open := h.rooms[sessionID]; !open {
		delete(h.subs, sessionID)
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[sessionID] = cancel
	h.mu.Unlock()
}

// Leave removes a client from a room. No-op if absent.
func (h *Hub) Leave(c *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	h.removeLocked(c, sessionID)
	h.mu.Unlock()
	h.logger.Debug("client left room",
		zap.String("client_id", c.ID),
		zap.String("session_id", sessionID.String()))
}

// Disconnect removes all memberships for a connection across all rooms.
// Disconnection is not itself a participation event: nothing is broadcast.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	for sessionID := range c.rooms {
		h.removeLocked(c, sessionID)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

// removeLocked deletes one membership and tears down the room when empty.
// Caller holds h.mu.
func (h *Hub) removeLocked(c *Client, sessionID uuid.UUID) {
	m, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(m, c.ID)
	delete(c.rooms, sessionID)
	if len(m) == 0 {
		delete(h.rooms, sessionID)
		if cancel, ok := h.subs[sessionID]; ok {
			cancel()
			delete(h.subs, sessionID)
		}
	}
}

// IsMember reports whether the client is currently in the room.
func (h *Hub) IsMember(c *Client, sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[sessionID][c.ID]
	return ok
}

// RoomCount returns the number of connected clients in a room.
func (h *Hub) RoomCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Broadcast sends an event to every current member of the room except the
// connection identified by excludeID (empty string excludes no one).
// Delivery is best-effort: a member with a full buffer is skipped.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}, excludeID string) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[sessionID]))
	for id, c := range h.rooms[sessionID] {
		if id == excludeID {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastAndPublish sends to local room members and publishes to Redis so
// other instances fan out too. Sender exclusion applies to the local
// originating connection only; remote instances never host it.
func (h *Hub) BroadcastAndPublish(sessionID uuid.UUID, event string, payload interface{}, excludeID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.Broadcast(sessionID, event, json.RawMessage(data), excludeID)
	if h.redis != nil {
		if err := h.redis.PublishRoomEvent(sessionID, event, data); err != nil {
			h.logger.Warn("redis publish failed", zap.Error(err), zap.String("event", event))
		}
	}
}

// CloseRoom force-evicts all members of a room with a session_closed event.
// Called when a session completes. Tolerates members that are already gone.
func (h *Hub) CloseRoom(sessionID uuid.UUID, reason string) {
	payload, _ := json.Marshal(SessionClosedPayload{SessionID: sessionID, Reason: reason})
	msg := WSMessage{Event: EventSessionClosed, Data: payload}

	h.mu.Lock()
	members := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	if cancel, ok := h.subs[sessionID]; ok {
		cancel()
		delete(h.subs, sessionID)
	}
	for _, c := range members {
		delete(c.rooms, sessionID)
	}
	h.mu.Unlock()

	for _, c := range members {
		select {
		case c.send <- msg:
		default:
		}
	}
	if h.redis != nil {
		_ = h.redis.PublishRoomEvent(sessionID, EventSessionClosed, payload)
	}
	h.logger.Info("room closed",
		zap.String("session_id", sessionID.String()),
		zap.Int("evicted", len(members)))
}

func (h *Hub) responseHandler() ResponseHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onResponse
}

func (h *Hub) participationQueryHandler() ParticipationQueryHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onParticipationQuery
}
