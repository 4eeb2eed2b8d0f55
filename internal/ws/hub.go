// Package ws is the realtime layer: a hub fanning events out to the
// connections subscribed to each conversation, presence tracking, and
// the per-connection session gateway relaying client actions into the
// chat service.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourorg/chatserver/internal/metrics"
)

const presenceTTL = 60 * time.Second

// Hub tracks connections per user and per conversation room. With a
// redis client it also replays every room broadcast through a pub/sub
// channel so additional processes sharing the redis instance deliver
// to their own connections.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // conversation id -> clients
	users map[string]map[*Client]struct{} // user id -> connections

	node   string // this process, to skip its own pub/sub echoes
	rdb    *redis.Client
	prefix string
	log    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// fanoutMsg crosses the redis backbone. An empty ConversationID means a
// global broadcast.
type fanoutMsg struct {
	Node           string          `json:"node"`
	ConversationID string          `json:"conversationId,omitempty"`
	Except         string          `json:"except,omitempty"` // connection id
	Frame          json.RawMessage `json:"frame"`
}

// NewHub creates the hub. rdb may be nil for a purely in-process hub
// (tests, single-node deployments without redis).
func NewHub(rdb *redis.Client, prefix string, log *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		users:  make(map[string]map[*Client]struct{}),
		node:   uuid.NewString(),
		rdb:    rdb,
		prefix: prefix,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if rdb != nil {
		go h.subscribe()
	}
	return h
}

func (h *Hub) fanoutChannel() string { return h.prefix + ":fanout" }

func (h *Hub) presenceKey(uid string) string { return h.prefix + ":presence:" + uid }

// Register adds a connection. The first connection of a user marks them
// online: presence key set and a global user:online broadcast.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := len(h.users[c.UserID]) == 0
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()

	if h.rdb != nil {
		if err := h.rdb.Set(h.ctx, h.presenceKey(c.UserID), "online", presenceTTL).Err(); err != nil {
			h.log.Warnw("presence set failed", "user", c.UserID, "error", err)
		}
	}
	if first {
		h.BroadcastAll("user:online", map[string]any{"userId": c.UserID, "email": c.Email})
	}
}

// Unregister removes a connection from the presence map and every room.
// The last connection of a user marks them offline.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := conns[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.UserID)
	}
	last := len(conns) == 0
	for room, roomConns := range h.rooms {
		delete(roomConns, c)
		if len(roomConns) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	metrics.ActiveConnections.Dec()

	if last {
		if h.rdb != nil {
			if err := h.rdb.Del(h.ctx, h.presenceKey(c.UserID)).Err(); err != nil {
				h.log.Warnw("presence delete failed", "user", c.UserID, "error", err)
			}
		}
		h.BroadcastAll("user:offline", map[string]any{"userId": c.UserID, "email": c.Email})
	}
}

// RefreshPresence extends the user's presence key; called on inbound
// traffic so idle-but-connected users stay online.
func (h *Hub) RefreshPresence(uid string) {
	if h.rdb == nil {
		return
	}
	_ = h.rdb.Set(h.ctx, h.presenceKey(uid), "online", presenceTTL).Err()
}

func (h *Hub) Join(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
}

func (h *Hub) Leave(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// EmitToConversation delivers an event to every connection in the
// conversation's room, here and on peer processes.
func (h *Hub) EmitToConversation(conversationID, event string, payload any) {
	h.emit(conversationID, nil, event, payload)
}

// EmitToConversationExcept is EmitToConversation minus the originating
// connection (typing indicators, read receipts).
func (h *Hub) EmitToConversationExcept(conversationID string, except *Client, event string, payload any) {
	h.emit(conversationID, except, event, payload)
}

func (h *Hub) emit(conversationID string, except *Client, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Errorw("frame encode failed", "event", event, "error", err)
		return
	}
	metrics.EventsBroadcast.WithLabelValues(event).Inc()

	exceptID := ""
	if except != nil {
		exceptID = except.ID
	}
	h.deliverRoom(conversationID, exceptID, data)
	h.publish(fanoutMsg{Node: h.node, ConversationID: conversationID, Except: exceptID, Frame: data})
}

// BroadcastAll sends an event to every connection on every process.
func (h *Hub) BroadcastAll(event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Errorw("frame encode failed", "event", event, "error", err)
		return
	}
	metrics.EventsBroadcast.WithLabelValues(event).Inc()

	h.deliverAll(data)
	h.publish(fanoutMsg{Node: h.node, Frame: data})
}

// OnlineUserIDs returns the users with at least one live connection on
// this process.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.users))
	for uid := range h.users {
		out = append(out, uid)
	}
	return out
}

func (h *Hub) deliverRoom(conversationID, exceptID string, data []byte) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		if exceptID != "" && c.ID == exceptID {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.send(c, data)
	}
}

func (h *Hub) deliverAll(data []byte) {
	h.mu.RLock()
	var conns []*Client
	for _, set := range h.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.send(c, data)
	}
}

func (h *Hub) send(c *Client, data []byte) {
	if c.trySend(data) {
		return
	}
	// slow consumer: drop the connection rather than block the hub
	h.log.Warnw("send buffer full, dropping connection", "user", c.UserID, "conn", c.ID)
	h.Unregister(c)
	c.close()
}

func (h *Hub) publish(msg fanoutMsg) {
	if h.rdb == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := h.rdb.Publish(h.ctx, h.fanoutChannel(), b).Err(); err != nil {
		h.log.Warnw("fanout publish failed", "error", err)
	}
}

// subscribe consumes the redis backbone and delivers frames published
// by peer processes to local connections.
func (h *Hub) subscribe() {
	pubsub := h.rdb.Subscribe(h.ctx, h.fanoutChannel())
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				h.log.Warn("fanout subscription closed")
				return
			}
			var fm fanoutMsg
			if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
				continue
			}
			if fm.Node == h.node {
				continue // already delivered locally
			}
			if fm.ConversationID == "" {
				h.deliverAll(fm.Frame)
			} else {
				h.deliverRoom(fm.ConversationID, fm.Except, fm.Frame)
			}
		}
	}
}

// Shutdown closes every connection and stops the backbone subscriber.
func (h *Hub) Shutdown() {
	h.cancel()
	h.mu.Lock()
	var conns []*Client
	for _, set := range h.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.users = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
