package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/auth"
	"github.com/yourorg/chatserver/internal/chat"
	"github.com/yourorg/chatserver/internal/models"
)

// ChatService is the slice of the chat service the gateway relays into.
type ChatService interface {
	List(ctx context.Context, uid string) ([]*models.ConversationResponse, error)
	ListPage(ctx context.Context, uid, conversationID string, page, limit int) ([]*models.MessageResponse, error)
	SendMessage(ctx context.Context, uid string, in chat.SendMessageInput) (*models.MessageResponse, error)
	MarkRead(ctx context.Context, uid, conversationID, messageID string)
	DeleteMessages(ctx context.Context, uid, conversationID string, messageIDs []string) (*chat.DeleteMessagesResult, error)
}

// Gateway authenticates websocket upgrades and drives the event
// protocol for each connection.
type Gateway struct {
	svc        ChatService
	tokens     *auth.TokenManager
	hub        *Hub
	log        *zap.SugaredLogger
	sendBuffer int
	ratePerSec float64
}

func NewGateway(svc ChatService, tokens *auth.TokenManager, hub *Hub, log *zap.SugaredLogger, sendBuffer int, ratePerSec float64) *Gateway {
	return &Gateway{
		svc:        svc,
		tokens:     tokens,
		hub:        hub,
		log:        log,
		sendBuffer: sendBuffer,
		ratePerSec: ratePerSec,
	}
}

// Upgrade gates /ws requests so only websocket upgrades reach the
// connection handler.
func (g *Gateway) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler returns the fiber handler running the connection lifecycle.
func (g *Gateway) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		g.serve(conn)
	})
}

func (g *Gateway) serve(conn *websocket.Conn) {
	token := conn.Query("token")
	if token == "" {
		if h := conn.Headers("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			token = h[7:]
		}
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		_ = conn.WriteJSON(outFrame{Event: "error", Data: map[string]any{"message": "unauthorized"}})
		_ = conn.Close()
		return
	}

	c := newClient(conn, g.hub, claims.Subject, claims.Email, g.sendBuffer, g.ratePerSec)
	g.hub.Register(c)
	defer func() {
		g.hub.Unregister(c)
		c.close()
	}()

	go c.writePump()

	// subscribe to every conversation the user belongs to at connect
	// time; conversations created later are joined explicitly
	ctx := context.Background()
	convs, err := g.svc.List(ctx, c.UserID)
	if err != nil {
		g.log.Warnw("initial room join failed", "user", c.UserID, "error", err)
	} else {
		for _, conv := range convs {
			g.hub.Join(c, conv.ID)
		}
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			g.sendError(c, "", "rate limit exceeded")
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		g.hub.RefreshPresence(c.UserID)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(c, "", "malformed event")
			continue
		}
		g.dispatch(ctx, c, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, env Envelope) {
	switch env.Event {
	case "message:send":
		g.onSend(ctx, c, env)
	case "conversation:join":
		g.onJoin(ctx, c, env)
	case "conversation:leave":
		g.onLeave(c, env)
	case "typing:start:client":
		g.onTyping(ctx, c, env, "typing:start:server")
	case "typing:stop:client":
		g.onTyping(ctx, c, env, "typing:stop:server")
	case "message:read:client":
		g.onRead(ctx, c, env)
	case "message:delete":
		g.onDelete(ctx, c, env)
	case "online:users:request":
		g.onOnlineUsers(c, env)
	default:
		g.sendError(c, env.ID, "unknown event: "+env.Event)
	}
}

func (g *Gateway) onSend(ctx context.Context, c *Client, env Envelope) {
	var in struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
		Type           string `json:"type"`
		ReplyTo        string `json:"replyTo"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		g.sendError(c, env.ID, "malformed payload")
		return
	}
	msg, err := g.svc.SendMessage(ctx, c.UserID, chat.SendMessageInput{
		ConversationID: in.ConversationID,
		Content:        in.Content,
		Type:           in.Type,
		ReplyTo:        in.ReplyTo,
	})
	if err != nil {
		g.fail(c, env.ID, err)
		return
	}
	g.hub.EmitToConversation(in.ConversationID, "message:new", msg)
	g.ack(c, env.ID, map[string]any{"success": true, "message": msg})
}

func (g *Gateway) onJoin(ctx context.Context, c *Client, env Envelope) {
	var in struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		g.sendError(c, env.ID, "malformed payload")
		return
	}
	// membership probe before subscribing to the room
	if _, err := g.svc.ListPage(ctx, c.UserID, in.ConversationID, 1, 1); err != nil {
		g.fail(c, env.ID, err)
		return
	}
	g.hub.Join(c, in.ConversationID)
	g.ack(c, env.ID, map[string]any{"success": true})
}

func (g *Gateway) onLeave(c *Client, env Envelope) {
	var in struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		g.sendError(c, env.ID, "malformed payload")
		return
	}
	g.hub.Leave(c, in.ConversationID)
	g.ack(c, env.ID, map[string]any{"success": true})
}

func (g *Gateway) onTyping(ctx context.Context, c *Client, env Envelope, event string) {
	var in struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		return
	}
	g.hub.EmitToConversationExcept(in.ConversationID, c, event, map[string]any{
		"userId":         c.UserID,
		"userEmail":      c.Email,
		"conversationId": in.ConversationID,
	})
}

func (g *Gateway) onRead(ctx context.Context, c *Client, env Envelope) {
	var in struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		return
	}
	g.svc.MarkRead(ctx, c.UserID, in.ConversationID, in.MessageID)
	g.hub.EmitToConversationExcept(in.ConversationID, c, "message:read:server", map[string]any{
		"messageId": in.MessageID,
		"userId":    c.UserID,
		"readAt":    time.Now().UTC(),
	})
}

func (g *Gateway) onDelete(ctx context.Context, c *Client, env Envelope) {
	var in struct {
		ConversationID string   `json:"conversationId"`
		MessageIDs     []string `json:"messageIds"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		g.sendError(c, env.ID, "malformed payload")
		return
	}
	res, err := g.svc.DeleteMessages(ctx, c.UserID, in.ConversationID, in.MessageIDs)
	if err != nil {
		g.fail(c, env.ID, err)
		return
	}
	// the service broadcasts message:deleted to the room itself
	g.ack(c, env.ID, map[string]any{
		"success":      true,
		"deletedCount": res.DeletedCount,
		"skippedCount": res.SkippedCount,
	})
}

func (g *Gateway) onOnlineUsers(c *Client, env Envelope) {
	data, err := encodeFrame("online:users:list", map[string]any{
		"userIds": g.hub.OnlineUserIDs(),
	})
	if err != nil {
		return
	}
	g.hub.send(c, data)
}

func (g *Gateway) ack(c *Client, id string, payload map[string]any) {
	if id == "" {
		return
	}
	payload["id"] = id
	data, err := encodeFrame("ack", payload)
	if err != nil {
		return
	}
	g.hub.send(c, data)
}

func (g *Gateway) fail(c *Client, id string, err error) {
	msg := apperr.Message(err)
	if !apperr.IsDomain(err) {
		g.log.Errorw("gateway operation failed", "user", c.UserID, "error", err)
	}
	g.sendError(c, id, msg)
}

func (g *Gateway) sendError(c *Client, id string, msg string) {
	data, err := encodeFrame("error", map[string]any{"message": msg})
	if err == nil {
		g.hub.send(c, data)
	}
	if id != "" {
		g.ack(c, id, map[string]any{"success": false, "error": msg})
	}
}
