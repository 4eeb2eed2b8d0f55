package routes

import (
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/chatserver/internal/auth"
	"github.com/yourorg/chatserver/internal/handlers"
	"github.com/yourorg/chatserver/internal/metrics"
	"github.com/yourorg/chatserver/internal/middleware"
	"github.com/yourorg/chatserver/internal/ws"
)

// Deps carries everything the route table needs.
type Deps struct {
	Auth    *handlers.AuthHandler
	Chat    *handlers.ChatHandler
	Gateway *ws.Gateway
	Tokens  *auth.TokenManager
	Redis   *redis.Client
	Prefix  string
}

// Register mounts every route on app.
func Register(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api/v1", middleware.RateLimit(d.Redis, d.Prefix, 300, time.Minute))

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", d.Auth.Signup)
	authGroup.Post("/login", d.Auth.Login)
	authGroup.Get("/profile", middleware.RequireAuth(d.Tokens), d.Auth.Profile)
	authGroup.Post("/logout", middleware.RequireAuth(d.Tokens), d.Auth.Logout)

	chatGroup := api.Group("/chat", middleware.RequireAuth(d.Tokens))
	chatGroup.Get("/users/search", d.Chat.SearchUsers)

	chatGroup.Post("/messages", d.Chat.SendMessage)
	chatGroup.Post("/messages/read", d.Chat.MarkRead)
	chatGroup.Delete("/messages", d.Chat.DeleteMessages)

	// static conversation routes go before the :id parameter routes
	chatGroup.Get("/conversations", d.Chat.ListConversations)
	chatGroup.Post("/conversations/direct", d.Chat.CreateDirect)
	chatGroup.Post("/conversations/group", d.Chat.CreateGroup)
	chatGroup.Patch("/conversations/group", d.Chat.UpdateGroup)
	chatGroup.Post("/conversations/participants", d.Chat.AddParticipants)
	chatGroup.Delete("/conversations/participants", d.Chat.RemoveParticipants)
	chatGroup.Get("/conversations/:id", d.Chat.ConversationDetails)
	chatGroup.Delete("/conversations/:id", d.Chat.DeleteConversation)
	chatGroup.Get("/conversations/:id/messages", d.Chat.ListMessages)
	chatGroup.Delete("/conversations/:id/clear", d.Chat.ClearChat)

	app.Use("/ws", d.Gateway.Upgrade)
	app.Get("/ws", d.Gateway.Handler())
}
