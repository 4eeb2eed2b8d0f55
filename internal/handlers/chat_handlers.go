package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/chatserver/internal/chat"
	"github.com/yourorg/chatserver/internal/middleware"
)

type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

func (h *ChatHandler) CreateDirect(c *fiber.Ctx) error {
	var req struct {
		ParticipantEmail string `json:"participantEmail"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.svc.CreateDirect(c.Context(), middleware.UserID(c), req.ParticipantEmail)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (h *ChatHandler) CreateGroup(c *fiber.Ctx) error {
	var req struct {
		Name              string   `json:"name"`
		ParticipantEmails []string `json:"participantEmails"`
		Description       string   `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.svc.CreateGroup(c.Context(), middleware.UserID(c), req.Name, req.ParticipantEmails, req.Description)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.svc.List(c.Context(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(convs)
}

func (h *ChatHandler) ConversationDetails(c *fiber.Ctx) error {
	detail, err := h.svc.Details(c.Context(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}

func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	msgs, err := h.svc.ListPage(c.Context(), middleware.UserID(c), c.Params("id"), page, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msgs)
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	var req chat.SendMessageInput
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	msg, err := h.svc.SendMessage(c.Context(), middleware.UserID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (h *ChatHandler) SearchUsers(c *fiber.Ctx) error {
	users, err := h.svc.SearchUsers(c.Context(), middleware.UserID(c), c.Query("query"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

func (h *ChatHandler) AddParticipants(c *fiber.Ctx) error {
	var req struct {
		ConversationID    string   `json:"conversationId"`
		ParticipantEmails []string `json:"participantEmails"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.svc.AddParticipants(c.Context(), middleware.UserID(c), req.ConversationID, req.ParticipantEmails)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

func (h *ChatHandler) RemoveParticipants(c *fiber.Ctx) error {
	var req struct {
		ConversationID string   `json:"conversationId"`
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.svc.RemoveParticipants(c.Context(), middleware.UserID(c), req.ConversationID, req.ParticipantIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

func (h *ChatHandler) UpdateGroup(c *fiber.Ctx) error {
	var req struct {
		ConversationID string  `json:"conversationId"`
		Name           *string `json:"name"`
		Description    *string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.svc.UpdateGroup(c.Context(), middleware.UserID(c), req.ConversationID, req.Name, req.Description)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	h.svc.MarkRead(c.Context(), middleware.UserID(c), req.ConversationID, req.MessageID)
	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) DeleteMessages(c *fiber.Ctx) error {
	var req struct {
		ConversationID string   `json:"conversationId"`
		MessageIDs     []string `json:"messageIds"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	res, err := h.svc.DeleteMessages(c.Context(), middleware.UserID(c), req.ConversationID, req.MessageIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *ChatHandler) ClearChat(c *fiber.Ctx) error {
	res, err := h.svc.ClearChat(c.Context(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	res, err := h.svc.DeleteConversation(c.Context(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
