package models

import "time"

// Response DTOs returned by both the REST surface and the gateway.
// Weak references (last message, reply-to) are populated one level.

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"isActive"`
	LastLogin time.Time `json:"lastLogin"`
}

type ReadReceiptResponse struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

type MessageResponse struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversationId"`
	Sender         *UserResponse         `json:"sender"` // nil for system messages
	Content        string                `json:"content"`
	Type           string                `json:"type"`
	CreatedAt      time.Time             `json:"createdAt"`
	Edited         bool                  `json:"edited"`
	EditedAt       *time.Time            `json:"editedAt,omitempty"`
	ReadBy         []ReadReceiptResponse `json:"readBy"`
	ReplyTo        *MessageResponse      `json:"replyTo,omitempty"`
}

type ConversationResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Participants []UserResponse   `json:"participants"`
	CreatedBy    string           `json:"createdBy"`
	LastMessage  *MessageResponse `json:"lastMessage,omitempty"`
	LastActivity time.Time        `json:"lastActivity"`
	Description  string           `json:"description,omitempty"`
	Avatar       string           `json:"avatar,omitempty"`
	IsAdmin      bool             `json:"isAdmin"`
}

// ConversationDetail adds the management flags used by the details view.
type ConversationDetail struct {
	ConversationResponse
	CanManage bool `json:"canManage"`
}

func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID.Hex(),
		Email:     u.Email,
		Username:  u.Username,
		IsActive:  u.IsActive,
		LastLogin: u.LastLogin,
	}
}
