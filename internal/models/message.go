package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
)

type ReadReceipt struct {
	User   primitive.ObjectID `bson:"user" json:"user"`
	ReadAt time.Time          `bson:"read_at" json:"readAt"`
}

// Message belongs to one conversation. A nil Sender marks a
// system-generated message.
type Message struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID  `bson:"conversation_id" json:"conversationId"`
	Sender         *primitive.ObjectID `bson:"sender,omitempty" json:"sender,omitempty"`
	Content        string              `bson:"content" json:"content"`
	Type           string              `bson:"type" json:"type"`
	ReadBy         []ReadReceipt       `bson:"read_by" json:"readBy"`
	Edited         bool                `bson:"edited" json:"edited"`
	EditedAt       *time.Time          `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	ReplyTo        *primitive.ObjectID `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"createdAt"`
}

// IsSystem reports whether the message was generated by the server.
func (m *Message) IsSystem() bool { return m.Sender == nil }
