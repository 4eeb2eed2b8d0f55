package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation is a chat between two users (direct) or many (group).
// Participants is semantically a set; uniqueness is enforced by the
// directory service, not by storage. CreatedBy is the group admin until
// reassigned.
type Conversation struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name         string               `bson:"name" json:"name"`
	Participants []primitive.ObjectID `bson:"participants" json:"participants"`
	CreatedBy    primitive.ObjectID   `bson:"created_by" json:"createdBy"`
	Type         string               `bson:"type" json:"type"`
	LastMessage  *primitive.ObjectID  `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	LastActivity time.Time            `bson:"last_activity" json:"lastActivity"`
	Description  string               `bson:"description,omitempty" json:"description,omitempty"`
	Avatar       string               `bson:"avatar,omitempty" json:"avatar,omitempty"`
	CreatedAt    time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updated_at" json:"updatedAt"`
}

// HasParticipant reports whether id is in the participant set.
func (c *Conversation) HasParticipant(id primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}
