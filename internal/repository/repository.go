// Package repository owns access to the Mongo collections backing the
// chat domain: users, conversations and messages. Services depend on
// the interfaces here so tests can swap in in-memory fakes.
package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/chatserver/internal/models"
)

type UserRepository interface {
	Insert(ctx context.Context, u *models.User) (primitive.ObjectID, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmails(ctx context.Context, emails []string) ([]*models.User, error)
	UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
	Search(ctx context.Context, query string, exclude primitive.ObjectID, limit int64) ([]*models.User, error)
}

type ConversationRepository interface {
	Insert(ctx context.Context, c *models.Conversation) (primitive.ObjectID, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error)
	// FindDirectBetween returns the direct conversation whose participant
	// set is exactly {a, b}, or (nil, nil) when none exists.
	FindDirectBetween(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error)
	ListForUser(ctx context.Context, uid primitive.ObjectID) ([]*models.Conversation, error)
	UpdateParticipants(ctx context.Context, id primitive.ObjectID, participants []primitive.ObjectID, at time.Time) error
	UpdateAdmin(ctx context.Context, id, newAdmin primitive.ObjectID, at time.Time) error
	UpdateDetails(ctx context.Context, id primitive.ObjectID, name, description *string, at time.Time) error
	SetLastMessage(ctx context.Context, id primitive.ObjectID, msgID *primitive.ObjectID, at time.Time) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type MessageRepository interface {
	Insert(ctx context.Context, m *models.Message) (primitive.ObjectID, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error)
	// FindPage returns messages newest-first.
	FindPage(ctx context.Context, convID primitive.ObjectID, skip, limit int64) ([]*models.Message, error)
	// FindByIDs returns the subset of ids that exist within convID.
	FindByIDs(ctx context.Context, convID primitive.ObjectID, ids []primitive.ObjectID) ([]*models.Message, error)
	// FindLatest returns the newest message of the conversation, or
	// (nil, nil) when the conversation has none.
	FindLatest(ctx context.Context, convID primitive.ObjectID) (*models.Message, error)
	// AddReadReceipt appends a receipt unless uid already has one.
	AddReadReceipt(ctx context.Context, msgID, uid primitive.ObjectID, at time.Time) error
	DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error)
	DeleteByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error)
	CountByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error)
}
