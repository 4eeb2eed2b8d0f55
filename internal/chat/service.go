// Package chat implements the conversation directory and the message
// ledger: CRUD with participant authorization over conversations and
// their messages, plus the system messages narrating membership and
// metadata changes.
package chat

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
	"github.com/yourorg/chatserver/internal/repository"
)

// Broadcaster pushes an event to every live connection subscribed to a
// conversation. The realtime hub implements it; the service only needs
// it for mutations that must reach live clients from the REST path
// (message deletion). Wired after construction to break the
// service/hub cycle.
type Broadcaster interface {
	EmitToConversation(conversationID, event string, payload any)
}

type Service struct {
	users repository.UserRepository
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
	log   *zap.SugaredLogger

	broadcaster Broadcaster
}

func NewService(
	users repository.UserRepository,
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	log *zap.SugaredLogger,
) *Service {
	return &Service{users: users, convs: convs, msgs: msgs, log: log}
}

// SetBroadcaster binds the realtime fanout. Must be called during
// process wiring, before the server accepts traffic.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

func parseID(value, what string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, apperr.Newf(apperr.ErrBadRequest, "invalid %s ID", what)
	}
	return oid, nil
}

// requireParticipant validates both ids, loads the conversation and
// checks membership. Every directory and ledger operation funnels its
// authorization through here.
func (s *Service) requireParticipant(ctx context.Context, uid, conversationID string) (*models.Conversation, primitive.ObjectID, error) {
	uidOID, err := parseID(uid, "user")
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	convOID, err := parseID(conversationID, "conversation")
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	conv, err := s.convs.FindByID(ctx, convOID)
	if err != nil {
		if apperr.IsDomain(err) {
			return nil, primitive.NilObjectID, apperr.New(apperr.ErrNotFound, "conversation not found")
		}
		return nil, primitive.NilObjectID, s.internal(err, "conversation lookup failed")
	}
	if !conv.HasParticipant(uidOID) {
		return nil, primitive.NilObjectID, apperr.New(apperr.ErrForbidden, "you are not a participant in this conversation")
	}
	return conv, uidOID, nil
}

// systemMessage appends a server-generated message and advances the
// conversation's last-message reference. Failures are logged only;
// system messages are never critical to the triggering operation.
func (s *Service) systemMessage(ctx context.Context, convID primitive.ObjectID, content string) {
	now := time.Now().UTC()
	m := &models.Message{
		ConversationID: convID,
		Content:        content,
		Type:           models.MessageSystem,
		CreatedAt:      now,
	}
	id, err := s.msgs.Insert(ctx, m)
	if err != nil {
		s.log.Warnw("system message insert failed", "conversation", convID.Hex(), "error", err)
		return
	}
	if err := s.convs.SetLastMessage(ctx, convID, &id, now); err != nil {
		s.log.Warnw("system message last-message update failed", "conversation", convID.Hex(), "error", err)
	}
}

func (s *Service) internal(err error, msg string) error {
	s.log.Errorw(msg, "error", err)
	return apperr.ErrInternal
}
