package chat

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

// userCache collects the users referenced by a batch of documents so a
// page of messages costs one user query, not one per message.
type userCache map[primitive.ObjectID]models.UserResponse

func (s *Service) loadUsers(ctx context.Context, ids []primitive.ObjectID, cache userCache) error {
	var missing []primitive.ObjectID
	for _, id := range ids {
		if _, ok := cache[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	users, err := s.users.FindByIDs(ctx, missing)
	if err != nil {
		return err
	}
	for _, u := range users {
		cache[u.ID] = models.NewUserResponse(u)
	}
	return nil
}

// conversationResponse populates participants and the last message and
// annotates isAdmin relative to uid.
func (s *Service) conversationResponse(ctx context.Context, conv *models.Conversation, uid string) (*models.ConversationResponse, error) {
	cache := userCache{}
	if err := s.loadUsers(ctx, conv.Participants, cache); err != nil {
		return nil, s.internal(err, "participant lookup failed")
	}

	participants := make([]models.UserResponse, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		if u, ok := cache[id]; ok {
			participants = append(participants, u)
		}
	}

	var last *models.MessageResponse
	if conv.LastMessage != nil {
		m, err := s.msgs.FindByID(ctx, *conv.LastMessage)
		switch {
		case err == nil:
			last, err = s.messageResponse(ctx, m, false, cache)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, apperr.ErrNotFound):
			// stale reference, drop it
		default:
			return nil, s.internal(err, "last message lookup failed")
		}
	}

	return &models.ConversationResponse{
		ID:           conv.ID.Hex(),
		Name:         conv.Name,
		Type:         conv.Type,
		Participants: participants,
		CreatedBy:    conv.CreatedBy.Hex(),
		LastMessage:  last,
		LastActivity: conv.LastActivity,
		Description:  conv.Description,
		Avatar:       conv.Avatar,
		IsAdmin:      conv.Type == models.ConversationGroup && conv.CreatedBy.Hex() == uid,
	}, nil
}

// messageResponse populates the sender and, when withReply is set, the
// replied-to message one level deep.
func (s *Service) messageResponse(ctx context.Context, m *models.Message, withReply bool, cache userCache) (*models.MessageResponse, error) {
	resp := &models.MessageResponse{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID.Hex(),
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		Edited:         m.Edited,
		EditedAt:       m.EditedAt,
		ReadBy:         make([]models.ReadReceiptResponse, 0, len(m.ReadBy)),
	}
	for _, r := range m.ReadBy {
		resp.ReadBy = append(resp.ReadBy, models.ReadReceiptResponse{User: r.User.Hex(), ReadAt: r.ReadAt})
	}

	if m.Sender != nil {
		if err := s.loadUsers(ctx, []primitive.ObjectID{*m.Sender}, cache); err != nil {
			return nil, s.internal(err, "sender lookup failed")
		}
		if u, ok := cache[*m.Sender]; ok {
			resp.Sender = &u
		}
	}

	if withReply && m.ReplyTo != nil {
		parent, err := s.msgs.FindByID(ctx, *m.ReplyTo)
		switch {
		case err == nil:
			resp.ReplyTo, err = s.messageResponse(ctx, parent, false, cache)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, apperr.ErrNotFound):
			// replied-to message has been deleted
		default:
			return nil, s.internal(err, "reply lookup failed")
		}
	}
	return resp, nil
}

func (s *Service) messageResponses(ctx context.Context, msgs []*models.Message) ([]*models.MessageResponse, error) {
	cache := userCache{}
	var senders []primitive.ObjectID
	for _, m := range msgs {
		if m.Sender != nil {
			senders = append(senders, *m.Sender)
		}
	}
	if err := s.loadUsers(ctx, senders, cache); err != nil {
		return nil, s.internal(err, "sender lookup failed")
	}

	out := make([]*models.MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp, err := s.messageResponse(ctx, m, true, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}
