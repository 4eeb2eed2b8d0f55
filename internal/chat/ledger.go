package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/metrics"
	"github.com/yourorg/chatserver/internal/models"
)

// SendMessageInput carries one outbound user message.
type SendMessageInput struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

// SendMessage persists a user message and advances the conversation's
// last-message reference.
func (s *Service) SendMessage(ctx context.Context, uid string, in SendMessageInput) (*models.MessageResponse, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.New(apperr.ErrBadRequest, "message content is required")
	}

	var replyTo *primitive.ObjectID
	if in.ReplyTo != "" {
		oid, err := parseID(in.ReplyTo, "reply message")
		if err != nil {
			return nil, err
		}
		replyTo = &oid
	}

	conv, uidOID, err := s.requireParticipant(ctx, uid, in.ConversationID)
	if err != nil {
		return nil, err
	}

	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}

	now := time.Now().UTC()
	m := &models.Message{
		ConversationID: conv.ID,
		Sender:         &uidOID,
		Content:        content,
		Type:           msgType,
		ReplyTo:        replyTo,
		CreatedAt:      now,
	}
	id, err := s.msgs.Insert(ctx, m)
	if err != nil {
		return nil, s.internal(err, "message insert failed")
	}
	if err := s.convs.SetLastMessage(ctx, conv.ID, &id, now); err != nil {
		return nil, s.internal(err, "last-message update failed")
	}

	metrics.MessagesSent.Inc()

	return s.messageResponse(ctx, m, true, userCache{})
}

// ListPage returns one page of the conversation's messages in ascending
// chronological order. Limit is clamped to [1,100].
func (s *Service) ListPage(ctx context.Context, uid, conversationID string, page, limit int) ([]*models.MessageResponse, error) {
	conv, _, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}

	// skip derives from the requested limit; only the fetch size is
	// clamped, so out-of-range limits still address the same windows
	skip := (page - 1) * limit
	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	msgs, err := s.msgs.FindPage(ctx, conv.ID, int64(skip), int64(limit))
	if err != nil {
		return nil, s.internal(err, "message page fetch failed")
	}
	// fetched newest-first; flip for display order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.messageResponses(ctx, msgs)
}

// MarkRead records a read receipt for uid on the message. Idempotent,
// and never surfaces failures: a broken read receipt must not break
// whatever the caller was doing.
func (s *Service) MarkRead(ctx context.Context, uid, conversationID, messageID string) {
	if err := s.markRead(ctx, uid, conversationID, messageID); err != nil {
		s.log.Warnw("read receipt failed",
			"user", uid, "conversation", conversationID, "message", messageID, "error", err)
	}
}

func (s *Service) markRead(ctx context.Context, uid, conversationID, messageID string) error {
	msgOID, err := parseID(messageID, "message")
	if err != nil {
		return err
	}
	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return err
	}
	m, err := s.msgs.FindByID(ctx, msgOID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.New(apperr.ErrNotFound, "message not found")
		}
		return err
	}
	if m.ConversationID != conv.ID {
		return apperr.New(apperr.ErrNotFound, "message not found")
	}
	return s.msgs.AddReadReceipt(ctx, msgOID, uidOID, time.Now().UTC())
}

// DeleteMessagesResult reports the deletable/skipped split.
type DeleteMessagesResult struct {
	DeletedCount int `json:"deletedCount"`
	SkippedCount int `json:"skippedCount"`
}

// DeleteMessages removes the requested messages the caller is allowed
// to delete: all of them for the group admin, otherwise only the
// caller's own. Ids that don't resolve inside the conversation count as
// skipped. Live participants are notified through the broadcaster
// regardless of which path (REST or gateway) asked.
func (s *Service) DeleteMessages(ctx context.Context, uid, conversationID string, messageIDs []string) (*DeleteMessagesResult, error) {
	if len(messageIDs) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "at least one message ID is required")
	}
	ids := make([]primitive.ObjectID, 0, len(messageIDs))
	for _, id := range messageIDs {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, apperr.New(apperr.ErrBadRequest, "invalid message IDs provided")
		}
		ids = append(ids, oid)
	}

	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	isAdmin := conv.Type == models.ConversationGroup && conv.CreatedBy == uidOID

	found, err := s.msgs.FindByIDs(ctx, conv.ID, ids)
	if err != nil {
		return nil, s.internal(err, "message lookup failed")
	}
	if len(found) == 0 {
		return &DeleteMessagesResult{DeletedCount: 0, SkippedCount: len(messageIDs)}, nil
	}

	var deletable []*models.Message
	for _, m := range found {
		// system messages have no sender and never match a non-admin
		if isAdmin || (m.Sender != nil && *m.Sender == uidOID) {
			deletable = append(deletable, m)
		}
	}
	if len(deletable) == 0 {
		return &DeleteMessagesResult{DeletedCount: 0, SkippedCount: len(messageIDs)}, nil
	}

	deleteIDs := make([]primitive.ObjectID, 0, len(deletable))
	lastDeleted := false
	for _, m := range deletable {
		deleteIDs = append(deleteIDs, m.ID)
		if conv.LastMessage != nil && m.ID == *conv.LastMessage {
			lastDeleted = true
		}
	}

	if _, err := s.msgs.DeleteByIDs(ctx, deleteIDs); err != nil {
		return nil, s.internal(err, "message delete failed")
	}

	if lastDeleted {
		newest, err := s.msgs.FindLatest(ctx, conv.ID)
		if err != nil {
			return nil, s.internal(err, "last-message recompute failed")
		}
		var newLast *primitive.ObjectID
		if newest != nil {
			newLast = &newest.ID
		}
		if err := s.convs.SetLastMessage(ctx, conv.ID, newLast, time.Now().UTC()); err != nil {
			return nil, s.internal(err, "last-message update failed")
		}
	}

	result := &DeleteMessagesResult{
		DeletedCount: len(deletable),
		SkippedCount: len(messageIDs) - len(deletable),
	}

	if s.broadcaster != nil {
		hexIDs := make([]string, 0, len(deleteIDs))
		for _, id := range deleteIDs {
			hexIDs = append(hexIDs, id.Hex())
		}
		s.broadcaster.EmitToConversation(conv.ID.Hex(), "message:deleted", map[string]any{
			"conversationId": conv.ID.Hex(),
			"messageIds":     hexIDs,
			"deletedBy":      uid,
			"deletedCount":   result.DeletedCount,
			"skippedCount":   result.SkippedCount,
		})
	}

	return result, nil
}
