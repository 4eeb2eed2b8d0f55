package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

// CreateDirect finds or creates the direct conversation between uid and
// the user identified by peerEmail. Idempotent per unordered pair.
func (s *Service) CreateDirect(ctx context.Context, uid, peerEmail string) (*models.ConversationResponse, error) {
	peerEmail = strings.ToLower(strings.TrimSpace(peerEmail))
	if peerEmail == "" {
		return nil, apperr.New(apperr.ErrBadRequest, "participant email is required")
	}
	uidOID, err := parseID(uid, "user")
	if err != nil {
		return nil, err
	}

	peer, err := s.users.FindByEmail(ctx, peerEmail)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, "user not found with that email")
		}
		return nil, s.internal(err, "peer lookup failed")
	}
	if peer.ID == uidOID {
		return nil, apperr.New(apperr.ErrBadRequest, "cannot create conversation with yourself")
	}

	existing, err := s.convs.FindDirectBetween(ctx, uidOID, peer.ID)
	if err != nil {
		return nil, s.internal(err, "direct conversation lookup failed")
	}
	if existing != nil {
		return s.conversationResponse(ctx, existing, uid)
	}

	conv := &models.Conversation{
		Name:         peer.Username,
		Participants: []primitive.ObjectID{uidOID, peer.ID},
		CreatedBy:    uidOID,
		Type:         models.ConversationDirect,
		LastActivity: time.Now().UTC(),
	}
	if _, err := s.convs.Insert(ctx, conv); err != nil {
		return nil, s.internal(err, "direct conversation insert failed")
	}
	return s.conversationResponse(ctx, conv, uid)
}

// CreateGroup creates a group conversation with the resolved users plus
// the creator, and narrates the creation with a system message.
func (s *Service) CreateGroup(ctx context.Context, uid, name string, participantEmails []string, description string) (*models.ConversationResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.ErrBadRequest, "group name is required")
	}
	if len(participantEmails) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "at least one participant email is required")
	}
	uidOID, err := parseID(uid, "user")
	if err != nil {
		return nil, err
	}

	participants, err := s.resolveEmails(ctx, participantEmails)
	if err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, 0, len(participants)+1)
	for _, p := range participants {
		ids = append(ids, p.ID)
	}
	if !containsID(ids, uidOID) {
		ids = append(ids, uidOID)
	}

	conv := &models.Conversation{
		Name:         name,
		Participants: ids,
		CreatedBy:    uidOID,
		Type:         models.ConversationGroup,
		Description:  strings.TrimSpace(description),
		LastActivity: time.Now().UTC(),
	}
	if _, err := s.convs.Insert(ctx, conv); err != nil {
		return nil, s.internal(err, "group conversation insert failed")
	}

	s.systemMessage(ctx, conv.ID, fmt.Sprintf("Group %q was created", name))

	return s.reload(ctx, conv.ID, uid)
}

// List returns uid's conversations sorted by last activity, newest
// first, each annotated with isAdmin.
func (s *Service) List(ctx context.Context, uid string) ([]*models.ConversationResponse, error) {
	uidOID, err := parseID(uid, "user")
	if err != nil {
		return nil, err
	}
	convs, err := s.convs.ListForUser(ctx, uidOID)
	if err != nil {
		return nil, s.internal(err, "conversation list failed")
	}
	out := make([]*models.ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp, err := s.conversationResponse(ctx, c, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// AddParticipants appends resolved users to a group. Any current
// participant may add; users already present are filtered out.
func (s *Service) AddParticipants(ctx context.Context, uid, conversationID string, participantEmails []string) (*models.ConversationResponse, error) {
	if len(participantEmails) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "at least one participant email is required")
	}
	conv, _, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != models.ConversationGroup {
		return nil, apperr.New(apperr.ErrBadRequest, "can only add participants to group conversations")
	}

	resolved, err := s.resolveEmails(ctx, participantEmails)
	if err != nil {
		return nil, err
	}

	var added []*models.User
	for _, u := range resolved {
		if !conv.HasParticipant(u.ID) {
			added = append(added, u)
		}
	}
	if len(added) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "all users are already participants")
	}

	participants := conv.Participants
	names := make([]string, 0, len(added))
	for _, u := range added {
		participants = append(participants, u.ID)
		names = append(names, u.Username)
	}
	if err := s.convs.UpdateParticipants(ctx, conv.ID, participants, time.Now().UTC()); err != nil {
		return nil, s.internal(err, "participant update failed")
	}

	s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s %s added to the group", strings.Join(names, ", "), wasWere(len(names))))

	return s.reload(ctx, conv.ID, uid)
}

// RemoveParticipants removes users from a group. Admin only; the admin
// cannot remove themselves here (leave via DeleteConversation).
func (s *Service) RemoveParticipants(ctx context.Context, uid, conversationID string, participantIDs []string) (*models.ConversationResponse, error) {
	if len(participantIDs) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "at least one participant ID is required")
	}
	removeIDs := make([]primitive.ObjectID, 0, len(participantIDs))
	for _, id := range participantIDs {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, apperr.New(apperr.ErrBadRequest, "invalid participant IDs provided")
		}
		removeIDs = append(removeIDs, oid)
	}

	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != models.ConversationGroup {
		return nil, apperr.New(apperr.ErrBadRequest, "can only remove participants from group conversations")
	}
	if conv.CreatedBy != uidOID {
		return nil, apperr.New(apperr.ErrForbidden, "only group admin can remove participants")
	}
	if containsID(removeIDs, uidOID) {
		return nil, apperr.New(apperr.ErrBadRequest, "admin cannot remove themselves from the group")
	}

	removedUsers, err := s.users.FindByIDs(ctx, removeIDs)
	if err != nil {
		return nil, s.internal(err, "removed user lookup failed")
	}
	names := make([]string, 0, len(removedUsers))
	for _, u := range removedUsers {
		names = append(names, u.Username)
	}

	var remaining []primitive.ObjectID
	for _, p := range conv.Participants {
		if !containsID(removeIDs, p) {
			remaining = append(remaining, p)
		}
	}
	if err := s.convs.UpdateParticipants(ctx, conv.ID, remaining, time.Now().UTC()); err != nil {
		return nil, s.internal(err, "participant update failed")
	}

	s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s %s removed from the group", strings.Join(names, ", "), wasWere(len(names))))

	return s.reload(ctx, conv.ID, uid)
}

// UpdateGroup changes a group's name and/or description. Admin only;
// requires at least one actual change. nil means "not provided".
func (s *Service) UpdateGroup(ctx context.Context, uid, conversationID string, name, description *string) (*models.ConversationResponse, error) {
	if name == nil && description == nil {
		return nil, apperr.New(apperr.ErrBadRequest, "at least name or description must be provided")
	}
	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != models.ConversationGroup {
		return nil, apperr.New(apperr.ErrBadRequest, "can only update group conversations")
	}
	if conv.CreatedBy != uidOID {
		return nil, apperr.New(apperr.ErrForbidden, "only group admin can update group details")
	}

	var newName, newDesc *string
	var notes []string
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed != "" && trimmed != conv.Name {
			newName = &trimmed
			notes = append(notes, fmt.Sprintf("Group name changed from %q to %q", conv.Name, trimmed))
		}
	}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed != conv.Description {
			newDesc = &trimmed
			if trimmed != "" {
				notes = append(notes, "Group description updated")
			} else {
				notes = append(notes, "Group description removed")
			}
		}
	}
	if newName == nil && newDesc == nil {
		return nil, apperr.New(apperr.ErrBadRequest, "no changes detected")
	}

	if err := s.convs.UpdateDetails(ctx, conv.ID, newName, newDesc, time.Now().UTC()); err != nil {
		return nil, s.internal(err, "group update failed")
	}
	for _, note := range notes {
		s.systemMessage(ctx, conv.ID, note)
	}

	return s.reload(ctx, conv.ID, uid)
}

// ClearResult reports how many messages ClearChat removed.
type ClearResult struct {
	ClearedCount int64 `json:"clearedCount"`
}

// ClearChat deletes every message in the conversation. For groups only
// the admin may clear.
func (s *Service) ClearChat(ctx context.Context, uid, conversationID string) (*ClearResult, error) {
	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type == models.ConversationGroup && conv.CreatedBy != uidOID {
		return nil, apperr.New(apperr.ErrForbidden, "only group admin can clear chat history")
	}

	count, err := s.msgs.CountByConversation(ctx, conv.ID)
	if err != nil {
		return nil, s.internal(err, "message count failed")
	}
	if _, err := s.msgs.DeleteByConversation(ctx, conv.ID); err != nil {
		return nil, s.internal(err, "message clear failed")
	}
	if err := s.convs.SetLastMessage(ctx, conv.ID, nil, time.Now().UTC()); err != nil {
		return nil, s.internal(err, "last-message reset failed")
	}

	if conv.Type == models.ConversationGroup {
		s.systemMessage(ctx, conv.ID, "Chat history was cleared by admin")
	} else {
		s.systemMessage(ctx, conv.ID, "Chat history was cleared")
	}

	return &ClearResult{ClearedCount: count}, nil
}

// DeleteResult is the outcome of DeleteConversation. For an admin
// leaving a surviving group it carries the admin reassignment.
type DeleteResult struct {
	Message             string                       `json:"message"`
	Reassigned          bool                         `json:"reassigned,omitempty"`
	NewAdmin            string                       `json:"newAdmin,omitempty"`
	UpdatedConversation *models.ConversationResponse `json:"updatedConversation,omitempty"`
}

// DeleteConversation deletes a direct conversation outright. For groups
// it removes the caller; an emptied group is deleted, and a leaving
// admin hands the role to the first remaining participant.
func (s *Service) DeleteConversation(ctx context.Context, uid, conversationID string) (*DeleteResult, error) {
	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.Type == models.ConversationDirect {
		if err := s.destroy(ctx, conv.ID); err != nil {
			return nil, err
		}
		return &DeleteResult{Message: "Conversation deleted successfully"}, nil
	}

	var remaining []primitive.ObjectID
	for _, p := range conv.Participants {
		if p != uidOID {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		if err := s.destroy(ctx, conv.ID); err != nil {
			return nil, err
		}
		return &DeleteResult{Message: "Group deleted successfully"}, nil
	}

	leavingName := s.usernameOf(ctx, uidOID)
	now := time.Now().UTC()

	if conv.CreatedBy == uidOID {
		newAdmin := remaining[0]
		if err := s.convs.UpdateParticipants(ctx, conv.ID, remaining, now); err != nil {
			return nil, s.internal(err, "participant update failed")
		}
		if err := s.convs.UpdateAdmin(ctx, conv.ID, newAdmin, now); err != nil {
			return nil, s.internal(err, "admin reassignment failed")
		}
		s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s left the group", leavingName))
		s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s is now the group admin", s.usernameOf(ctx, newAdmin)))

		updated, err := s.reload(ctx, conv.ID, uid)
		if err != nil {
			return nil, err
		}
		return &DeleteResult{
			Message:             "Left group successfully",
			Reassigned:          true,
			NewAdmin:            newAdmin.Hex(),
			UpdatedConversation: updated,
		}, nil
	}

	if err := s.convs.UpdateParticipants(ctx, conv.ID, remaining, now); err != nil {
		return nil, s.internal(err, "participant update failed")
	}
	s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s left the group", leavingName))
	return &DeleteResult{Message: "Left group successfully"}, nil
}

// Details returns the conversation annotated with isAdmin and
// canManage. Direct conversations are manageable by both parties.
func (s *Service) Details(ctx context.Context, uid, conversationID string) (*models.ConversationDetail, error) {
	conv, uidOID, err := s.requireParticipant(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	resp, err := s.conversationResponse(ctx, conv, uid)
	if err != nil {
		return nil, err
	}
	isAdmin := conv.Type == models.ConversationGroup && conv.CreatedBy == uidOID
	return &models.ConversationDetail{
		ConversationResponse: *resp,
		CanManage:            conv.Type == models.ConversationDirect || isAdmin,
	}, nil
}

// SearchUsers matches username or email case-insensitively, excluding
// the caller. A blank query returns an empty list.
func (s *Service) SearchUsers(ctx context.Context, uid, query string) ([]models.UserResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.UserResponse{}, nil
	}
	uidOID, err := parseID(uid, "user")
	if err != nil {
		return nil, err
	}
	users, err := s.users.Search(ctx, query, uidOID, 20)
	if err != nil {
		return nil, s.internal(err, "user search failed")
	}
	out := make([]models.UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, models.NewUserResponse(u))
	}
	return out, nil
}

// resolveEmails trims, lowercases and resolves every email to a user.
// Any miss fails with a NotFound naming all unresolved emails.
func (s *Service) resolveEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	clean := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			clean = append(clean, e)
		}
	}
	if len(clean) == 0 {
		return nil, apperr.New(apperr.ErrBadRequest, "valid participant emails are required")
	}

	users, err := s.users.FindByEmails(ctx, clean)
	if err != nil {
		return nil, s.internal(err, "participant email lookup failed")
	}
	if len(users) != len(clean) {
		found := make(map[string]bool, len(users))
		for _, u := range users {
			found[u.Email] = true
		}
		var missing []string
		for _, e := range clean {
			if !found[e] {
				missing = append(missing, e)
			}
		}
		return nil, apperr.Newf(apperr.ErrNotFound, "users not found: %s", strings.Join(missing, ", "))
	}
	return users, nil
}

// destroy removes a conversation and everything in it.
func (s *Service) destroy(ctx context.Context, convID primitive.ObjectID) error {
	if _, err := s.msgs.DeleteByConversation(ctx, convID); err != nil {
		return s.internal(err, "message cascade delete failed")
	}
	if err := s.convs.Delete(ctx, convID); err != nil {
		return s.internal(err, "conversation delete failed")
	}
	return nil
}

// reload fetches the conversation again so the response reflects
// system messages and membership changes made during the operation.
func (s *Service) reload(ctx context.Context, convID primitive.ObjectID, uid string) (*models.ConversationResponse, error) {
	conv, err := s.convs.FindByID(ctx, convID)
	if err != nil {
		return nil, s.internal(err, "conversation reload failed")
	}
	return s.conversationResponse(ctx, conv, uid)
}

func (s *Service) usernameOf(ctx context.Context, id primitive.ObjectID) string {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return "User"
	}
	return u.Username
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}
