package chat

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

// In-memory repositories mirroring the Mongo-backed contracts, enough
// to drive the service without a database.

type fakeUserRepo struct {
	users map[primitive.ObjectID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[primitive.ObjectID]*models.User)}
}

func (r *fakeUserRepo) add(email, username string) *models.User {
	u := &models.User{
		ID:       primitive.NewObjectID(),
		Email:    email,
		Username: username,
		IsActive: true,
	}
	r.users[u.ID] = u
	return u
}

func (r *fakeUserRepo) Insert(_ context.Context, u *models.User) (primitive.ObjectID, error) {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	r.users[u.ID] = u
	return u.ID, nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeUserRepo) FindByIDs(_ context.Context, ids []primitive.ObjectID) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeUserRepo) FindByEmails(_ context.Context, emails []string) ([]*models.User, error) {
	var out []*models.User
	for _, e := range emails {
		for _, u := range r.users {
			if u.Email == e {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	if u, ok := r.users[id]; ok {
		u.LastLogin = at
	}
	return nil
}

func (r *fakeUserRepo) Search(_ context.Context, query string, exclude primitive.ObjectID, limit int64) ([]*models.User, error) {
	q := strings.ToLower(query)
	var out []*models.User
	for _, u := range r.users {
		if u.ID == exclude {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

type fakeConvRepo struct {
	convs map[primitive.ObjectID]*models.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[primitive.ObjectID]*models.Conversation)}
}

func (r *fakeConvRepo) Insert(_ context.Context, c *models.Conversation) (primitive.ObjectID, error) {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	r.convs[c.ID] = c
	return c.ID, nil
}

func (r *fakeConvRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	if c, ok := r.convs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeConvRepo) FindDirectBetween(_ context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	for _, c := range r.convs {
		if c.Type != models.ConversationDirect || len(c.Participants) != 2 {
			continue
		}
		if (c.Participants[0] == a && c.Participants[1] == b) ||
			(c.Participants[0] == b && c.Participants[1] == a) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeConvRepo) ListForUser(_ context.Context, uid primitive.ObjectID) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, c := range r.convs {
		if c.HasParticipant(uid) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *fakeConvRepo) UpdateParticipants(_ context.Context, id primitive.ObjectID, participants []primitive.ObjectID, at time.Time) error {
	if c, ok := r.convs[id]; ok {
		c.Participants = participants
		c.LastActivity = at
	}
	return nil
}

func (r *fakeConvRepo) UpdateAdmin(_ context.Context, id, newAdmin primitive.ObjectID, at time.Time) error {
	if c, ok := r.convs[id]; ok {
		c.CreatedBy = newAdmin
		c.LastActivity = at
	}
	return nil
}

func (r *fakeConvRepo) UpdateDetails(_ context.Context, id primitive.ObjectID, name, description *string, at time.Time) error {
	if c, ok := r.convs[id]; ok {
		if name != nil {
			c.Name = *name
		}
		if description != nil {
			c.Description = *description
		}
		c.LastActivity = at
	}
	return nil
}

func (r *fakeConvRepo) SetLastMessage(_ context.Context, id primitive.ObjectID, msgID *primitive.ObjectID, at time.Time) error {
	if c, ok := r.convs[id]; ok {
		c.LastMessage = msgID
		c.LastActivity = at
	}
	return nil
}

func (r *fakeConvRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	delete(r.convs, id)
	return nil
}

type fakeMsgRepo struct {
	msgs map[primitive.ObjectID]*models.Message
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{msgs: make(map[primitive.ObjectID]*models.Message)}
}

func (r *fakeMsgRepo) Insert(_ context.Context, m *models.Message) (primitive.ObjectID, error) {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	r.msgs[m.ID] = m
	return m.ID, nil
}

func (r *fakeMsgRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.Message, error) {
	if m, ok := r.msgs[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeMsgRepo) byConversation(convID primitive.ObjectID) []*models.Message {
	var out []*models.Message
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeMsgRepo) FindPage(_ context.Context, convID primitive.ObjectID, skip, limit int64) ([]*models.Message, error) {
	all := r.byConversation(convID)
	if skip >= int64(len(all)) {
		return nil, nil
	}
	all = all[skip:]
	if int64(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakeMsgRepo) FindByIDs(_ context.Context, convID primitive.ObjectID, ids []primitive.ObjectID) ([]*models.Message, error) {
	var out []*models.Message
	for _, id := range ids {
		if m, ok := r.msgs[id]; ok && m.ConversationID == convID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMsgRepo) FindLatest(_ context.Context, convID primitive.ObjectID) (*models.Message, error) {
	all := r.byConversation(convID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fakeMsgRepo) AddReadReceipt(_ context.Context, msgID, uid primitive.ObjectID, at time.Time) error {
	m, ok := r.msgs[msgID]
	if !ok {
		return apperr.ErrNotFound
	}
	for _, rc := range m.ReadBy {
		if rc.User == uid {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, models.ReadReceipt{User: uid, ReadAt: at})
	return nil
}

func (r *fakeMsgRepo) DeleteByIDs(_ context.Context, ids []primitive.ObjectID) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := r.msgs[id]; ok {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeMsgRepo) DeleteByConversation(_ context.Context, convID primitive.ObjectID) (int64, error) {
	var n int64
	for id, m := range r.msgs {
		if m.ConversationID == convID {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeMsgRepo) CountByConversation(_ context.Context, convID primitive.ObjectID) (int64, error) {
	var n int64
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			n++
		}
	}
	return n, nil
}

// captureBroadcaster records every emit for assertions.
type captureBroadcaster struct {
	events []capturedEvent
}

type capturedEvent struct {
	conversationID string
	event          string
	payload        any
}

func (b *captureBroadcaster) EmitToConversation(conversationID, event string, payload any) {
	b.events = append(b.events, capturedEvent{conversationID, event, payload})
}

type fixture struct {
	svc   *Service
	users *fakeUserRepo
	convs *fakeConvRepo
	msgs  *fakeMsgRepo
	cast  *captureBroadcaster
}

func newFixture() *fixture {
	f := &fixture{
		users: newFakeUserRepo(),
		convs: newFakeConvRepo(),
		msgs:  newFakeMsgRepo(),
		cast:  &captureBroadcaster{},
	}
	f.svc = NewService(f.users, f.convs, f.msgs, zap.NewNop().Sugar())
	f.svc.SetBroadcaster(f.cast)
	return f
}

// systemTexts returns the contents of the conversation's system
// messages in chronological order.
func (f *fixture) systemTexts(convID primitive.ObjectID) []string {
	all := f.msgs.byConversation(convID)
	var out []string
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == models.MessageSystem {
			out = append(out, all[i].Content)
		}
	}
	return out
}
