package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

func TestCreateDirectIdempotent(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	first, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if first.Name != "bob" {
		t.Errorf("conversation name = %q, want peer username", first.Name)
	}
	if first.Type != models.ConversationDirect {
		t.Errorf("type = %q, want direct", first.Type)
	}

	// second call from either side returns the same conversation
	second, err := f.svc.CreateDirect(ctx, bob.ID.Hex(), "Alice@Example.com ")
	if err != nil {
		t.Fatalf("CreateDirect (reverse): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected one conversation per pair, got %s and %s", first.ID, second.ID)
	}
	if len(f.convs.convs) != 1 {
		t.Errorf("stored conversations = %d, want 1", len(f.convs.convs))
	}
}

func TestCreateDirectRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	ctx := context.Background()

	if _, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "alice@example.com"); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("self conversation: got %v, want bad request", err)
	}
	if _, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "ghost@example.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown peer: got %v, want not found", err)
	}
	if _, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "  "); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("blank email: got %v, want bad request", err)
	}
}

func TestCreateGroup(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	f.users.add("bob@example.com", "bob")
	f.users.add("carol@example.com", "carol")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com", "carol@example.com"}, " plans ")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if len(conv.Participants) != 3 {
		t.Errorf("participants = %d, want creator plus two", len(conv.Participants))
	}
	if !conv.IsAdmin {
		t.Error("creator should be admin")
	}
	if conv.Description != "plans" {
		t.Errorf("description = %q, want trimmed", conv.Description)
	}
	if conv.LastMessage == nil || conv.LastMessage.Content != `Group "team" was created` {
		t.Errorf("last message = %+v, want creation system message", conv.LastMessage)
	}
	if conv.LastMessage.Sender != nil {
		t.Error("system message should have no sender")
	}
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	ctx := context.Background()

	if _, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), " ", []string{"x@example.com"}, ""); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("blank name: got %v, want bad request", err)
	}
	if _, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", nil, ""); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("no participants: got %v, want bad request", err)
	}
	_, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"ghost@example.com", "alice@example.com"}, "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unresolved email: got %v, want not found", err)
	}
	if !strings.Contains(apperr.Message(err), "ghost@example.com") {
		t.Errorf("error %q should name the missing email", apperr.Message(err))
	}
}

func TestAddParticipants(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	f.users.add("carol@example.com", "carol")
	f.users.add("dave@example.com", "dave")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// any participant may add, not just the admin
	updated, err := f.svc.AddParticipants(ctx, bob.ID.Hex(), conv.ID, []string{"carol@example.com", "dave@example.com"})
	if err != nil {
		t.Fatalf("AddParticipants: %v", err)
	}
	if len(updated.Participants) != 4 {
		t.Errorf("participants = %d, want 4", len(updated.Participants))
	}

	texts := f.systemTexts(mustOID(t, conv.ID))
	last := texts[len(texts)-1]
	if last != "carol, dave were added to the group" {
		t.Errorf("system message = %q", last)
	}

	if _, err := f.svc.AddParticipants(ctx, alice.ID.Hex(), conv.ID, []string{"bob@example.com"}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("re-adding existing member: got %v, want bad request", err)
	}
}

func TestAddParticipantsDirectRejected(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	f.users.add("bob@example.com", "bob")
	f.users.add("carol@example.com", "carol")
	ctx := context.Background()

	conv, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if _, err := f.svc.AddParticipants(ctx, alice.ID.Hex(), conv.ID, []string{"carol@example.com"}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("adding to direct: got %v, want bad request", err)
	}
}

func TestRemoveParticipants(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	carol := f.users.add("carol@example.com", "carol")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com", "carol@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if _, err := f.svc.RemoveParticipants(ctx, bob.ID.Hex(), conv.ID, []string{carol.ID.Hex()}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-admin removal: got %v, want forbidden", err)
	}
	if _, err := f.svc.RemoveParticipants(ctx, alice.ID.Hex(), conv.ID, []string{alice.ID.Hex()}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("admin self-removal: got %v, want bad request", err)
	}

	updated, err := f.svc.RemoveParticipants(ctx, alice.ID.Hex(), conv.ID, []string{carol.ID.Hex()})
	if err != nil {
		t.Fatalf("RemoveParticipants: %v", err)
	}
	if len(updated.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(updated.Participants))
	}
	texts := f.systemTexts(mustOID(t, conv.ID))
	if texts[len(texts)-1] != "carol was removed from the group" {
		t.Errorf("system message = %q", texts[len(texts)-1])
	}
}

func TestUpdateGroup(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "old")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if _, err := f.svc.UpdateGroup(ctx, alice.ID.Hex(), conv.ID, nil, nil); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("nothing provided: got %v, want bad request", err)
	}
	same := "team"
	if _, err := f.svc.UpdateGroup(ctx, alice.ID.Hex(), conv.ID, &same, nil); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("no-op update: got %v, want bad request", err)
	}
	name := "crew"
	if _, err := f.svc.UpdateGroup(ctx, bob.ID.Hex(), conv.ID, &name, nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-admin update: got %v, want forbidden", err)
	}

	empty := ""
	updated, err := f.svc.UpdateGroup(ctx, alice.ID.Hex(), conv.ID, &name, &empty)
	if err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	if updated.Name != "crew" || updated.Description != "" {
		t.Errorf("updated = %q/%q, want crew with no description", updated.Name, updated.Description)
	}
	texts := f.systemTexts(mustOID(t, conv.ID))
	want := []string{`Group name changed from "team" to "crew"`, "Group description removed"}
	if len(texts) < 2 {
		t.Fatalf("system messages = %v", texts)
	}
	got := texts[len(texts)-2:]
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("system messages = %v, want %v", got, want)
	}
}

func TestClearChat(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.SendMessage(ctx, alice.ID.Hex(), SendMessageInput{ConversationID: conv.ID, Content: "hi"}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	if _, err := f.svc.ClearChat(ctx, bob.ID.Hex(), conv.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-admin clear: got %v, want forbidden", err)
	}

	res, err := f.svc.ClearChat(ctx, alice.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("ClearChat: %v", err)
	}
	// creation system message plus the three sends
	if res.ClearedCount != 4 {
		t.Errorf("cleared = %d, want 4", res.ClearedCount)
	}
	texts := f.systemTexts(mustOID(t, conv.ID))
	if len(texts) != 1 || texts[0] != "Chat history was cleared by admin" {
		t.Errorf("post-clear messages = %v", texts)
	}
}

func TestClearChatDirect(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, alice.ID.Hex(), SendMessageInput{ConversationID: conv.ID, Content: "hi"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// either side of a direct conversation may clear
	res, err := f.svc.ClearChat(ctx, bob.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("ClearChat: %v", err)
	}
	if res.ClearedCount != 1 {
		t.Errorf("cleared = %d, want 1", res.ClearedCount)
	}
	texts := f.systemTexts(mustOID(t, conv.ID))
	if len(texts) != 1 || texts[0] != "Chat history was cleared" {
		t.Errorf("post-clear messages = %v", texts)
	}
}

func TestDeleteConversationDirect(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, alice.ID.Hex(), SendMessageInput{ConversationID: conv.ID, Content: "hi"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	res, err := f.svc.DeleteConversation(ctx, alice.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if res.Message != "Conversation deleted successfully" {
		t.Errorf("message = %q", res.Message)
	}
	if len(f.convs.convs) != 0 || len(f.msgs.msgs) != 0 {
		t.Error("conversation and messages should be gone")
	}
}

func TestDeleteConversationAdminLeaveReassigns(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	f.users.add("carol@example.com", "carol")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com", "carol@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	res, err := f.svc.DeleteConversation(ctx, alice.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if res.Message != "Left group successfully" || !res.Reassigned {
		t.Errorf("result = %+v, want reassigned leave", res)
	}
	if res.NewAdmin != bob.ID.Hex() {
		t.Errorf("new admin = %s, want first remaining participant %s", res.NewAdmin, bob.ID.Hex())
	}
	if res.UpdatedConversation == nil || len(res.UpdatedConversation.Participants) != 2 {
		t.Fatalf("updated conversation = %+v", res.UpdatedConversation)
	}

	stored, err := f.convs.FindByID(ctx, mustOID(t, conv.ID))
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.CreatedBy != bob.ID {
		t.Errorf("stored admin = %s, want %s", stored.CreatedBy.Hex(), bob.ID.Hex())
	}

	texts := f.systemTexts(stored.ID)
	got := texts[len(texts)-2:]
	if got[0] != "alice left the group" || got[1] != "bob is now the group admin" {
		t.Errorf("system messages = %v", got)
	}
}

func TestDeleteConversationMemberLeave(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	res, err := f.svc.DeleteConversation(ctx, bob.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if res.Message != "Left group successfully" || res.Reassigned {
		t.Errorf("result = %+v, want plain leave", res)
	}
	stored, err := f.convs.FindByID(ctx, mustOID(t, conv.ID))
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.CreatedBy != alice.ID || len(stored.Participants) != 1 {
		t.Errorf("stored = %+v, want alice alone as admin", stored)
	}
}

func TestDeleteConversationLastMemberDestroysGroup(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	conv, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := f.svc.DeleteConversation(ctx, bob.ID.Hex(), conv.ID); err != nil {
		t.Fatalf("member leave: %v", err)
	}
	res, err := f.svc.DeleteConversation(ctx, alice.ID.Hex(), conv.ID)
	if err != nil {
		t.Fatalf("last leave: %v", err)
	}
	if res.Message != "Group deleted successfully" {
		t.Errorf("message = %q", res.Message)
	}
	if len(f.convs.convs) != 0 {
		t.Error("emptied group should be destroyed")
	}
}

func TestDetails(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	bob := f.users.add("bob@example.com", "bob")
	ctx := context.Background()

	direct, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	group, err := f.svc.CreateGroup(ctx, alice.ID.Hex(), "team", []string{"bob@example.com"}, "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	d, err := f.svc.Details(ctx, bob.ID.Hex(), direct.ID)
	if err != nil {
		t.Fatalf("Details (direct): %v", err)
	}
	if !d.CanManage || d.IsAdmin {
		t.Errorf("direct detail = %+v, want manageable non-admin", d)
	}

	g, err := f.svc.Details(ctx, bob.ID.Hex(), group.ID)
	if err != nil {
		t.Fatalf("Details (group): %v", err)
	}
	if g.CanManage || g.IsAdmin {
		t.Errorf("member group detail = %+v, want unmanageable", g)
	}

	stranger := f.users.add("eve@example.com", "eve")
	if _, err := f.svc.Details(ctx, stranger.ID.Hex(), group.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("stranger details: got %v, want forbidden", err)
	}
}

func TestListOrdersByActivity(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	f.users.add("bob@example.com", "bob")
	f.users.add("carol@example.com", "carol")
	ctx := context.Background()

	first, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "bob@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	second, err := f.svc.CreateDirect(ctx, alice.ID.Hex(), "carol@example.com")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}

	// touch the first conversation so it becomes the most recent
	f.convs.SetLastMessage(ctx, mustOID(t, first.ID), nil, time.Now().UTC().Add(time.Hour))

	list, err := f.svc.List(ctx, alice.ID.Hex())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d conversations, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("order = [%s %s], want most recent first", list[0].ID, list[1].ID)
	}
}

func TestSearchUsers(t *testing.T) {
	f := newFixture()
	alice := f.users.add("alice@example.com", "alice")
	f.users.add("bob@example.com", "bobby")
	ctx := context.Background()

	if res, err := f.svc.SearchUsers(ctx, alice.ID.Hex(), "  "); err != nil || len(res) != 0 {
		t.Errorf("blank query = (%v, %v), want empty list", res, err)
	}

	res, err := f.svc.SearchUsers(ctx, alice.ID.Hex(), "bob")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(res) != 1 || res[0].Username != "bobby" {
		t.Errorf("result = %+v, want bobby", res)
	}

	// the caller never appears in their own results
	res, err = f.svc.SearchUsers(ctx, alice.ID.Hex(), "example.com")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	for _, u := range res {
		if u.ID == alice.ID.Hex() {
			t.Error("search should exclude the caller")
		}
	}
}

func mustOID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		t.Fatalf("invalid object id %q: %v", hex, err)
	}
	return oid
}
