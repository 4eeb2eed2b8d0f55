package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

type memUserRepo struct {
	users map[primitive.ObjectID]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[primitive.ObjectID]*models.User)}
}

func (r *memUserRepo) Insert(_ context.Context, u *models.User) (primitive.ObjectID, error) {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	r.users[u.ID] = u
	return u.ID, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperr.ErrNotFound
}

func (r *memUserRepo) FindByIDs(_ context.Context, ids []primitive.ObjectID) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *memUserRepo) FindByEmails(_ context.Context, emails []string) ([]*models.User, error) {
	var out []*models.User
	for _, e := range emails {
		if u, err := r.FindByEmail(context.Background(), e); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	if u, ok := r.users[id]; ok {
		u.LastLogin = at
	}
	return nil
}

func (r *memUserRepo) Search(_ context.Context, _ string, _ primitive.ObjectID, _ int64) ([]*models.User, error) {
	return nil, nil
}

func newTestService() (*Service, *memUserRepo) {
	repo := newMemUserRepo()
	tm := NewTokenManager("test-secret", time.Hour)
	return NewService(repo, tm, zap.NewNop().Sugar()), repo
}

func TestSignupAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.Signup(ctx, " Alice@Example.com ", "alice", "hunter22")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("signup should return a token")
	}
	if resp.User.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized", resp.User.Email)
	}

	login, err := svc.Login(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.User.ID != resp.User.ID {
		t.Errorf("login user = %s, want %s", login.User.ID, resp.User.ID)
	}
}

func TestSignupConflicts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice@example.com", "alice", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.Signup(ctx, "alice@example.com", "other", "pw"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate email: got %v, want conflict", err)
	}
	if _, err := svc.Signup(ctx, "second@example.com", "alice", "pw"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate username: got %v, want conflict", err)
	}
	if _, err := svc.Signup(ctx, "", "x", "pw"); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("missing email: got %v, want bad request", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice@example.com", "alice", "correct"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("wrong password: got %v, want unauthorized", err)
	}
	if _, err := svc.Login(ctx, "ghost@example.com", "whatever"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("unknown email: got %v, want unauthorized", err)
	}
}

func TestProfile(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.Signup(ctx, "alice@example.com", "alice", "pw")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	profile, err := svc.Profile(ctx, resp.User.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Username != "alice" {
		t.Errorf("username = %q", profile.Username)
	}

	if _, err := svc.Profile(ctx, "nope"); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("malformed id: got %v, want bad request", err)
	}
	if _, err := svc.Profile(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("unknown id: got %v, want unauthorized", err)
	}
}
