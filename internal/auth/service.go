// Package auth is the identity provider: signup, login, profile and
// token handling. Password hashing uses bcrypt; everything else about
// the credential is opaque to the rest of the system.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
	"github.com/yourorg/chatserver/internal/repository"
)

const bcryptCost = 12

type Service struct {
	users  repository.UserRepository
	tokens *TokenManager
	log    *zap.SugaredLogger
}

func NewService(users repository.UserRepository, tokens *TokenManager, log *zap.SugaredLogger) *Service {
	return &Service{users: users, tokens: tokens, log: log}
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	AccessToken string              `json:"access_token"`
	User        models.UserResponse `json:"user"`
}

func (s *Service) Signup(ctx context.Context, email, username, password string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return nil, apperr.New(apperr.ErrBadRequest, "email, username and password are required")
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, apperr.New(apperr.ErrConflict, "user with this email already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, s.internal(err, "signup email lookup failed")
	}
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil, apperr.New(apperr.ErrConflict, "user with this username already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, s.internal(err, "signup username lookup failed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, s.internal(err, "password hashing failed")
	}

	u := &models.User{
		Email:     email,
		Username:  username,
		Password:  string(hash),
		IsActive:  true,
		LastLogin: time.Now().UTC(),
		Role:      "user",
	}
	if _, err := s.users.Insert(ctx, u); err != nil {
		return nil, s.internal(err, "user insert failed")
	}

	return s.respond(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.ErrUnauthorized, "invalid credentials")
		}
		return nil, s.internal(err, "login lookup failed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "invalid credentials")
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warnw("last-login update failed", "user", u.ID.Hex(), "error", err)
	}
	u.LastLogin = now

	return s.respond(u)
}

// Profile returns the authenticated caller's own user record.
func (s *Service) Profile(ctx context.Context, userID string) (*models.UserResponse, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.New(apperr.ErrBadRequest, "invalid user ID")
	}
	u, err := s.users.FindByID(ctx, oid)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.ErrUnauthorized, "user not found")
		}
		return nil, s.internal(err, "profile lookup failed")
	}
	resp := models.NewUserResponse(u)
	return &resp, nil
}

func (s *Service) respond(u *models.User) (*AuthResponse, error) {
	token, err := s.tokens.Generate(u.ID.Hex(), u.Email)
	if err != nil {
		return nil, s.internal(err, "token signing failed")
	}
	return &AuthResponse{AccessToken: token, User: models.NewUserResponse(u)}, nil
}

func (s *Service) internal(err error, msg string) error {
	s.log.Errorw(msg, "error", err)
	return apperr.ErrInternal
}
