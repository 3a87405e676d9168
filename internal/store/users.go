package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken      = errors.New("email address is already registered")
	ErrInvalidEmail    = errors.New("email address is required")
	ErrInvalidPassword = errors.New("password is required")
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a user with a bcrypt hashed password. User ids are
// time based (v1) UUIDs.
func (r *Repository) CreateUser(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	if password == "" {
		return nil, ErrInvalidPassword
	}
	existing, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	u := &User{ID: id, Email: email, PasswordHash: string(hash)}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByCredentials returns nil without an error when the email is unknown
// or the password does not match.
func (r *Repository) GetUserByCredentials(ctx context.Context, email, password string) (*User, error) {
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return u, nil
}

// GetUserByAccessToken resolves the owner of a non-revoked access token. It
// does not look at expiry; the bearer gate in front of the caller does.
func (r *Repository) GetUserByAccessToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	var u User
	err := r.db.WithContext(ctx).Raw(`
		SELECT u.id, u.email, u.password_hash, u.created_at, u.updated_at
		FROM users u
		INNER JOIN oauth_tokens ot ON ot.user_id = u.id
		WHERE ot.access_token = ?
			AND ot.revoked = ?
		LIMIT 1`, token, false).Scan(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}
