package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidInput = errors.New("invalid input")

// validate is shared by all request types; validator instances are
// safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// User is the identity snapshot returned alongside every token payload.
type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Credits     int        `json:"credits"`
	IsActive    bool       `json:"is_active,omitempty"`
	IsVerified  bool       `json:"is_verified,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// TokenResponse is the payload shape shared by register, login and
// refresh: a fresh token pair plus the current identity snapshot.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Username string `json:"username,omitempty" validate:"omitempty,min=3,max=32"`
	FullName string `json:"full_name,omitempty" validate:"omitempty,max=100"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SyncUserRequest finalizes a provider-federated login: it reconciles the
// identity-provider account with the backend's user record.
type SyncUserRequest struct {
	ProviderUserID string `json:"supabase_user_id"`
	Email          string `json:"email" validate:"required,email"`
	Username       string `json:"username,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
}

// Validate rejects malformed credentials before any network call.
func (r *LoginRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (r *RegisterRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (r *SyncUserRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
