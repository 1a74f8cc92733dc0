package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/petsphoto/pawgen/pkg/models"
)

// Register creates a new account. On success the backend logs the user
// in immediately and returns a full token payload.
func (c *Client) Register(ctx context.Context, req *models.RegisterRequest) (*models.TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp models.TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &resp, false, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges email and password for a token pair plus identity
// snapshot. A 401 here means the credentials were wrong, not that a
// session expired, so it is reported as ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp models.TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, &resp, false, ""); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w", ErrInvalidCredentials)
		}
		return nil, err
	}
	return &resp, nil
}

// Refresh trades a refresh token for a fresh token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	req := models.RefreshRequest{RefreshToken: refreshToken}

	var resp models.TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", &req, &resp, false, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout invalidates the server-side session for the given credential.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil, true, accessToken)
}

// Me fetches the current identity and credit snapshot.
func (c *Client) Me(ctx context.Context, accessToken string) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &user, true, accessToken); err != nil {
		return nil, err
	}
	return &user, nil
}

// SyncUser reconciles a federated identity with the backend's user
// record, finalizing a provider login.
func (c *Client) SyncUser(ctx context.Context, accessToken string, req *models.SyncUserRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var user models.User
	if err := c.doJSON(ctx, http.MethodPost, "/auth/sync-user", req, &user, true, accessToken); err != nil {
		return nil, err
	}
	return &user, nil
}
