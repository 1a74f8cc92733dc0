// Package api implements the REST client for the PetsPhoto backend.
// All methods are thin typed wrappers over the versioned HTTP surface;
// no retries are attempted beyond what the caller orchestrates.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 60 * time.Second
)

var (
	ErrBaseURLRequired    = errors.New("base URL is required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("authentication required")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("resource already exists")
	ErrValidation         = errors.New("request rejected by server")
	ErrServer             = errors.New("server error")
)

// TokenSource supplies a valid bearer credential for resource requests.
// The session manager is the only implementation in this program; the
// raw token never appears outside it except as the opaque header value
// attached here.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// apiError is the backend's error envelope.
type apiError struct {
	Detail string `json:"detail"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Tokens  TokenSource
	Logger  zerolog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        zerolog.Logger
}

func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     cfg.Tokens,
		log:        cfg.Logger,
	}, nil
}

// SetTokenSource wires the session manager in after construction. The
// client and the manager reference each other, so one side has to be
// attached late.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

func (c *Client) url(path string) string {
	return c.baseURL + apiPrefix + path
}

// doJSON issues a request with a JSON body (nil for none) and decodes a
// JSON response into out (nil to discard). An explicit bearer overrides
// the token source; authed selects whether a credential is attached.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any, authed bool, bearer string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		if err := c.authorize(ctx, req, bearer); err != nil {
			return err
		}
	}

	return c.send(req, out)
}

func (c *Client) authorize(ctx context.Context, req *http.Request, bearer string) error {
	token := bearer
	if token == "" {
		if c.tokens == nil {
			return ErrUnauthorized
		}
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) send(req *http.Request, out any) error {
	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("api request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Int("bytes", len(respBody)).Msg("api response")

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// checkStatus maps non-2xx responses onto the client's error taxonomy,
// carrying the backend's detail message when one is present.
func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := ""
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil {
		detail = ae.Detail
	}

	var base error
	switch {
	case status == http.StatusUnauthorized:
		base = ErrUnauthorized
	case status == http.StatusNotFound:
		base = ErrNotFound
	case status == http.StatusConflict:
		base = ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		base = ErrValidation
	case status >= 500:
		base = ErrServer
	default:
		base = ErrServer
	}

	if detail == "" {
		return fmt.Errorf("%w: status %d", base, status)
	}
	return fmt.Errorf("%w: %s", base, detail)
}
