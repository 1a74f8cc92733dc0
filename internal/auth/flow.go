package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

var (
	ErrCallbackTimeout = errors.New("timed out waiting for provider callback")
	ErrStateMismatch   = errors.New("provider returned an unexpected state value")
	ErrProviderDenied  = errors.New("provider reported an authorization error")
	ErrFlowNotStarted  = errors.New("provider login has not been started")
)

// ProviderFlow runs a federated login as an explicit two-phase
// protocol. Begin hands back the authorization URL and returns
// immediately; Complete waits (bounded) for the provider to redirect
// the browser to the local callback, then finalizes the session.
type ProviderFlow struct {
	oauth       *oauth2.Config
	manager     *Manager
	api         Backend
	listenAddr  string
	waitTimeout time.Duration
	log         zerolog.Logger

	state    string
	listener net.Listener
	server   *http.Server
	results  chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

type ProviderFlowConfig struct {
	AuthURL     string
	TokenURL    string
	ClientID    string
	ListenAddr  string
	WaitTimeout time.Duration
	Logger      zerolog.Logger
}

func NewProviderFlow(cfg *ProviderFlowConfig, manager *Manager, api Backend) *ProviderFlow {
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 3 * time.Minute
	}

	return &ProviderFlow{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: "http://" + cfg.ListenAddr + "/callback",
			Scopes:      []string{"openid", "email", "profile"},
		},
		manager:     manager,
		api:         api,
		listenAddr:  cfg.ListenAddr,
		waitTimeout: waitTimeout,
		log:         cfg.Logger,
	}
}

// Begin starts the local callback listener and returns the provider
// authorization URL for the user's browser. No session state changes
// until Complete observes the callback.
func (f *ProviderFlow) Begin() (string, error) {
	ln, err := net.Listen("tcp", f.listenAddr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for provider callback: %w", err)
	}

	f.state = uuid.New().String()
	f.listener = ln
	f.results = make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", f.handleCallback)
	f.server = &http.Server{Handler: mux}

	go func() {
		if err := f.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Debug().Err(err).Msg("callback server stopped")
		}
	}()

	return f.oauth.AuthCodeURL(f.state, oauth2.AccessTypeOffline), nil
}

func (f *ProviderFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var result callbackResult
	switch {
	case q.Get("error") != "":
		result.err = fmt.Errorf("%w: %s", ErrProviderDenied, q.Get("error"))
	case q.Get("state") != f.state:
		result.err = ErrStateMismatch
	default:
		result.code = q.Get("code")
	}

	if result.err != nil {
		http.Error(w, "Login failed. You can close this window and return to the terminal.", http.StatusBadRequest)
	} else {
		fmt.Fprintln(w, "Login complete. You can close this window and return to the terminal.")
	}

	select {
	case f.results <- result:
	default:
	}
}

// Complete waits for the callback, exchanges the authorization code and
// finalizes the backend session. The wait is bounded; timeout or a
// state mismatch surfaces as an explicit error so the caller can fall
// back to the login prompt.
func (f *ProviderFlow) Complete(ctx context.Context) (*models.User, error) {
	if f.server == nil {
		return nil, ErrFlowNotStarted
	}
	defer f.shutdown()

	var result callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.waitTimeout):
		return nil, ErrCallbackTimeout
	case result = <-f.results:
	}
	if result.err != nil {
		return nil, result.err
	}

	token, err := f.oauth.Exchange(ctx, result.code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return f.finalize(ctx, token)
}

// finalize reconciles the provider identity with the backend and adopts
// the resulting session.
func (f *ProviderFlow) finalize(ctx context.Context, token *oauth2.Token) (*models.User, error) {
	sub, email := providerClaims(token.AccessToken)
	if email == "" {
		return nil, fmt.Errorf("provider token carries no email claim")
	}

	req := &models.SyncUserRequest{
		ProviderUserID: sub,
		Email:          email,
		Username:       strings.SplitN(email, "@", 2)[0],
	}

	user, err := f.api.SyncUser(ctx, token.AccessToken, req)
	if err != nil {
		return nil, fmt.Errorf("failed to sync provider identity: %w", err)
	}

	sess := &store.StoredSession{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    tokenExpiry(token.AccessToken),
		User:         *user,
	}
	if sess.ExpiresAt.IsZero() && !token.Expiry.IsZero() {
		sess.ExpiresAt = token.Expiry
	}

	f.manager.mu.Lock()
	f.manager.session = sess
	f.manager.state = StateAuthenticated
	f.manager.mu.Unlock()

	if err := f.manager.store.SaveCredentials(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	f.log.Debug().Str("email", user.Email).Msg("provider login finalized")
	return user, nil
}

func (f *ProviderFlow) shutdown() {
	if f.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.server.Shutdown(ctx)
	}
}

// providerClaims pulls the subject and email out of a provider-issued
// JWT without verification; the backend re-validates the token on
// sync-user anyway.
func providerClaims(token string) (sub, email string) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", ""
	}
	sub, _ = claims["sub"].(string)
	email, _ = claims["email"].(string)
	return sub, email
}
