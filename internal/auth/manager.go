// Package auth owns the client's single authentication session: it
// acquires, persists and refreshes credentials and is the only place
// raw token material lives. Everything else sees tokens as the opaque
// value returned by Token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

var (
	ErrNotAuthenticated = errors.New("not logged in")
	ErrSessionExpired   = errors.New("session expired, please log in again")
)

// autoRefreshInterval is the cadence of the background freshness check,
// independent of request activity.
const autoRefreshInterval = 10 * time.Minute

// State is the session lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Backend is the slice of the API client the session manager drives.
type Backend interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error)
	Register(ctx context.Context, req *models.RegisterRequest) (*models.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*models.User, error)
	SyncUser(ctx context.Context, accessToken string, req *models.SyncUserRequest) (*models.User, error)
}

// Manager maintains at most one session per client instance. It is
// constructed and owned by the application root and injected wherever a
// credential is needed; there is no package-level instance.
type Manager struct {
	api          Backend
	store        *store.Store
	log          zerolog.Logger
	now          func() time.Time
	refreshEvery time.Duration

	mu      sync.RWMutex
	state   State
	session *store.StoredSession

	// refresh is single-flight: the background timer and any number of
	// on-demand Token calls share one in-flight refresh instead of
	// racing and invalidating each other's tokens.
	group singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager(api Backend, st *store.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		api:          api,
		store:        st,
		log:          logger,
		now:          time.Now,
		refreshEvery: autoRefreshInterval,
		state:        StateUnauthenticated,
		stop:         make(chan struct{}),
	}
}

// Restore loads persisted credentials at startup. A missing or cleared
// store simply leaves the manager unauthenticated.
func (m *Manager) Restore(ctx context.Context) error {
	sess, err := m.store.LoadCredentials(ctx)
	if errors.Is(err, store.ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	m.mu.Lock()
	m.session = sess
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.log.Debug().Str("email", sess.User.Email).Msg("session restored")
	return nil
}

// Login exchanges credentials for a session. Failure leaves any
// existing state untouched.
func (m *Manager) Login(ctx context.Context, req *models.LoginRequest) (*models.User, error) {
	m.setState(StateAuthenticating)

	resp, err := m.api.Login(ctx, req)
	if err != nil {
		m.restoreIdleState()
		return nil, err
	}
	return m.adopt(ctx, resp)
}

// Register creates an account and, on success, behaves like Login.
func (m *Manager) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	m.setState(StateAuthenticating)

	resp, err := m.api.Register(ctx, req)
	if err != nil {
		m.restoreIdleState()
		return nil, err
	}
	return m.adopt(ctx, resp)
}

// Logout invalidates the server-side session when reachable and
// unconditionally clears local credential state. Calling it without a
// session is a no-op, so repeated logouts are safe.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()

	if sess != nil {
		if err := m.api.Logout(ctx, sess.AccessToken); err != nil {
			// Best effort: the local session is discarded regardless.
			m.log.Warn().Err(err).Msg("server-side logout failed")
		}
	}
	return m.clear(ctx)
}

// Token returns a valid bearer credential, refreshing first when the
// current one is expired or within the freshness margin of expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()

	if sess == nil {
		return "", ErrNotAuthenticated
	}
	if !needsRefresh(sess.ExpiresAt, m.now()) {
		return sess.AccessToken, nil
	}
	return m.refresh(ctx)
}

// RefreshUser re-fetches the identity and credit snapshot without
// touching credential validity.
func (m *Manager) RefreshUser(ctx context.Context) (*models.User, error) {
	token, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}

	user, err := m.api.Me(ctx, token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.session != nil {
		m.session.User = *user
		if err := m.store.SaveCredentials(ctx, m.session); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist user snapshot")
		}
	}
	m.mu.Unlock()

	return user, nil
}

// CurrentUser returns the cached identity snapshot.
func (m *Manager) CurrentUser() (models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return models.User{}, false
	}
	return m.session.User, true
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StartAutoRefresh launches the background freshness check. It stops
// when Close is called; the session can therefore be proactively
// refreshed even with no user action in between.
func (m *Manager) StartAutoRefresh() {
	go func() {
		ticker := time.NewTicker(m.refreshEvery)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.mu.RLock()
				sess := m.session
				m.mu.RUnlock()

				if sess == nil || !needsRefresh(sess.ExpiresAt, m.now()) {
					continue
				}
				if _, err := m.refresh(context.Background()); err != nil {
					// Silent to the user; the state transition to
					// unauthenticated has already happened.
					m.log.Debug().Err(err).Msg("background refresh failed")
				}
			}
		}
	}()
}

// Close tears down the background refresh loop.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// refresh performs a single-flight token refresh. Failure discards all
// local credential state: a refresh that the server rejects means the
// session is gone for good.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	token, err, _ := m.group.Do("refresh", func() (any, error) {
		m.mu.Lock()
		sess := m.session
		if sess == nil {
			m.mu.Unlock()
			return "", ErrNotAuthenticated
		}
		m.state = StateRefreshing
		refreshToken := sess.RefreshToken
		m.mu.Unlock()

		resp, err := m.api.Refresh(ctx, refreshToken)
		if err != nil {
			m.log.Debug().Err(err).Msg("token refresh rejected")
			if clearErr := m.clear(ctx); clearErr != nil {
				m.log.Warn().Err(clearErr).Msg("failed to clear stored credentials")
			}
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}

		if _, err := m.adopt(ctx, resp); err != nil {
			return "", err
		}
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// adopt installs a token payload as the current session and persists it.
func (m *Manager) adopt(ctx context.Context, resp *models.TokenResponse) (*models.User, error) {
	sess := &store.StoredSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    tokenExpiry(resp.AccessToken),
		User:         resp.User,
	}

	m.mu.Lock()
	m.session = sess
	m.state = StateAuthenticated
	m.mu.Unlock()

	if err := m.store.SaveCredentials(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.log.Debug().
		Str("email", sess.User.Email).
		Time("expires_at", sess.ExpiresAt).
		Msg("session established")
	return &sess.User, nil
}

// clear drops the in-memory session and the persisted credentials.
func (m *Manager) clear(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	return m.store.DeleteCredentials(ctx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// restoreIdleState returns to whichever idle state matches the session
// after a failed authentication attempt.
func (m *Manager) restoreIdleState() {
	m.mu.Lock()
	if m.session != nil {
		m.state = StateAuthenticated
	} else {
		m.state = StateUnauthenticated
	}
	m.mu.Unlock()
}
