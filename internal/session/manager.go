package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ecovibe/ecovibe/internal/client"
	"github.com/ecovibe/ecovibe/internal/models"
	"github.com/ecovibe/ecovibe/internal/store"
	"github.com/ecovibe/ecovibe/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors
var (
	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is returned when the backend refused to refresh the session.
	ErrSessionExpired = errors.New("session expired")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("session manager closed")
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultDebounce     = 100 * time.Millisecond
)

// Backend is the identity backend the manager depends on.
type Backend interface {
	Login(ctx context.Context, creds client.Credentials) (*client.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*models.User, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Config wires a Manager to its collaborators.
type Config struct {
	Backend Backend
	Store   store.Store

	// Navigator is told where to go after login, logout and expiry. Optional.
	Navigator Navigator

	// OnChange is called with the new snapshot after every state change. Optional.
	OnChange func(Snapshot)

	// PollInterval is how often storage is re-read. Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Debounce collapses sync triggers arriving within this window into one
	// reconciliation. Defaults to DefaultDebounce.
	Debounce time.Duration
}

// Manager is the single owner of the authenticated session: identity,
// tokens and the persisted copy of both.
type Manager struct {
	id     uuid.UUID
	logger zerolog.Logger

	backend      Backend
	store        store.Store
	navigator    Navigator
	onChange     func(Snapshot)
	pollInterval time.Duration
	debounce     time.Duration

	mu               sync.RWMutex
	user             *models.User
	accessToken      string
	refreshToken     string
	hydrating        bool
	hydrationStarted bool
	closed           bool

	// generation is bumped on every state replacement. Async work captures
	// it before suspending and only applies its result if it is unchanged.
	generation uint64

	hydrateOnce sync.Once
	resyncGroup singleflight.Group

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session manager. Call Hydrate before making route decisions
// and Close when the application exits.
func New(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session backend is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	id := uuid.New()

	return &Manager{
		id:           id,
		logger:       log.With().Str("session_manager", id.String()).Logger(),
		backend:      cfg.Backend,
		store:        cfg.Store,
		navigator:    cfg.Navigator,
		onChange:     cfg.OnChange,
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
	}, nil
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		User:         m.user.Clone(),
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		Hydrating:    m.hydrating,
	}

	switch {
	case m.hydrating:
		snap.State = StateHydrating
	case m.user != nil:
		snap.State = StateAuthenticated
	case !m.hydrationStarted:
		snap.State = StateUninitialized
	default:
		snap.State = StateAnonymous
	}

	return snap
}

// Hydrate restores a previously persisted session. It runs once; later
// calls return the current snapshot without touching storage or the
// network. Failures end in an anonymous session, never an error.
func (m *Manager) Hydrate(ctx context.Context) Snapshot {
	m.hydrateOnce.Do(func() {
		m.hydrate(ctx)
	})
	return m.Snapshot()
}

func (m *Manager) hydrate(ctx context.Context) {
	ctx, span := telemetry.Tracer().Start(ctx, "session.Hydrate")
	defer span.End()

	m.mu.Lock()
	m.hydrating = true
	m.hydrationStarted = true
	gen := m.generation
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.emit(snap)

	outcome := m.restore(ctx, gen)

	m.mu.Lock()
	m.hydrating = false
	snap = m.snapshotLocked()
	m.mu.Unlock()
	m.emit(snap)

	telemetry.Record(ctx, telemetry.GetMetrics().HydrationsTotal, outcome)
	m.logger.Debug().Str("outcome", outcome).Str("state", snap.State.String()).Msg("hydration finished")
}

// restore loads the persisted record and applies it if gen is still current.
func (m *Manager) restore(ctx context.Context, gen uint64) string {
	access := m.read(store.KeyAccessToken)
	refresh := m.read(store.KeyRefreshToken)

	if access == "" || refresh == "" {
		// A user record without both tokens can't be used.
		m.invalidate(gen, "no persisted token pair")
		return telemetry.OutcomeAnonymous
	}

	if user := m.readUser(); user != nil {
		if !m.apply(gen, user, access, refresh) {
			return telemetry.OutcomeDiscarded
		}
		return telemetry.OutcomeRestored
	}

	user, err := m.backend.CurrentUser(ctx, access)
	if err != nil {
		m.logger.Warn().Err(err).Msg("identity lookup failed during hydration, clearing session")
		m.invalidate(gen, "identity lookup failed")
		return telemetry.OutcomeFailure
	}

	if !m.applyAndPersistUser(gen, user, access, refresh) {
		return telemetry.OutcomeDiscarded
	}

	return telemetry.OutcomeLookedUp
}

// apply sets the in-memory session without writing storage.
func (m *Manager) apply(gen uint64, user *models.User, access, refresh string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.generation {
		return false
	}

	m.setLocked(user, access, refresh)
	return true
}

func (m *Manager) applyAndPersistUser(gen uint64, user *models.User, access, refresh string) bool {
	data, err := json.Marshal(user)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to encode user record")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.generation {
		return false
	}

	if err := m.store.Put(map[store.Key]string{store.KeyUser: string(data)}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist user record")
	}

	m.setLocked(user, access, refresh)
	return true
}

// invalidate clears memory and storage unless a fresher operation has
// already replaced the session.
func (m *Manager) invalidate(gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.generation {
		return
	}

	if err := m.store.Delete(store.SessionKeys...); err != nil {
		m.logger.Warn().Err(err).Str("reason", reason).Msg("failed to clear persisted session")
	}

	m.setLocked(nil, "", "")
}

// Establish performs the login state transition: authenticate against the
// backend, then replace and persist the whole session. It makes no
// navigation decision.
func (m *Manager) Establish(ctx context.Context, creds client.Credentials) (Snapshot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "session.Establish")
	defer span.End()

	metrics := telemetry.GetMetrics()

	result, err := m.backend.Login(ctx, creds)
	if err != nil {
		telemetry.Record(ctx, metrics.LoginsTotal, telemetry.OutcomeFailure)
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("login failed: %w", err)
	}

	if result.User == nil || result.AccessToken == "" || result.RefreshToken == "" {
		telemetry.Record(ctx, metrics.LoginsTotal, telemetry.OutcomeFailure)
		return Snapshot{}, fmt.Errorf("login failed: incomplete session from backend")
	}

	data, err := json.Marshal(result.User)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode user record: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}

	err = m.store.Put(map[store.Key]string{
		store.KeyUser:         string(data),
		store.KeyAccessToken:  result.AccessToken,
		store.KeyRefreshToken: result.RefreshToken,
	})
	if err != nil {
		m.mu.Unlock()
		telemetry.Record(ctx, metrics.LoginsTotal, telemetry.OutcomeFailure)
		return Snapshot{}, fmt.Errorf("failed to persist session: %w", err)
	}

	m.setLocked(result.User, result.AccessToken, result.RefreshToken)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	telemetry.Record(ctx, metrics.LoginsTotal, telemetry.OutcomeSuccess)

	m.logger.Info().
		Str("user_id", snap.User.ID).
		Str("role", string(snap.User.Role)).
		Str("account_status", string(snap.User.AccountStatus)).
		Msg("logged in")

	return snap, nil
}

// Login establishes a session and navigates to the landing route for the
// user's account status. On failure nothing changes and the error is
// returned for display.
func (m *Manager) Login(ctx context.Context, creds client.Credentials) (Route, error) {
	snap, err := m.Establish(ctx, creds)
	if err != nil {
		return "", err
	}

	route := LandingRoute(snap.User)
	m.navigate(route)

	return route, nil
}

// Logout invalidates the refresh token server-side when possible, then
// always clears the local session and navigates to the login page.
func (m *Manager) Logout(ctx context.Context) Route {
	ctx, span := telemetry.Tracer().Start(ctx, "session.Logout")
	defer span.End()

	metrics := telemetry.GetMetrics()

	m.mu.RLock()
	refresh := m.refreshToken
	m.mu.RUnlock()

	if refresh != "" {
		if err := m.backend.Logout(ctx, refresh); err != nil {
			telemetry.Record(ctx, metrics.LogoutInvalidationFails, telemetry.OutcomeFailure)
			m.logger.Warn().Err(err).Msg("server-side logout failed, signing out locally")
		}
	}

	m.mu.Lock()
	if err := m.store.Delete(store.SessionKeys...); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear persisted session")
	}
	m.setLocked(nil, "", "")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	telemetry.Record(ctx, metrics.LogoutsTotal, telemetry.OutcomeSuccess)
	m.logger.Info().Msg("logged out")

	m.navigate(RouteLogin)
	return RouteLogin
}

// Refresh obtains a new access token with the refresh token and replaces
// only the access token. If the backend rejects the refresh token the
// session is destroyed and ErrSessionExpired is returned.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "session.Refresh")
	defer span.End()

	metrics := telemetry.GetMetrics()

	m.mu.RLock()
	refresh := m.refreshToken
	gen := m.generation
	m.mu.RUnlock()

	if refresh == "" {
		return "", ErrNotAuthenticated
	}

	access, err := m.backend.Refresh(ctx, refresh)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			telemetry.Record(ctx, metrics.RefreshesTotal, telemetry.OutcomeExpired)
			m.logger.Info().Err(err).Msg("refresh token rejected, ending session")
			m.expire(gen)
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}

		telemetry.Record(ctx, metrics.RefreshesTotal, telemetry.OutcomeFailure)
		return "", fmt.Errorf("refresh failed: %w", err)
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		// Something fresher replaced the session while we were waiting.
		current := m.accessToken
		m.mu.Unlock()
		telemetry.Record(ctx, metrics.RefreshesTotal, telemetry.OutcomeDiscarded)
		if current == "" {
			return "", ErrNotAuthenticated
		}
		return current, nil
	}

	if err := m.store.Put(map[store.Key]string{store.KeyAccessToken: access}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist refreshed access token")
	}
	m.accessToken = access
	m.generation++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	telemetry.Record(ctx, metrics.RefreshesTotal, telemetry.OutcomeSuccess)
	m.logger.Debug().Msg("access token refreshed")

	return access, nil
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}

	if err := m.store.Delete(store.SessionKeys...); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear persisted session")
	}
	m.setLocked(nil, "", "")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	m.navigate(RouteLogin)
}

// setLocked replaces the whole in-memory session. Caller holds mu.
func (m *Manager) setLocked(user *models.User, access, refresh string) {
	m.user = user.Clone()
	m.accessToken = access
	m.refreshToken = refresh
	m.generation++
}

// read returns the stored value for key, or "" if it is missing or
// unreadable.
func (m *Manager) read(key store.Key) string {
	value, err := m.store.Get(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn().Err(err).Str("key", string(key)).Msg("failed to read persisted session")
		}
		return ""
	}
	return value
}

// readUser decodes the persisted user record. A corrupt record is treated
// as missing.
func (m *Manager) readUser() *models.User {
	raw := m.read(store.KeyUser)
	if raw == "" {
		return nil
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.Warn().Err(err).Msg("persisted user record is corrupt, ignoring")
		return nil
	}

	return &user
}

func (m *Manager) emit(snap Snapshot) {
	if m.onChange != nil {
		m.onChange(snap)
	}
}

func (m *Manager) navigate(route Route) {
	if m.navigator != nil {
		m.navigator.Navigate(route)
	}
}
