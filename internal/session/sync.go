package session

import (
	"context"
	"errors"
	"time"

	"github.com/ecovibe/ecovibe/internal/store"
	"github.com/ecovibe/ecovibe/internal/telemetry"
)

// Resync reconciles memory with storage. If the persisted access token
// differs from the in-memory one, memory is updated to match: another
// client rotated the token, logged out, or logged in. Resync never writes
// storage and returns whether memory changed.
//
// Concurrent callers share a single read.
func (m *Manager) Resync(ctx context.Context) (bool, error) {
	v, err, _ := m.resyncGroup.Do("resync", func() (any, error) {
		return m.resync(ctx)
	})
	changed, _ := v.(bool)
	return changed, err
}

func (m *Manager) resync(ctx context.Context) (bool, error) {
	metrics := telemetry.GetMetrics()

	m.mu.RLock()
	if m.hydrating || !m.hydrationStarted || m.closed {
		m.mu.RUnlock()
		return false, nil
	}
	gen := m.generation
	current := m.accessToken
	m.mu.RUnlock()

	access, err := m.get(store.KeyAccessToken)
	if err != nil {
		return false, err
	}

	if access == current {
		telemetry.Record(ctx, metrics.ResyncsTotal, telemetry.OutcomeUnchanged)
		return false, nil
	}

	refresh, err := m.get(store.KeyRefreshToken)
	if err != nil {
		return false, err
	}
	user := m.readUser()

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		telemetry.Record(ctx, metrics.ResyncsTotal, telemetry.OutcomeDiscarded)
		return false, nil
	}

	changed := true
	switch {
	case access == "":
		m.logger.Info().Msg("session cleared by another client")
		m.setLocked(nil, "", "")

	case m.user != nil:
		m.logger.Debug().Msg("access token rotated by another client")
		if refresh == "" {
			refresh = m.refreshToken
		}
		if user == nil {
			user = m.user
		}
		m.setLocked(user, access, refresh)

	case user != nil && refresh != "":
		m.logger.Info().Str("user_id", user.ID).Msg("session established by another client")
		m.setLocked(user, access, refresh)

	default:
		// Storage holds a token without a usable session record.
		changed = false
	}

	snap := m.snapshotLocked()
	m.mu.Unlock()

	if !changed {
		telemetry.Record(ctx, metrics.ResyncsTotal, telemetry.OutcomeUnchanged)
		return false, nil
	}

	telemetry.Record(ctx, metrics.ResyncsTotal, telemetry.OutcomeChanged)
	m.emit(snap)

	return true, nil
}

// get is like read but surfaces errors other than ErrNotFound.
func (m *Manager) get(key store.Key) (string, error) {
	value, err := m.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return value, err
}

// Start runs the background sync: a poll every PollInterval plus the
// store's change notifications, debounced into single Resync calls. It
// returns once the loop is running; Close stops it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	changes, err := m.store.Changes(ctx)
	if err != nil {
		// Polling alone still converges, just more slowly.
		m.logger.Warn().Err(err).Msg("storage change notifications unavailable, polling only")
		changes = nil
	}

	m.wg.Add(1)
	go m.syncLoop(ctx, changes)

	m.logger.Debug().
		Dur("poll_interval", m.pollInterval).
		Bool("watching", changes != nil).
		Msg("session sync started")

	return nil
}

func (m *Manager) syncLoop(ctx context.Context, changes <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	// pending fires once the debounce window after the first trigger has passed
	var pending <-chan time.Time

	trigger := func() {
		if pending == nil {
			pending = time.After(m.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			trigger()

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			trigger()

		case <-pending:
			pending = nil
			if _, err := m.Resync(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("session resync failed")
			}
		}
	}
}

// Close stops the background sync and discards results of requests still
// in flight. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.logger.Debug().Msg("session manager closed")
	return nil
}
