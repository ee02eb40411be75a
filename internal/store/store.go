package store

import (
	"context"
	"errors"
)

// Errors
var (
	ErrNotFound = errors.New("session key not found")
)

// Key names one of the persisted session slots.
type Key string

const (
	KeyUser         Key = "user"
	KeyAccessToken  Key = "accessToken"
	KeyRefreshToken Key = "refreshToken"
)

// SessionKeys lists every slot the session manager owns.
var SessionKeys = []Key{KeyUser, KeyAccessToken, KeyRefreshToken}

// Store is durable client-side key/value storage for the session record.
//
// Any number of readers may share a store. Only the session manager writes
// the session keys.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(key Key) (string, error)

	// Put writes all values in a single update so readers never observe a
	// partially written session.
	Put(values map[Key]string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(keys ...Key) error

	// Changes returns a channel that receives a value whenever the stored
	// record may have changed. The channel is closed when ctx is done.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// notify performs a non-blocking send so a slow reader only ever has one
// pending signal.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
