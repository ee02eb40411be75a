package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

const (
	sessionFileName = "session.json"

	// watchMaxTries bounds how often arming the directory watcher is retried
	// before Changes gives up.
	watchMaxTries = 5
)

var errCorruptFile = errors.New("failed to parse session file")

// sessionFile is the on-disk layout of the session record.
type sessionFile struct {
	Version int            `json:"version"`
	Values  map[Key]string `json:"values"`
}

// FileStore persists the session record as a JSON file shared by every
// client process pointed at the same backend.
type FileStore struct {
	dir string

	// serializes read-modify-write cycles within this process
	mu sync.Mutex
}

// Fingerprint returns the Base58-encoded SHA256 of the normalized API URL.
// Sessions for different backends never share a directory.
func Fingerprint(apiURL string) string {
	normalized := strings.TrimRight(strings.ToLower(strings.TrimSpace(apiURL)), "/")
	hash := sha256.Sum256([]byte(normalized))
	return base58.Encode(hash[:])
}

// SessionDir returns the directory holding the session record for apiURL.
// If baseDir is empty, uses ~/.ecovibe/sessions/
func SessionDir(baseDir, apiURL string) (string, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".ecovibe", "sessions")
	}

	return filepath.Join(baseDir, Fingerprint(apiURL)), nil
}

// NewFileStore creates a file store for apiURL under baseDir.
func NewFileStore(baseDir, apiURL string) (*FileStore, error) {
	dir, err := SessionDir(baseDir, apiURL)
	if err != nil {
		return nil, err
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("dir", dir).Str("apiURL", apiURL).Msg("session store initialized")

	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the session file.
func (s *FileStore) Dir() string {
	return s.dir
}

// Get returns the value stored for key.
func (s *FileStore) Get(key Key) (string, error) {
	f, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := f.Values[key]
	if !ok {
		return "", ErrNotFound
	}

	return value, nil
}

// Put merges values into the session file in a single atomic write. An
// unparsable file is replaced.
func (s *FileStore) Put(values map[Key]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if errors.Is(err, errCorruptFile) {
		log.Warn().Err(err).Str("dir", s.dir).Msg("replacing unreadable session file")
		f, err = newSessionFile(), nil
	}
	if err != nil {
		return err
	}

	for k, v := range values {
		f.Values[k] = v
	}

	return s.save(f)
}

// Delete removes keys from the session file. Missing keys are ignored. An
// unparsable file is removed along with whatever it held.
func (s *FileStore) Delete(keys ...Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if errors.Is(err, errCorruptFile) {
		log.Warn().Err(err).Str("dir", s.dir).Msg("removing unreadable session file")
		if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	removed := false
	for _, k := range keys {
		if _, ok := f.Values[k]; ok {
			delete(f.Values, k)
			removed = true
		}
	}

	if !removed {
		return nil
	}

	return s.save(f)
}

// Changes watches the session directory and signals on every write,
// rename or removal of the session file.
func (s *FileStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := backoff.Retry(ctx, s.armWatcher,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(watchMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("dir", s.dir).Dur("next_retry", next).Msg("failed to watch session directory, will retry")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to watch session directory: %w", err)
	}

	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != sessionFileName {
					continue
				}
				log.Debug().Str("op", event.Op.String()).Msg("session file changed")
				notify(ch)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("dir", s.dir).Msg("session watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (s *FileStore) armWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	// The directory may have been removed since the store was created.
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return watcher, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, sessionFileName)
}

func newSessionFile() *sessionFile {
	return &sessionFile{Version: 1, Values: make(map[Key]string)}
}

// load reads the session file. A missing file is an empty record.
func (s *FileStore) load() (*sessionFile, error) {
	f := newSessionFile()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorruptFile, err)
	}

	if f.Values == nil {
		f.Values = make(map[Key]string)
	}

	return f, nil
}

// save writes the session file atomically.
func (s *FileStore) save(f *sessionFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}

	// Write to a temp file unique to this writer first
	tmp, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, s.path()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}

	return nil
}
