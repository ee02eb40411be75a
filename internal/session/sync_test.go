package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ecovibe/ecovibe/internal/client"
	"github.com/ecovibe/ecovibe/internal/models"
	"github.com/ecovibe/ecovibe/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTabs returns two managers sharing one store, both hydrated, with tab A
// logged in before tab B started.
func twoTabs(t *testing.T) (a, b *Manager, backend *fakeBackend, s *store.MemoryStore) {
	t.Helper()

	s = store.NewMemoryStore()
	backend = &fakeBackend{loginResult: loginResult(models.AccountStatusActive), refreshed: "access-2"}

	a, _ = newTestManager(t, backend, s)
	a.Hydrate(context.Background())
	_, err := a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	b, _ = newTestManager(t, backend, s)
	require.Equal(t, StateAuthenticated, b.Hydrate(context.Background()).State)

	return a, b, backend, s
}

func TestResync_AdoptsRotatedToken(t *testing.T) {
	a, b, _, _ := twoTabs(t)

	_, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", b.Snapshot().AccessToken)

	changed, err := b.Resync(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, a.Snapshot().AccessToken, b.Snapshot().AccessToken)
	assert.Equal(t, a.Snapshot().User, b.Snapshot().User)
}

func TestResync_Unchanged(t *testing.T) {
	_, b, _, _ := twoTabs(t)
	before := b.Snapshot()

	changed, err := b.Resync(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, b.Snapshot())
}

func TestResync_OtherTabLoggedOut(t *testing.T) {
	a, b, _, _ := twoTabs(t)

	a.Logout(context.Background())

	changed, err := b.Resync(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateAnonymous, b.Snapshot().State)
}

func TestResync_OtherTabLoggedIn(t *testing.T) {
	s := store.NewMemoryStore()
	backend := &fakeBackend{loginResult: loginResult(models.AccountStatusActive)}

	a, _ := newTestManager(t, backend, s)
	b, _ := newTestManager(t, backend, s)
	a.Hydrate(context.Background())
	b.Hydrate(context.Background())

	_, err := a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	changed, err := b.Resync(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	snap := b.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, "access-1", snap.AccessToken)
	assert.Equal(t, "refresh-1", snap.RefreshToken)
	assert.True(t, snap.IsAtLeastAdmin())
}

func TestResync_NeverWritesStorage(t *testing.T) {
	a, b, _, s := twoTabs(t)

	a.Logout(context.Background())
	_, err := b.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, s.Len())
}

func TestResync_SkippedBeforeHydration(t *testing.T) {
	s := store.NewMemoryStore()
	persist(t, s, testUser(models.AccountStatusActive), "access-1", "refresh-1")

	m, _ := newTestManager(t, &fakeBackend{}, s)

	changed, err := m.Resync(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StateUninitialized, m.Snapshot().State)
}

func TestResync_ConcurrentCallersConverge(t *testing.T) {
	a, b, _, _ := twoTabs(t)

	_, err := a.Refresh(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := b.Resync(context.Background())
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, "access-2", b.Snapshot().AccessToken)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Get(store.Key) (string, error) {
	return "", errors.New("permission denied")
}

func TestResync_StorageError(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{}, failingStore{store.NewMemoryStore()})
	m.Hydrate(context.Background())

	_, err := m.Resync(context.Background())
	assert.Error(t, err)
}

func TestStart_FollowsStoreChanges(t *testing.T) {
	s := store.NewMemoryStore()
	backend := &fakeBackend{loginResult: loginResult(models.AccountStatusActive), refreshed: "access-2"}

	a, _ := newTestManager(t, backend, s)
	a.Hydrate(context.Background())
	_, err := a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	// polling effectively disabled, only change notifications drive B
	b, err := New(Config{Backend: backend, Store: s, PollInterval: time.Hour, Debounce: 5 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	b.Hydrate(context.Background())
	require.NoError(t, b.Start(context.Background()))

	_, err = a.Refresh(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.Snapshot().AccessToken == "access-2"
	}, 2*time.Second, 5*time.Millisecond)

	a.Logout(context.Background())

	require.Eventually(t, func() bool {
		return b.Snapshot().State == StateAnonymous
	}, 2*time.Second, 5*time.Millisecond)
}

type noChangesStore struct {
	*store.MemoryStore
}

func (noChangesStore) Changes(context.Context) (<-chan struct{}, error) {
	return nil, errors.New("watch unsupported")
}

func TestStart_PollsWithoutChangeNotifications(t *testing.T) {
	s := noChangesStore{store.NewMemoryStore()}
	backend := &fakeBackend{loginResult: loginResult(models.AccountStatusActive), refreshed: "access-2"}

	a, _ := newTestManager(t, backend, s)
	a.Hydrate(context.Background())
	_, err := a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	b, err := New(Config{Backend: backend, Store: s, PollInterval: 10 * time.Millisecond, Debounce: time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	b.Hydrate(context.Background())
	require.NoError(t, b.Start(context.Background()))

	_, err = a.Refresh(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.Snapshot().AccessToken == "access-2"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStart_FileStoreAcrossProcesses(t *testing.T) {
	dir := t.TempDir()

	storeA, err := store.NewFileStore(dir, "http://localhost:5000/api")
	require.NoError(t, err)
	storeB, err := store.NewFileStore(dir, "http://localhost:5000/api")
	require.NoError(t, err)

	backend := &fakeBackend{loginResult: loginResult(models.AccountStatusActive), refreshed: "access-2"}

	a, _ := newTestManager(t, backend, storeA)
	a.Hydrate(context.Background())
	_, err = a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	b, err := New(Config{Backend: backend, Store: storeB, PollInterval: 50 * time.Millisecond, Debounce: 5 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, StateAuthenticated, b.Hydrate(context.Background()).State)
	require.NoError(t, b.Start(context.Background()))

	_, err = a.Refresh(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.Snapshot().AccessToken == "access-2"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{}, store.NewMemoryStore())
	m.Hydrate(context.Background())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestStart_RedisStoreAcrossMachines(t *testing.T) {
	mr := miniredis.RunT(t)
	newStore := func() *store.RedisStore {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return store.NewRedisStore(rdb, "http://localhost:5000/api")
	}

	backend := &fakeBackend{loginResult: loginResult(models.AccountStatusActive), refreshed: "access-2"}

	a, _ := newTestManager(t, backend, newStore())
	a.Hydrate(context.Background())

	// polling effectively disabled, only pub/sub drives B
	b, err := New(Config{Backend: backend, Store: newStore(), PollInterval: time.Hour, Debounce: 5 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, StateAnonymous, b.Hydrate(context.Background()).State)
	require.NoError(t, b.Start(context.Background()))

	_, err = a.Login(context.Background(), client.Credentials{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.Snapshot().State == StateAuthenticated
	}, 2*time.Second, 5*time.Millisecond)

	_, err = a.Refresh(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.Snapshot().AccessToken == "access-2"
	}, 2*time.Second, 5*time.Millisecond)
}
