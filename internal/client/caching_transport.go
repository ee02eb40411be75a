package client

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/mr-tron/base58"
)

const anonymousPartition = "anonymous"

var _ http.RoundTripper = (*CachingTransport)(nil)

// CachingTransport serves repeated GETs from a private cache honouring the
// backend's Cache-Control headers. Responses are partitioned by the request's
// Authorization header, so a response cached for one credential is never
// served to another.
//
// Identity calls (login, me, refresh) must never go through it.
type CachingTransport struct {
	dir  string
	next http.RoundTripper

	mu         sync.Mutex
	partitions map[string]*httpcache.Transport
}

// NewCachingTransport returns a caching transport rooted at cacheDir. With an
// empty cacheDir the cache lives in memory only. next may be nil.
func NewCachingTransport(cacheDir string, next http.RoundTripper) *CachingTransport {
	return &CachingTransport{
		dir:        cacheDir,
		next:       next,
		partitions: make(map[string]*httpcache.Transport),
	}
}

func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.partition(req.Header.Get("Authorization")).RoundTrip(req)
}

// partition returns the cache for credential, creating it on first use. The
// partition name is a hash so credentials never reach the disk.
func (t *CachingTransport) partition(credential string) *httpcache.Transport {
	name := anonymousPartition
	if credential != "" {
		hash := sha256.Sum256([]byte(credential))
		name = base58.Encode(hash[:])
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.partitions[name]; ok {
		return p
	}

	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if t.dir != "" {
		cache = diskcache.New(filepath.Join(t.dir, name))
	}

	p := httpcache.NewTransport(cache)
	p.Transport = t.next
	t.partitions[name] = p

	return p
}

// ClearCache removes every cached response under cacheDir. A missing
// directory is not an error.
func ClearCache(cacheDir string) error {
	if cacheDir == "" {
		return nil
	}
	if err := os.RemoveAll(cacheDir); err != nil {
		return fmt.Errorf("failed to clear http cache: %w", err)
	}
	return nil
}

// FromCache reports whether resp was served by a caching transport.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(httpcache.XFromCache) == "1"
}
