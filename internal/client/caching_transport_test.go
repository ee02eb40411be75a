package client

import (
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCachingTransport(t *testing.T) {
	tests := []struct {
		name     string
		cacheDir func(t *testing.T) string
	}{
		{"memory", func(*testing.T) string { return "" }},
		{"disk", func(t *testing.T) string { return t.TempDir() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Cache-Control", "max-age=60")
				_, _ = w.Write([]byte(`[{"id":"p-1"}]`))
			}))
			defer srv.Close()

			httpClient := &http.Client{Transport: NewCachingTransport(tt.cacheDir(t), nil)}

			get := func() *http.Response {
				resp, err := httpClient.Get(srv.URL + "/projects")
				require.NoError(t, err)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, `[{"id":"p-1"}]`, string(body))
				return resp
			}

			assert.False(t, FromCache(get()))
			assert.True(t, FromCache(get()))
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestNewCachingTransport_NoStore(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	httpClient := &http.Client{Transport: NewCachingTransport("", nil)}
	for i := 0; i < 2; i++ {
		resp, err := httpClient.Get(srv.URL + "/auth/me")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.False(t, FromCache(resp))
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestCachingTransport_PartitionsByCredential(t *testing.T) {
	tests := []struct {
		name     string
		cacheDir func(t *testing.T) string
	}{
		{"memory", func(*testing.T) string { return "" }},
		{"disk", func(t *testing.T) string { return t.TempDir() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Cache-Control", "max-age=600")
				_, _ = w.Write([]byte("projects for " + r.Header.Get("Authorization")))
			}))
			defer srv.Close()

			httpClient := &http.Client{Transport: NewCachingTransport(tt.cacheDir(t), nil)}

			get := func(authorization string) (string, bool) {
				req, err := http.NewRequest(http.MethodGet, srv.URL+"/projects", nil)
				require.NoError(t, err)
				if authorization != "" {
					req.Header.Set("Authorization", authorization)
				}
				resp, err := httpClient.Do(req)
				require.NoError(t, err)
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				return string(body), FromCache(resp)
			}

			body, cached := get("Bearer alice-token")
			assert.Equal(t, "projects for Bearer alice-token", body)
			assert.False(t, cached)

			body, cached = get("Bearer bob-token")
			assert.Equal(t, "projects for Bearer bob-token", body)
			assert.False(t, cached)

			body, cached = get("")
			assert.Equal(t, "projects for ", body)
			assert.False(t, cached)

			body, cached = get("Bearer alice-token")
			assert.Equal(t, "projects for Bearer alice-token", body)
			assert.True(t, cached)

			assert.Equal(t, int32(3), hits.Load())
		})
	}
}

func TestCachingTransport_NoCredentialOnDisk(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/projects", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice-token")

	resp, err := (&http.Client{Transport: NewCachingTransport(dir, nil)}).Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		assert.NotContains(t, path, "alice-token")
		return nil
	})
	require.NoError(t, err)
}

func TestClearCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "http-cache")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partition"), 0700))

	require.NoError(t, ClearCache(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ClearCache(dir))
	require.NoError(t, ClearCache(""))
}
