package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ecovibe/ecovibe/internal/client"
	"github.com/ecovibe/ecovibe/internal/logger"
	"github.com/ecovibe/ecovibe/internal/session"
	"github.com/ecovibe/ecovibe/internal/store"
	"github.com/ecovibe/ecovibe/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL  = "http://localhost:5000/api"
	defaultTimeout = 30 * time.Second
)

type Globals struct {
	Debug      bool
	Version    string
	Config     string
	APIURL     string
	SessionDir string
	RedisURL   string

	// Stdout receives command output. Defaults to os.Stdout.
	Stdout io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// FileConfig is the optional YAML config file.
type FileConfig struct {
	APIURL       string        `yaml:"api_url"`
	SessionDir   string        `yaml:"session_dir"`
	RedisURL     string        `yaml:"redis_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultConfigPath returns ~/.ecovibe/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ecovibe", "config.yaml"), nil
}

// LoadFileConfig reads the config file at path. A missing file is only an
// error when the path was given explicitly.
func LoadFileConfig(path string, explicit bool) (FileConfig, error) {
	var cfg FileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// Settings are the effective values after merging flags, the config file
// and defaults, in that order of precedence.
type Settings struct {
	APIURL       string
	SessionDir   string
	RedisURL     string
	PollInterval time.Duration
	Timeout      time.Duration
}

func (g *Globals) Settings() (Settings, error) {
	path, explicit := g.Config, g.Config != ""
	if !explicit {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return Settings{}, err
		}
	}

	file, err := LoadFileConfig(path, explicit)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		APIURL:       firstNonEmpty(g.APIURL, file.APIURL, defaultAPIURL),
		SessionDir:   firstNonEmpty(g.SessionDir, file.SessionDir),
		RedisURL:     firstNonEmpty(g.RedisURL, file.RedisURL),
		PollInterval: file.PollInterval,
		Timeout:      file.Timeout,
	}
	if s.PollInterval <= 0 {
		s.PollInterval = session.DefaultPollInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}

	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// runtime bundles what every command needs to talk to the backend.
type runtime struct {
	settings Settings
	client   *client.Client
	manager  *session.Manager
	shutdown telemetry.ShutdownFunc

	// dir is the per-backend local directory, also home to the HTTP cache
	dir     string
	closers []io.Closer
}

func (r *runtime) Close() {
	if err := r.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close session manager")
	}

	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown telemetry")
	}
}

// httpCacheDir holds responses cached by 'api --cache'.
func (r *runtime) httpCacheDir() string {
	return filepath.Join(r.dir, "http-cache")
}

// clearHTTPCache drops every cached response. Signed-out state starts with
// an empty cache.
func (r *runtime) clearHTTPCache() {
	if err := client.ClearCache(r.httpCacheDir()); err != nil {
		log.Warn().Err(err).Str("dir", r.httpCacheDir()).Msg("failed to clear http cache")
	}
}

// newRuntime configures logging and telemetry, then builds a session
// manager over the configured store for the backend. onChange may be nil.
func newRuntime(ctx context.Context, globals *Globals, onChange func(session.Snapshot)) (*runtime, error) {
	log.Logger = logger.Setup(globals.Debug)

	settings, err := globals.Settings()
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.InitTelemetry(ctx, "ecovibe-cli", globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without it")
		shutdown = func(context.Context) error { return nil }
	}

	api := client.New(client.Config{
		BaseURL:   settings.APIURL,
		Timeout:   settings.Timeout,
		UserAgent: "ecovibe-cli/" + globals.Version,
		Transport: logger.NewHTTPRequests(log.Logger, nil),
	})

	dir, err := store.SessionDir(settings.SessionDir, settings.APIURL)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	sessions, closer, err := openStore(settings)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	rt := &runtime{settings: settings, client: api, shutdown: shutdown, dir: dir}
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	manager, err := session.New(session.Config{
		Backend: api,
		Store:   sessions,
		Navigator: session.NavigatorFunc(func(route session.Route) {
			log.Debug().Str("route", string(route)).Msg("navigate")
		}),
		OnChange:     onChange,
		PollInterval: settings.PollInterval,
	})
	if err != nil {
		for _, c := range rt.closers {
			_ = c.Close()
		}
		_ = shutdown(ctx)
		return nil, err
	}
	rt.manager = manager

	return rt, nil
}

// openStore picks the Redis store when a Redis URL is configured and the
// per-backend session file otherwise. The returned closer may be nil.
func openStore(settings Settings) (store.Store, io.Closer, error) {
	if settings.RedisURL == "" {
		sessions, err := store.NewFileStore(settings.SessionDir, settings.APIURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
		return sessions, nil, nil
	}

	opts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("using redis session store")

	return store.NewRedisStore(rdb, settings.APIURL), rdb, nil
}

// hydrated builds the runtime and restores the stored session.
func hydrated(ctx context.Context, globals *Globals, onChange func(session.Snapshot)) (*runtime, session.Snapshot, error) {
	rt, err := newRuntime(ctx, globals, onChange)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	return rt, rt.manager.Hydrate(ctx), nil
}

var errNotLoggedIn = errors.New("not logged in\n\nRun 'ecovibe-cli login --email <email>' to sign in")
