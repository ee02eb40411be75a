package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ecovibe/ecovibe/internal/client"
	"github.com/ecovibe/ecovibe/internal/logger"
	"github.com/rs/zerolog/log"
)

// APICmd sends an authenticated request to the backend. An expired access
// token is refreshed once and the request replayed.
type APICmd struct {
	Method string `arg:"" help:"HTTP method" enum:"GET,POST,PUT,PATCH,DELETE,get,post,put,patch,delete"`
	Path   string `arg:"" help:"Path relative to the API base URL, e.g. /projects"`
	Data   string `help:"Request body (JSON)" short:"d"`
	Cache  bool   `help:"Serve repeated GETs from a local cache honouring Cache-Control"`
}

func (a *APICmd) Run(ctx context.Context, globals *Globals) error {
	rt, snap, err := hydrated(ctx, globals, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !snap.IsAuthenticated() {
		rt.clearHTTPCache()
		return errNotLoggedIn
	}

	var transport http.RoundTripper = logger.NewHTTPRequests(log.Logger, nil)
	if a.Cache {
		transport = client.NewCachingTransport(rt.httpCacheDir(), transport)
	}

	httpClient := rt.manager.HTTPClient(ctx, transport)
	httpClient.Timeout = rt.settings.Timeout

	body, err := rt.client.Do(ctx, httpClient, strings.ToUpper(a.Method), a.Path, []byte(a.Data))
	if len(body) > 0 {
		fmt.Fprintln(globals.out(), string(body))
	}
	return err
}
