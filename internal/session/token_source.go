package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// AccessTokenExpiry reads the exp claim of a JWT access token without
// verifying it. Opaque tokens and tokens without exp return the zero time.
func AccessTokenExpiry(accessToken string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Token returns the current access token as an oauth2 token.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil || m.accessToken == "" {
		return nil, ErrNotAuthenticated
	}

	return &oauth2.Token{
		AccessToken:  m.accessToken,
		TokenType:    "Bearer",
		RefreshToken: m.refreshToken,
		Expiry:       AccessTokenExpiry(m.accessToken),
	}, nil
}

// TokenSource returns an oauth2.TokenSource that refreshes the session
// before handing out an access token that is known to be expired.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.m.Token()
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}

	if _, err := s.m.Refresh(s.ctx); err != nil {
		return nil, err
	}

	return s.m.Token()
}

// HTTPClient returns a client for API-calling consumers. Requests carry the
// current bearer token; a 401 triggers one silent refresh and a replay.
// base may be nil to use http.DefaultTransport.
func (m *Manager) HTTPClient(ctx context.Context, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &refreshingTransport{
			m: m,
			next: &oauth2.Transport{
				Source: m.TokenSource(ctx),
				Base:   base,
			},
		},
	}
}

type refreshingTransport struct {
	m    *Manager
	next http.RoundTripper
}

func (t *refreshingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// A request body that can't be rewound can't be replayed.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	if _, err := t.m.Refresh(req.Context()); err != nil {
		if !errors.Is(err, ErrSessionExpired) {
			t.m.logger.Warn().Err(err).Msg("silent refresh after 401 failed")
		}
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	resp.Body.Close()

	return t.next.RoundTrip(retry)
}
