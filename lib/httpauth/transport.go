package httpauth

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// TokenFunc is a function that returns a bearer token.
// It is called on every HTTP request, allowing for dynamic token refresh.
// Return an empty string to skip adding the Authorization header.
// Return an error if the token cannot be obtained.
type TokenFunc func() (string, error)

// AuthTransport is an http.RoundTripper that adds an Authorization header to
// requests against a remote directory or the local FHIR store. A failed
// token fetch that carries no syncerr kind yet is classified as
// syncerr.AuthRejected (an already-classified one is returned unchanged) so it reaches
// internal/fhirsource's retry path (and the update pass) with the same
// taxonomy an HTTP 401/403 response gets, instead of an unclassified
// transport error.
type AuthTransport struct {
	// Base is the underlying RoundTripper to use for actual HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// GetToken is called on every request to get the current bearer token.
	// If nil or returns empty string, no Authorization header is added.
	GetToken TokenFunc
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	reqClone := req.Clone(req.Context())

	if t.GetToken != nil {
		token, err := t.GetToken()
		if err != nil {
			if syncerr.KindOf(err) != "" {
				return nil, err
			}
			return nil, syncerr.New(syncerr.AuthRejected, fmt.Errorf("fetch bearer token: %w", err))
		}
		if token != "" {
			reqClone.Header.Set("Authorization", "Bearer "+token)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}

// NewAuthTransport creates a new AuthTransport with the given base transport and token function.
// If base is nil, http.DefaultTransport is used.
func NewAuthTransport(base http.RoundTripper, getToken TokenFunc) *AuthTransport {
	return &AuthTransport{
		Base:     base,
		GetToken: getToken,
	}
}

// NewHTTPClient creates an http.Client with auth support.
// The getToken function is called on every request to get the current bearer token.
func NewHTTPClient(getToken TokenFunc) *http.Client {
	return &http.Client{
		Transport: NewAuthTransport(nil, getToken),
	}
}

// TokenProvider manages token caching and automatic refresh.
// It is safe for concurrent use.
type TokenProvider struct {
	mu          sync.RWMutex
	token       string
	expiresAt   time.Time
	refreshFunc func() (token string, expiresIn time.Duration, err error)
	// refreshBuffer is subtracted from expiresAt to trigger refresh before actual expiry
	refreshBuffer time.Duration
}

// NewTokenProvider creates a new TokenProvider with the given refresh function.
// The refreshFunc is called when a token is needed and the current one is expired or about to expire.
// refreshBuffer specifies how long before expiry to trigger a refresh (default 30 seconds if zero).
func NewTokenProvider(refreshFunc func() (token string, expiresIn time.Duration, err error), refreshBuffer time.Duration) *TokenProvider {
	if refreshBuffer == 0 {
		refreshBuffer = 30 * time.Second
	}
	return &TokenProvider{
		refreshFunc:   refreshFunc,
		refreshBuffer: refreshBuffer,
	}
}

// GetToken returns a valid token, refreshing if necessary.
// This method is safe for concurrent use.
func (p *TokenProvider) GetToken() (string, error) {
	p.mu.RLock()
	if time.Now().Before(p.expiresAt.Add(-p.refreshBuffer)) {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	// Token expired or about to expire, refresh it
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(p.expiresAt.Add(-p.refreshBuffer)) {
		return p.token, nil
	}

	token, expiresIn, err := p.refreshFunc()
	if err != nil {
		// fetchOAuth2Token/fetchJWTAssertionToken already classify the
		// failure by HTTP status; pass a classified error through untouched.
		if syncerr.KindOf(err) != "" {
			return "", err
		}
		return "", syncerr.New(syncerr.AuthRejected, fmt.Errorf("refresh token: %w", err))
	}
	p.token = token
	p.expiresAt = time.Now().Add(expiresIn)
	return token, nil
}

// TokenFunc returns a TokenFunc that can be used with AuthTransport.
func (p *TokenProvider) TokenFunc() TokenFunc {
	return p.GetToken
}
