// Package token implements the Token Cache (C7): acquiring and refreshing
// Azure OAuth2 client-credentials tokens for the Sink Client.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/metrics"
	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

// expiryMargin is subtracted from the server's expires_in so a token is
// proactively refreshed before it is rejected by the sink.
const expiryMargin = 60 * time.Second

// Cache serves an OAuth2 access token, refreshing it on miss or expiry.
// Concurrent callers during a refresh coalesce onto the single in-flight
// request rather than each dialing the token endpoint.
type Cache struct {
	conf *clientcredentials.Config

	mu        sync.Mutex
	token     *oauth2.Token
	expiresAt time.Time
	inflight  *tokenFuture
}

// tokenFuture represents a refresh already underway; callers that arrive
// while one is in flight wait on its done channel instead of starting their
// own request.
type tokenFuture struct {
	done  chan struct{}
	token *oauth2.Token
	err   error
}

// New builds a Cache for the given tenant's client-credentials flow. scope
// is the ingestion audience scope (e.g. "https://monitor.azure.com/.default").
func New(tenantID, clientID, clientSecret, scope string) *Cache {
	return &Cache{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
			Scopes:       []string{scope},
		},
	}
}

// GetToken returns a valid access token and its expiry, refreshing it if
// necessary.
func (c *Cache) GetToken(ctx context.Context) (string, time.Time, error) {
	c.mu.Lock()
	if c.token != nil && time.Now().Before(c.expiresAt) {
		tok, exp := c.token.AccessToken, c.expiresAt
		c.mu.Unlock()
		return tok, exp, nil
	}

	if c.inflight != nil {
		future := c.inflight
		c.mu.Unlock()
		<-future.done
		if future.err != nil {
			return "", time.Time{}, future.err
		}
		return future.token.AccessToken, future.token.Expiry, nil
	}

	future := &tokenFuture{done: make(chan struct{})}
	c.inflight = future
	c.mu.Unlock()

	metrics.TokenRefreshesTotal.Inc()
	tok, err := c.conf.Token(ctx)
	if err == nil {
		tok.Expiry = tok.Expiry.Add(-expiryMargin)
		future.token = tok
	} else {
		future.err = engerrors.Wrap(engerrors.KindAuthentication, "client-credentials token request failed", err)
	}
	close(future.done)

	c.mu.Lock()
	if future.err == nil {
		c.token = future.token
		c.expiresAt = future.token.Expiry
	}
	c.inflight = nil
	c.mu.Unlock()

	if future.err != nil {
		return "", time.Time{}, future.err
	}
	return future.token.AccessToken, future.token.Expiry, nil
}

// Invalidate drops the cached token, forcing the next GetToken to refresh.
// The Sink Client calls this on a 401 before retrying once.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
	c.expiresAt = time.Time{}
}

// DiagnosticClaims parses (without verifying, since the issuer's signing key
// is not distributed to this service) the access token's claims for logging
// and troubleshooting only -- never for authorization decisions.
func DiagnosticClaims(accessToken string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("token: parse unverified claims: %w", err)
	}
	return claims, nil
}
