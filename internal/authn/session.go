package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ordersync/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired means the refresh token itself was rejected. The
	// session is cleared and the operator has to sign in again; no request
	// in this process can succeed until then.
	ErrSessionExpired = errors.New("session expired, re-authentication required")
	ErrNoCredentials  = errors.New("no credentials configured")
)

type Credentials struct {
	AccessToken  string
	RefreshToken string
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session holds the bearer credentials shared by every outbound client.
// Refresh is single-flight: any number of requests failing with 401 at the
// same time funnel into one refresh call and all retry with its result.
type Session struct {
	refreshURL string
	client     *http.Client

	mu      sync.RWMutex
	creds   Credentials
	expired bool

	group singleflight.Group
}

func NewSession(refreshURL string, creds Credentials, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Session{
		refreshURL: refreshURL,
		creds:      creds,
		client:     &http.Client{Timeout: timeout},
	}
}

// AccessToken returns the current bearer token.
func (s *Session) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expired {
		return "", ErrSessionExpired
	}
	if s.creds.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return s.creds.AccessToken, nil
}

// ExpiresSoon reports whether the access token's exp claim is within the
// given window. The token is inspected, not verified; only the server holds
// the signing key.
func (s *Session) ExpiresSoon(window time.Duration) bool {
	s.mu.RLock()
	token := s.creds.AccessToken
	s.mu.RUnlock()
	if token == "" {
		return true
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < window
}

// Refresh exchanges the refresh token for new credentials and returns the
// new access token. Concurrent callers share one in-flight exchange. A
// rejected refresh clears the session: every queued caller gets
// ErrSessionExpired.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	token, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (s *Session) doRefresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	refreshToken := s.creds.RefreshToken
	expired := s.expired
	s.mu.RUnlock()

	if expired {
		return "", ErrSessionExpired
	}
	if refreshToken == "" {
		return "", ErrNoCredentials
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.clear()
		logger.L().Warn("refresh token rejected, session cleared")
		return "", ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("token refresh returned no access token")
	}

	s.mu.Lock()
	s.creds.AccessToken = out.AccessToken
	if out.RefreshToken != "" {
		s.creds.RefreshToken = out.RefreshToken
	}
	s.mu.Unlock()

	return out.AccessToken, nil
}

func (s *Session) clear() {
	s.mu.Lock()
	s.creds = Credentials{}
	s.expired = true
	s.mu.Unlock()
}
