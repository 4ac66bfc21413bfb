package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer token attached to backend requests.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: Token returns ErrMissingToken when no token is available
//     and ErrTokenExpired when the current token is no longer usable.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a fixed credential, typically a
// service-role API key that does not expire.
type StaticToken string

// Token returns the static credential.
func (t StaticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

// Claims are the token claims the data-access layer cares about.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	AccountID string
	ExpiresAt time.Time
}

// sessionClaims maps the wire-format claims.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
}

// ParseClaims decodes the claims of an access token without verifying
// its signature. Signature verification is the backend's job; the
// client only reads identity and expiry.
func ParseClaims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	var sc sessionClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &sc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims := Claims{
		Subject:   sc.Subject,
		Email:     sc.Email,
		Role:      sc.Role,
		AccountID: sc.AccountID,
	}
	if sc.ExpiresAt != nil {
		claims.ExpiresAt = sc.ExpiresAt.Time
	}
	return claims, nil
}

// Expired reports whether the claims are past their expiry, with a
// small leeway so a token is not used right at the boundary.
func (c Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	const leeway = 10 * time.Second
	return !now.Add(leeway).Before(c.ExpiresAt)
}

// Session is a TokenProvider backed by a rotatable access token.
// An external sign-in/refresh flow calls SetToken after each refresh;
// readers get the current token until it expires.
type Session struct {
	mu     sync.RWMutex
	token  string
	claims Claims
	nowFn  func() time.Time
}

// NewSession creates a session from an initial access token.
func NewSession(token string) (*Session, error) {
	s := &Session{nowFn: time.Now}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return s, nil
}

// SetToken replaces the session token, e.g. after a refresh.
func (s *Session) SetToken(token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.claims = claims
	s.mu.Unlock()
	return nil
}

// Token returns the current access token, or ErrTokenExpired when the
// session needs a refresh.
func (s *Session) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", ErrMissingToken
	}
	if s.claims.Expired(s.nowFn()) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// Claims returns the current session claims.
func (s *Session) Claims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// AccountID returns the tenant scope of the signed-in user.
func (s *Session) AccountID() string {
	return s.Claims().AccountID
}

// Ensure both providers implement TokenProvider
var (
	_ TokenProvider = StaticToken("")
	_ TokenProvider = (*Session)(nil)
)
