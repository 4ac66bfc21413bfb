package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, accountID string, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":        "user-1",
		"email":      "ops@example.com",
		"role":       "authenticated",
		"account_id": accountID,
	}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "acct-42", exp)

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims() error = %v", err)
	}

	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "ops@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.AccountID != "acct-42" {
		t.Errorf("AccountID = %q, want acct-42", claims.AccountID)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}
}

func TestParseClaims_Errors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrTokenMalformed},
		{"two segments", "aaaa.bbbb", ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClaims(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseClaims(%q) = %v, want %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestClaims_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"no expiry never expires", time.Time{}, false},
		{"well before expiry", now.Add(time.Hour), false},
		{"inside leeway window", now.Add(5 * time.Second), true},
		{"past expiry", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Claims{ExpiresAt: tt.expiresAt}
			if got := c.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_TokenLifecycle(t *testing.T) {
	initial := signedToken(t, "acct-42", time.Now().Add(time.Hour))
	s, err := NewSession(initial)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != initial {
		t.Error("Token() did not return initial token")
	}
	if s.AccountID() != "acct-42" {
		t.Errorf("AccountID() = %q, want acct-42", s.AccountID())
	}

	// Rotate to a new token for another account.
	rotated := signedToken(t, "acct-7", time.Now().Add(time.Hour))
	if err := s.SetToken(rotated); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}
	if s.AccountID() != "acct-7" {
		t.Errorf("AccountID() after rotation = %q, want acct-7", s.AccountID())
	}
}

func TestSession_ExpiredToken(t *testing.T) {
	expired := signedToken(t, "acct-42", time.Now().Add(-time.Minute))
	s, err := NewSession(expired)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	_, err = s.Token(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Token() = %v, want ErrTokenExpired", err)
	}
}

func TestSession_RejectsMalformedToken(t *testing.T) {
	if _, err := NewSession("garbage"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("NewSession() = %v, want ErrTokenMalformed", err)
	}
}

func TestStaticToken(t *testing.T) {
	got, err := StaticToken("service-role-key").Token(context.Background())
	if err != nil || got != "service-role-key" {
		t.Errorf("Token() = (%q, %v)", got, err)
	}

	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty StaticToken = %v, want ErrMissingToken", err)
	}
}
