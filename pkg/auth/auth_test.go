package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-signing-secret"

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	return signed
}

func hashKey(t *testing.T, key string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing key: %v", err)
	}

	return string(hash)
}

func TestBearerVerifierValid(t *testing.T) {
	v := NewBearerVerifier(testSecret)
	token := signToken(t, testSecret, "user-42", time.Now().Add(time.Hour))

	identity, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if identity.ID != "user-42" || identity.Method != "bearer" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestBearerVerifierRejects(t *testing.T) {
	v := NewBearerVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", "user-42", time.Now().Add(time.Hour))},
		{"expired", signToken(t, testSecret, "user-42", time.Now().Add(-time.Hour))},
		{"empty subject", signToken(t, testSecret, "", time.Now().Add(time.Hour))},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tt.token); err == nil {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestAPIKeyVerifier(t *testing.T) {
	v := NewAPIKeyVerifier([]config.APIKeyConfig{
		{ID: "ci", Name: "CI pipeline", KeyHash: hashKey(t, "sk-valid-key")},
	})

	identity, err := v.Verify(context.Background(), "sk-valid-key")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if identity.ID != "ci" || identity.Method != "api_key" {
		t.Errorf("unexpected identity: %+v", identity)
	}

	if _, err := v.Verify(context.Background(), "sk-wrong-key"); err == nil {
		t.Error("wrong key should fail")
	}
}

func newTestAuthenticator(t *testing.T) Authenticator {
	t.Helper()

	return NewAuthenticator(testLog(), config.AuthConfig{
		JWTSecret: testSecret,
		APIKeys: []config.APIKeyConfig{
			{ID: "ci", KeyHash: hashKey(t, "sk-valid-key")},
		},
	})
}

func TestAuthenticateNoCredentials(t *testing.T) {
	a := newTestAuthenticator(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	identity, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if identity != nil {
		t.Errorf("expected anonymous, got %+v", identity)
	}
}

func TestAuthenticateAPIKeyPrecedence(t *testing.T) {
	a := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderAPIKey, "sk-valid-key")
	r.Header.Set(HeaderAuthorization, "Bearer "+signToken(t, testSecret, "user-42", time.Now().Add(time.Hour)))

	identity, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if identity.Method != "api_key" {
		t.Errorf("API key should take precedence, got %s", identity.Method)
	}
}

func TestAuthenticateBearer(t *testing.T) {
	a := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderAuthorization, "Bearer "+signToken(t, testSecret, "user-42", time.Now().Add(time.Hour)))

	identity, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if identity.ID != "user-42" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestAuthenticateInvalidCredentialIsError(t *testing.T) {
	a := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderAPIKey, "sk-wrong")

	if _, err := a.Authenticate(r); err == nil {
		t.Error("presented-but-invalid key must be an error, not anonymous")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderAuthorization, "Bearer garbage")

	if _, err := a.Authenticate(r); err == nil {
		t.Error("presented-but-invalid token must be an error, not anonymous")
	}
}

func TestAuthenticateNonBearerAuthorizationIgnored(t *testing.T) {
	a := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderAuthorization, "Basic dXNlcjpwYXNz")

	identity, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if identity != nil {
		t.Errorf("basic auth header should be treated as anonymous, got %+v", identity)
	}
}
