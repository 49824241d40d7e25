package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	requests   atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	fixture := &jwksFixture{privateKey: privateKey}
	document := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "test-key",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
		}},
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fixture.requests.Add(1)
		_ = json.NewEncoder(w).Encode(document)
	}))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f *jwksFixture) verifier(t *testing.T) *GoogleVerifier {
	t.Helper()
	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		ClientID:   "test-client",
		JWKSURL:    f.server.URL,
		HTTPClient: f.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"aud":            "test-client",
		"iss":            "https://accounts.google.com",
		"sub":            "user-123",
		"email":          "Rider@Example.com",
		"email_verified": true,
		"exp":            now.Add(5 * time.Minute).Unix(),
		"iat":            now.Unix(),
	}
}

func TestGoogleVerifierReturnsEmail(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	identity, err := verifier.Verify(context.Background(), fixture.sign(t, validClaims(time.Now().UTC())))
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if identity.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", identity.Subject)
	}
	if identity.Email != "rider@example.com" {
		t.Fatalf("unexpected email %s", identity.Email)
	}

	if _, err := verifier.Verify(context.Background(), fixture.sign(t, validClaims(time.Now().UTC()))); err != nil {
		t.Fatalf("second verification failed: %v", err)
	}
	if fixture.requests.Load() != 1 {
		t.Fatalf("expected keys to be cached, got %d fetches", fixture.requests.Load())
	}
}

func TestGoogleVerifierRejectsInvalidAudience(t *testing.T) {
	fixture := newJWKSFixture(t)
	claims := validClaims(time.Now().UTC())
	claims["aud"] = "unexpected-client"

	if _, err := fixture.verifier(t).Verify(context.Background(), fixture.sign(t, claims)); err == nil {
		t.Fatalf("expected verification to fail for mismatched audience")
	}
}

func TestGoogleVerifierRejectsUnverifiedEmail(t *testing.T) {
	fixture := newJWKSFixture(t)
	claims := validClaims(time.Now().UTC())
	claims["email_verified"] = false

	_, err := fixture.verifier(t).Verify(context.Background(), fixture.sign(t, claims))
	if !errors.Is(err, errMissingEmail) {
		t.Fatalf("expected missing email error, got %v", err)
	}
}

func TestGoogleVerifierRejectsUntrustedIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)
	claims := validClaims(time.Now().UTC())
	claims["iss"] = "https://evil.example.com"

	_, err := fixture.verifier(t).Verify(context.Background(), fixture.sign(t, claims))
	if !errors.Is(err, errUntrustedIssuer) {
		t.Fatalf("expected untrusted issuer error, got %v", err)
	}
}

func TestNewGoogleVerifierRequiresClientIDAndJWKS(t *testing.T) {
	if _, err := NewGoogleVerifier(GoogleVerifierConfig{JWKSURL: DefaultGoogleJWKSURL}); !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if _, err := NewGoogleVerifier(GoogleVerifierConfig{ClientID: "test-client", JWKSURL: " "}); !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if _, err := NewGoogleVerifier(GoogleVerifierConfig{ClientID: "test-client", JWKSURL: DefaultGoogleJWKSURL, Issuers: []string{" "}}); !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
}
