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
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIdentityVerifierValidatesTokenUsingJWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwksServer := newJWKSServer(t, &privateKey.PublicKey)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud":     "test-client",
		"iss":     "https://accounts.google.com",
		"sub":     "user-123",
		"exp":     now.Add(5 * time.Minute).Unix(),
		"iat":     now.Unix(),
		"name":    "Test User",
		"email":   "test@example.com",
		"picture": "https://example.com/avatar.png",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewIdentityVerifier(IdentityVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL + "/oauth2/v3/certs",
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	verified, err := verifier.Verify(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}

	if verified.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", verified.Subject)
	}
	if verified.Audience != "test-client" {
		t.Fatalf("unexpected audience %s", verified.Audience)
	}
	if verified.DisplayName != "Test User" {
		t.Fatalf("unexpected display name %s", verified.DisplayName)
	}
	if verified.Email != "test@example.com" {
		t.Fatalf("unexpected email %s", verified.Email)
	}
	if verified.AvatarURL != "https://example.com/avatar.png" {
		t.Fatalf("unexpected avatar url %s", verified.AvatarURL)
	}
}

func TestIdentityVerifierRejectsInvalidAudience(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwksServer := newJWKSServer(t, &privateKey.PublicKey)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": "unexpected-client",
		"iss": "https://accounts.google.com",
		"sub": "user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewIdentityVerifier(IdentityVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL + "/oauth2/v3/certs",
		AllowedIssuers: []string{"https://accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signedToken)
	if err == nil {
		t.Fatalf("expected verification to fail for mismatched audience")
	}
}

func TestNewIdentityVerifierRequiresAudienceAndJWKS(t *testing.T) {
	_, err := NewIdentityVerifier(IdentityVerifierConfig{
		Audience:       "",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAudienceConfig.Error()) {
		t.Fatalf("expected audience validation error to be reported, got %v", err)
	}

	_, err = NewIdentityVerifier(IdentityVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        " ",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func TestNewIdentityVerifierRejectsEmptyIssuerList(t *testing.T) {
	_, err := NewIdentityVerifier(IdentityVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "   "},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errNoAllowedIssuers.Error()) {
		t.Fatalf("expected allowed issuers validation error to be reported, got %v", err)
	}
}

func newJWKSServer(t *testing.T, publicKey *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwk := map[string]string{
		"kty": "RSA",
		"alg": "RS256",
		"kid": "test-key",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
	jwksResponse := map[string]any{
		"keys": []any{jwk},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
}
