package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesBackendTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "orbit-auth",
		Audience:      "orbit-api",
		TokenTTL:      30 * time.Minute,
	})

	tokenString, expiresIn, err := issuer.IssueBackendToken(context.Background(), IdentityClaims{
		Subject: "user-123",
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}

	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "orbit-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "orbit-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "orbit-auth",
		Audience: "orbit-api",
		TokenTTL: 30 * time.Minute,
	})

	_, _, err := issuer.IssueBackendToken(context.Background(), IdentityClaims{Subject: "user-123"})
	if err == nil {
		t.Fatalf("expected issuance error for missing secret")
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "orbit-auth",
		Audience:      "orbit-api",
	})

	_, _, err := issuer.IssueBackendToken(context.Background(), IdentityClaims{})
	if err == nil {
		t.Fatalf("expected issuance error for missing subject")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "orbit-auth",
		Audience:      "orbit-api",
		TokenTTL:      15 * time.Minute,
	})

	tokenString, _, err := issuer.IssueBackendToken(context.Background(), IdentityClaims{Subject: "user-321"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "user-321" {
		t.Fatalf("unexpected subject %s", subject)
	}

	_, err = issuer.ValidateToken("invalid.token")
	if err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "orbit-auth",
		Audience:      "orbit-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return current },
	})

	tokenString, _, err := issuer.IssueBackendToken(context.Background(), IdentityClaims{Subject: "user-9"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail after expiry")
	}
}
