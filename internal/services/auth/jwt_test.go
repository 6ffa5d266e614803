package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, expiresAt, err := manager.GenerateAccessToken("user-42", "STUDENT")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == "" || expiresAt.Before(time.Now()) {
		t.Fatalf("unexpected token %q expires %v", token, expiresAt)
	}

	claims, err := manager.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-42" || claims.Role != "STUDENT" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour)
	verifier := NewJWTManager("secret-b", time.Hour)

	token, _, err := issuer.GenerateAccessToken("user-42", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := verifier.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Minute)
	manager.now = func() time.Time {
		return time.Now().Add(-time.Hour)
	}

	token, _, err := manager.GenerateAccessToken("user-42", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := manager.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestValidateAccessTokenEmpty(t *testing.T) {
	svc := NewService(NewJWTManager("test-secret", time.Hour))

	if _, err := svc.ValidateAccessToken(context.Background(), "  "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "user-42", Role: "STUDENT"})

	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.UserID != "user-42" {
		t.Fatalf("unexpected identity: %+v ok=%v", identity, ok)
	}

	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry an identity")
	}
}
