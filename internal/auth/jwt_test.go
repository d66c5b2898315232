package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	token, err := IssueToken(testSecret, Claims{
		UserID: "user-1",
		Email:  "user@example.com",
		Name:   "User One",
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := VerifyToken(token, testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "user@example.com" || claims.Name != "User One" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, _ := IssueToken(testSecret, Claims{UserID: "u", Email: "e@x.com"}, time.Hour)

	_, err := VerifyToken(token, strings.Repeat("x", 32))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	token := signMap(t, jwt.MapClaims{
		"user_id": "u", "email": "e@x.com",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := VerifyToken(token, testSecret)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_MissingClaims(t *testing.T) {
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"user_id": "u", "email": "e@x.com",
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"no exp", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"no iat", func(c jwt.MapClaims) { delete(c, "iat") }},
		{"no user_id", func(c jwt.MapClaims) { delete(c, "user_id") }},
		{"no email", func(c jwt.MapClaims) { delete(c, "email") }},
		{"future iat", func(c jwt.MapClaims) { c["iat"] = time.Now().Add(time.Hour).Unix() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := base()
			tt.mutate(claims)
			if _, err := VerifyToken(signMap(t, claims), testSecret); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestVerify_SubFallback(t *testing.T) {
	token := signMap(t, jwt.MapClaims{
		"sub": "sub-user", "email": "e@x.com",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := VerifyToken(token, testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "sub-user" {
		t.Errorf("UserID = %q, want sub fallback", claims.UserID)
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": "u", "email": "e@x.com",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := VerifyToken(signed, testSecret); err == nil {
		t.Fatal("alg=none token accepted")
	}
}

func signMap(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}
