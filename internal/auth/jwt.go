// Package auth verifies and issues the HS256 JWTs shared with the
// Better Auth frontend, and guards HTTP routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Verification failures, mapped to distinct 401 error codes by the API.
var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the user facts carried in a verified token. The user ID
// always comes from here, never from a request body.
type Claims struct {
	UserID string
	Email  string
	Name   string
}

// VerifyToken parses and validates a bearer token. Tokens must be HS256,
// unexpired, not issued in the future, and carry user_id and email claims.
func VerifyToken(token, secret string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// exp and iat are required, not merely validated when present.
	exp, ok := mc["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	if time.Unix(int64(exp), 0).Before(time.Now()) {
		return nil, ErrTokenExpired
	}
	iat, ok := mc["iat"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: missing iat claim", ErrInvalidToken)
	}
	if time.Unix(int64(iat), 0).After(time.Now().Add(time.Minute)) {
		return nil, fmt.Errorf("%w: token issued in the future", ErrInvalidToken)
	}

	claims := &Claims{}
	if v, ok := mc["user_id"].(string); ok && v != "" {
		claims.UserID = v
	} else if v, ok := mc["sub"].(string); ok && v != "" {
		claims.UserID = v
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}

	email, ok := mc["email"].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	claims.Email = email

	if v, ok := mc["name"].(string); ok {
		claims.Name = v
	}
	return claims, nil
}

// IssueToken mints a signed HS256 token for the given claims, valid for ttl.
func IssueToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": claims.UserID,
		"sub":     claims.UserID,
		"email":   claims.Email,
		"name":    claims.Name,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
