package auth

import (
	"context"
	"errors"
	"time"

	"taskdeck/internal/store"
)

// Failed-login policy: 5 failures per email lock the account for 15 minutes.
const (
	MaxFailedLogins = 5
	LockoutWindow   = 15 * time.Minute
)

// LoginLimiter tracks failed login attempts per email in the database.
type LoginLimiter struct {
	store store.Store
}

// NewLoginLimiter returns a limiter backed by the given store.
func NewLoginLimiter(s store.Store) *LoginLimiter {
	return &LoginLimiter{store: s}
}

// Check returns the remaining lockout if the email is currently locked.
// A zero duration means the login may proceed.
func (l *LoginLimiter) Check(ctx context.Context, email string) (time.Duration, error) {
	rl, err := l.store.AuthRateLimit(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if rl.LockedUntil != nil {
		if remaining := time.Until(*rl.LockedUntil); remaining > 0 {
			return remaining, nil
		}
	}
	return 0, nil
}

// RecordFailure counts a failed attempt, locking the email once the
// policy threshold is reached.
func (l *LoginLimiter) RecordFailure(ctx context.Context, email string) error {
	_, err := l.store.RecordAuthFailure(ctx, email, MaxFailedLogins, LockoutWindow)
	return err
}

// Reset clears the failure record after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	return l.store.ResetAuthFailures(ctx, email)
}
