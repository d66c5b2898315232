// Package limiter rate-limits chat requests per user with a fixed
// window counter in Valkey. Without a VALKEY_URL the no-op limiter is
// used and every request passes.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Defaults for the chat endpoint window.
const (
	DefaultLimit  = 20
	DefaultWindow = time.Minute
)

// ChatLimiter decides whether a user may send another chat message.
// When denied, retryAfter says how long until the window resets.
type ChatLimiter interface {
	Allow(ctx context.Context, userID string) (allowed bool, retryAfter time.Duration, err error)
	Close()
}

// ─── No-op limiter ───

// Noop allows everything. Used when no Valkey URL is configured.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}

func (Noop) Close() {}

// ─── Valkey-backed limiter ───

// Valkey counts requests per user in a fixed window. The counter key
// expires with the window, so idle users cost nothing.
type Valkey struct {
	client valkey.Client
	limit  int64
	window time.Duration
}

// NewValkey connects to url and returns a limiter allowing limit
// requests per window for each user.
func NewValkey(url string, limit int, window time.Duration) (*Valkey, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return &Valkey{client: client, limit: int64(limit), window: window}, nil
}

// Allow increments the user's window counter. The increment is
// pipelined with EXPIRE NX, so every request sets the window expiry if
// the key has none yet. A counter that lost its expiry (say, a crash
// after the INCR landed) is picked up by the next request instead of
// denying the user forever. A counter past the limit is denied with
// the key's remaining TTL as the retry hint.
func (v *Valkey) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	key := "chat_rate:" + userID

	resps := v.client.DoMulti(ctx,
		v.client.B().Incr().Key(key).Build(),
		v.client.B().Expire().Key(key).Seconds(int64(v.window.Seconds())).Nx().Build(),
	)
	count, err := resps[0].AsInt64()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if err := resps[1].Error(); err != nil {
		return false, 0, fmt.Errorf("expire %s: %w", key, err)
	}
	if count <= v.limit {
		return true, 0, nil
	}

	ttl, err := v.client.Do(ctx, v.client.B().Ttl().Key(key).Build()).AsInt64()
	if err != nil || ttl < 0 {
		return false, v.window, nil
	}
	return false, time.Duration(ttl) * time.Second, nil
}

func (v *Valkey) Close() {
	v.client.Close()
}
