package limiter

import (
	"context"
	"os"
	"testing"
)

func TestNoopAllowsEverything(t *testing.T) {
	var l ChatLimiter = Noop{}
	for i := 0; i < 100; i++ {
		allowed, retryAfter, err := l.Allow(context.Background(), "u1")
		if err != nil || !allowed || retryAfter != 0 {
			t.Fatalf("Allow() = %v, %v, %v", allowed, retryAfter, err)
		}
	}
}

// TestValkey_Window exercises the real counter. Needs a running
// Valkey, so it is opt-in like the Postgres smoke test.
func TestValkey_Window(t *testing.T) {
	url := os.Getenv("TASKDECK_TEST_VALKEY_URL")
	if url == "" {
		t.Skip("TASKDECK_TEST_VALKEY_URL not set")
	}

	l, err := NewValkey(url, 3, DefaultWindow)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	userID := "test-" + t.Name()
	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, userID)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d denied under limit", i)
		}
	}

	allowed, retryAfter, err := l.Allow(ctx, userID)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed {
		t.Error("request over limit allowed")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", retryAfter)
	}
}

// TestValkey_HealsMissingExpiry plants a counter with no TTL, as left
// behind by a crash between the increment and the expiry, and checks
// that the next request re-arms the window instead of denying forever.
func TestValkey_HealsMissingExpiry(t *testing.T) {
	url := os.Getenv("TASKDECK_TEST_VALKEY_URL")
	if url == "" {
		t.Skip("TASKDECK_TEST_VALKEY_URL not set")
	}

	l, err := NewValkey(url, 3, DefaultWindow)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	userID := "stale-" + t.Name()
	key := "chat_rate:" + userID
	if err := l.client.Do(ctx, l.client.B().Set().Key(key).Value("100").Build()).Error(); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	defer l.client.Do(ctx, l.client.B().Del().Key(key).Build())

	allowed, retryAfter, err := l.Allow(ctx, userID)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Error("request over limit allowed")
	}
	if retryAfter <= 0 || retryAfter > DefaultWindow {
		t.Errorf("retryAfter = %v, want within (0, %v]", retryAfter, DefaultWindow)
	}

	ttl, err := l.client.Do(ctx, l.client.B().Ttl().Key(key).Build()).AsInt64()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl < 0 {
		t.Errorf("counter ttl = %d, want a live expiry", ttl)
	}
}
