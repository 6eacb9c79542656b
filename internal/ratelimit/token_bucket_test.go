package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterExhaustsCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(client, 2, 1, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "editor")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = limiter.Allow(ctx, "editor")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, "editor")
	if allowed {
		t.Fatalf("expected third token rejected")
	}
}

func TestLimiterIsPerActor(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(client, 1, 1, time.Minute)

	if allowed, _, _ := limiter.Allow(ctx, "alice"); !allowed {
		t.Fatalf("alice's first token should be allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "alice"); allowed {
		t.Fatalf("alice's bucket should be empty")
	}
	// A different actor has an independent bucket.
	if allowed, _, _ := limiter.Allow(ctx, "bob"); !allowed {
		t.Fatalf("bob's bucket should be untouched")
	}
}
