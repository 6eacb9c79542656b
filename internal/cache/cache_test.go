package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

func TestGetMissThenHit(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dash", time.Minute)

	var got payload
	hit, err := c.Get(ctx, "metrics", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatalf("expected miss on empty cache")
	}

	if err := c.Set(ctx, "metrics", payload{Count: 10, Rate: 0.6}); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = c.Get(ctx, "metrics", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Count != 10 || got.Rate != 0.6 {
		t.Fatalf("wrong value: %+v", got)
	}
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dash", time.Second)
	if err := c.Set(ctx, "metrics", payload{Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	var got payload
	hit, err := c.Get(ctx, "metrics", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatalf("expected entry to expire")
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	mr.Set("dash:metrics", "not json{")
	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dash", time.Minute)

	var got payload
	hit, err := c.Get(ctx, "metrics", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatalf("corrupt entry should read as a miss")
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dash", time.Minute)
	if err := c.Set(ctx, "metrics", payload{Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Invalidate(ctx, "metrics"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	var got payload
	hit, _ := c.Get(ctx, "metrics", &got)
	if hit {
		t.Fatalf("expected miss after invalidate")
	}
}
