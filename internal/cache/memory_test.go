package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "overview", []byte("v1"), 15*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "overview")
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected hit, got %q err=%v", got, err)
	}

	now = now.Add(16 * time.Second)
	if _, err := c.Get(ctx, "overview"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry miss, got %v", err)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	value := []byte("abc")
	_ = c.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("cache aliased caller slice: %q", got)
	}
	_ = c.Del(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestKeyIsNamespaced(t *testing.T) {
	if got := Key("patterns", "fraud-detection-v3"); got != "modelwatch:patterns:fraud-detection-v3" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDisabledAlwaysMisses(t *testing.T) {
	var p Provider = Disabled{}
	_ = p.Set(context.Background(), "k", []byte("v"), time.Minute)
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	opts := RedisConfig{Addr: "localhost:6379", TLS: true}.Options()
	if opts.DialTimeout != 5*time.Second || opts.ReadTimeout != 3*time.Second {
		t.Fatalf("defaults not applied: %+v", opts)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls config")
	}
}
