package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Namespace prefixes every key written by the monitoring service, so one Redis
// database can be shared with other tenants.
const Namespace = "modelwatch"

// Provider holds serialised read models such as the dashboard overview and mined
// alert patterns. Values expire after their TTL; writers invalidate them with Del.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get when the view is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Key joins parts under Namespace, e.g. Key("overview") is "modelwatch:overview".
func Key(parts ...string) string {
	return Namespace + ":" + strings.Join(parts, ":")
}

// Disabled is the Provider used when no cache is configured. Every read misses,
// so views are recomputed on each request.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (Disabled) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Disabled) Del(context.Context, string) error { return nil }

func (Disabled) Close() error { return nil }
