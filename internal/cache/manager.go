// Package cache provides the in-memory caching layer backing the parser
// handler store. Keys are platform names.
package cache

import (
	"context"
	"time"
)

type Manager[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	GetWithRefresh(ctx context.Context, key string, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}
