package cache

import (
	"context"
	"time"
)

//go:generate mockery --name BytesCache --output ./mocks --outpkg mocks --filename mock_bytes_cache.go --structname MockBytesCache

// BytesCache is a best-effort key/value cache; callers treat any error as a miss.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
