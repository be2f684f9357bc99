package cache

import (
	"context"
	"time"
)

// ReferenceImageCache remembers image-search results by normalised query so
// repeated analyses of the same product skip the lookup.
type ReferenceImageCache interface {
	Get(ctx context.Context, query string) (string, bool, error)
	Set(ctx context.Context, query string, imageURL string, ttl time.Duration) error
}

type NoopReferenceImageCache struct{}

func (NoopReferenceImageCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopReferenceImageCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}
