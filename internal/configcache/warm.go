package configcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/foundry/internal/types"
)

// DefaultWarmConcurrency bounds parallel loads in Warm.
const DefaultWarmConcurrency = 8

// Warm loads every key concurrently and returns how many succeeded.
// Failures are joined into the returned error; one failing key does not
// stop the others.
func (c *Cache) Warm(ctx context.Context, keys []types.SnapshotKey, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = DefaultWarmConcurrency
	}
	var ok atomic.Int64
	errs := make([]error, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			if _, err := c.Get(gctx, key); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", key, err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	n := int(ok.Load())
	c.logger.Info("configuration cache warmed", "requested", len(keys), "loaded", n)
	return n, errors.Join(errs...)
}
