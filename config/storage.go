package config

import (
	"context"
	"fmt"

	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/persist"
)

// OpenStorage opens the selected backend. It returns nil, nil for none.
func (c *PersistenceConfig) OpenStorage(ctx context.Context) (persist.Storage, error) {
	switch c.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return persist.NewMemoryStorage(), nil
	case BackendBolt:
		s, err := persist.OpenBolt(persist.BoltConfig{
			Path:   c.Bolt.Path,
			Bucket: c.Bolt.Bucket,
			NoSync: c.Bolt.NoSync,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := persist.DialRedis(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", c.Backend)
	}
}

// Backing wraps storage in a persist.Backing for namespace.
func (c *PersistenceConfig) Backing(storage persist.Storage, namespace string, logger observe.Logger, metrics observe.CacheMetrics) *persist.Backing {
	return persist.NewBacking(storage, persist.BackingConfig{
		Namespace: namespace,
		Compress:  c.Compress,
		Timeout:   c.Timeout,
		Logger:    logger,
		Metrics:   metrics,
	})
}
