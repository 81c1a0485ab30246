package health

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/you112ef/boltcache/persist"
)

// StorageChecker probes a durable storage by writing, reading back and
// removing a probe record. Storages that implement persist.Pinger are
// pinged first.
type StorageChecker struct {
	name    string
	storage persist.Storage
	key     string
}

// probePrefix sits outside every "<namespace>:" key space.
const probePrefix = "__boltcache_health__/"

// NewStorageChecker creates a checker for storage. Probe records are
// written under "__boltcache_health__/<namespace>", which no cache key can
// map to.
func NewStorageChecker(name string, storage persist.Storage, namespace string) *StorageChecker {
	if name == "" {
		name = "storage"
	}
	if namespace == "" {
		namespace = persist.DefaultNamespace
	}
	return &StorageChecker{name: name, storage: storage, key: probePrefix + namespace}
}

// Name returns the name of this checker.
func (s *StorageChecker) Name() string { return s.name }

// Check performs the probe.
func (s *StorageChecker) Check(ctx context.Context) Result {
	if p, ok := s.storage.(persist.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return Unhealthy("storage unreachable", err)
		}
	}

	probe := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := s.storage.Write(ctx, s.key, probe); err != nil {
		return Unhealthy("storage write failed", err)
	}
	defer func() { _ = s.storage.Remove(context.WithoutCancel(ctx), s.key) }()

	got, ok, err := s.storage.Read(ctx, s.key)
	switch {
	case err != nil:
		return Unhealthy("storage read failed", err)
	case !ok || !bytes.Equal(got, probe):
		return Unhealthy("storage returned a different probe", fmt.Errorf("%w: probe mismatch", ErrCheckFailed))
	}
	return Healthy("storage reachable")
}
