package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/you112ef/boltcache/persist"
)

type failingStorage struct {
	*persist.MemoryStorage
	writeErr error
	pingErr  error
}

func (f failingStorage) Write(ctx context.Context, key string, value []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.MemoryStorage.Write(ctx, key, value)
}

func (f failingStorage) Ping(context.Context) error { return f.pingErr }

func TestStorageChecker_Memory(t *testing.T) {
	storage := persist.NewMemoryStorage()
	c := NewStorageChecker("", storage, "")

	if c.Name() != "storage" {
		t.Errorf("Name() = %q, want storage", c.Name())
	}
	if got := c.Check(context.Background()); got.Status != StatusHealthy {
		t.Fatalf("Status = %v (%v), want healthy", got.Status, got.Error)
	}
	if storage.Len() != 0 {
		t.Errorf("probe record left behind: %d keys", storage.Len())
	}
}

func TestStorageChecker_Bolt(t *testing.T) {
	storage, err := persist.OpenBolt(persist.BoltConfig{Path: filepath.Join(t.TempDir(), "health.db")})
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer storage.Close()

	if got := NewStorageChecker("bolt", storage, "ns").Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Status = %v (%v), want healthy", got.Status, got.Error)
	}
}

func TestStorageChecker_RedisDown(t *testing.T) {
	srv := miniredis.RunT(t)
	storage, err := persist.DialRedis(context.Background(), persist.RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	defer storage.Close()

	c := NewStorageChecker("redis", storage, "ns")
	if got := c.Check(context.Background()); got.Status != StatusHealthy {
		t.Fatalf("Status = %v (%v), want healthy", got.Status, got.Error)
	}

	srv.Close()
	got := c.Check(context.Background())
	if got.Status != StatusUnhealthy || got.Message != "storage unreachable" {
		t.Errorf("Check() = %v %q, want unhealthy storage unreachable", got.Status, got.Message)
	}
}

func TestStorageChecker_Failures(t *testing.T) {
	boom := errors.New("disk full")
	tests := []struct {
		name    string
		storage failingStorage
		message string
	}{
		{"ping", failingStorage{MemoryStorage: persist.NewMemoryStorage(), pingErr: boom}, "storage unreachable"},
		{"write", failingStorage{MemoryStorage: persist.NewMemoryStorage(), writeErr: boom}, "storage write failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStorageChecker("", tt.storage, "").Check(context.Background())
			if got.Status != StatusUnhealthy || got.Message != tt.message {
				t.Errorf("Check() = %v %q, want unhealthy %q", got.Status, got.Message, tt.message)
			}
			if !errors.Is(got.Error, boom) {
				t.Errorf("Error = %v, want %v", got.Error, boom)
			}
		})
	}
}

func TestStorageChecker_LeavesCacheKeysAlone(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()
	userKey := persist.DefaultNamespace + ":__health__"
	if err := storage.Write(ctx, userKey, []byte("user data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := NewStorageChecker("", storage, "").Check(ctx); got.Status != StatusHealthy {
		t.Fatalf("Status = %v (%v), want healthy", got.Status, got.Error)
	}

	got, ok, err := storage.Read(ctx, userKey)
	if err != nil || !ok || string(got) != "user data" {
		t.Errorf("Read(%q) = %q, %v, %v; want the original record", userKey, got, ok, err)
	}
	if storage.Len() != 1 {
		t.Errorf("Len() = %d, want 1", storage.Len())
	}
}
