package secret

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by providers for a reference they cannot find.
var ErrNotFound = errors.New("secret: not found")

// Provider looks secrets up by key. Implementations must be safe for
// concurrent use and must never log the values they return.
type Provider interface {
	// Scheme is the provider segment of a reference, as in
	// secretref:<scheme>:<key>.
	Scheme() string
	Lookup(ctx context.Context, key string) (string, error)
}

// Env reads secrets from environment variables.
type Env struct{}

func (Env) Scheme() string { return "env" }

func (Env) Lookup(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, key)
}

// Files reads secrets from files, the way Docker and Kubernetes mount
// them. Trailing newlines are dropped.
type Files struct {
	// Dir anchors relative keys. Empty means the working directory.
	Dir string
}

func (Files) Scheme() string { return "file" }

func (f Files) Lookup(_ context.Context, key string) (string, error) {
	path := key
	if f.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.Dir, path)
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
	case err != nil:
		return "", fmt.Errorf("secret: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
