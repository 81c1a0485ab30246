package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you112ef/boltcache/secret"
)

const sampleYAML = `
cache:
  max_size: 8MiB
  max_entries: 200
  default_ttl: 10m
persistence:
  backend: redis
  redis:
    addr: ${BOLTCACHE_TEST_REDIS}
    password: secretref:env:BOLTCACHE_TEST_REDIS_PASSWORD
request:
  retries: 1
  upstream:
    base_url: http://origin.local
    headers:
      accept: application/json
auth:
  jwt_secret: secretref:env:BOLTCACHE_TEST_JWT
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boltcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse_KeepsDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, Parse([]byte("cache:\n  max_entries: 7\n"), c))

	assert.Equal(t, 7, c.Cache.MaxEntries)
	assert.Equal(t, time.Hour, c.Cache.DefaultTTL)
}

func TestParse_Empty(t *testing.T) {
	c := Default()
	require.NoError(t, Parse(nil, c))
	assert.Equal(t, Default(), c)
}

func TestParse_UnknownField(t *testing.T) {
	err := Parse([]byte("cache:\n  max_entires: 7\n"), Default())
	assert.ErrorContains(t, err, "max_entires")
}

func TestLoad_ExpandEnv(t *testing.T) {
	t.Setenv("BOLTCACHE_TEST_REDIS", "redis.local:6380")
	path := writeFile(t, sampleYAML)

	c := Default()
	require.NoError(t, Load(path, true, c))

	assert.Equal(t, Bytes(8<<20), c.Cache.MaxSize)
	assert.Equal(t, 200, c.Cache.MaxEntries)
	assert.Equal(t, 10*time.Minute, c.Cache.DefaultTTL)
	assert.Equal(t, BackendRedis, c.Persistence.Backend)
	assert.Equal(t, "redis.local:6380", c.Persistence.Redis.Addr)
	assert.Equal(t, "application/json", c.Request.Upstream.Headers["accept"])

	c = Default()
	require.NoError(t, Load(path, false, c))
	assert.Equal(t, "${BOLTCACHE_TEST_REDIS}", c.Persistence.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false, Default())
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadArgs_FlagsOverrideFile(t *testing.T) {
	t.Setenv("BOLTCACHE_TEST_REDIS", "redis.local:6380")
	path := writeFile(t, sampleYAML)

	c, err := LoadArgs("boltcache", []string{
		"-cache.max-entries=50",
		"-config.file=" + path,
		"-config.expand-env",
		"-server.listen-addr=:9090",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 50, c.Cache.MaxEntries)
	assert.Equal(t, Bytes(8<<20), c.Cache.MaxSize)
	assert.Equal(t, "redis.local:6380", c.Persistence.Redis.Addr)
	assert.Equal(t, ":9090", c.Server.ListenAddr)
}

func TestLoadArgs_NoFile(t *testing.T) {
	c, err := LoadArgs("boltcache", []string{"-persistence.backend=memory"}, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, c.Persistence.Backend)
	assert.Equal(t, Default().Cache, c.Cache)
}

func TestLoadArgs_Errors(t *testing.T) {
	_, err := LoadArgs("boltcache", []string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)

	_, err = LoadArgs("boltcache", []string{"extra"}, nil)
	assert.ErrorContains(t, err, "unexpected arguments")
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("BOLTCACHE_TEST_REDIS_PASSWORD", "hunter2")
	t.Setenv("BOLTCACHE_TEST_JWT", "0123456789abcdef0123")
	t.Setenv("BOLTCACHE_TEST_KEY", "k-1")

	c := Default()
	c.Persistence.Redis.Password = "secretref:env:BOLTCACHE_TEST_REDIS_PASSWORD"
	c.Auth.JWTSecret = "secretref:env:BOLTCACHE_TEST_JWT"
	c.Auth.APIKeys = []string{"${BOLTCACHE_TEST_KEY}", "plain"}

	require.NoError(t, c.ResolveSecrets(context.Background(), nil))
	assert.Equal(t, "hunter2", c.Persistence.Redis.Password)
	assert.Equal(t, "0123456789abcdef0123", c.Auth.JWTSecret)
	assert.Equal(t, []string{"k-1", "plain"}, c.Auth.APIKeys)
}

func TestResolveSecrets_File(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt"), []byte("from-a-file-0123456\n"), 0o600))

	c := Default()
	c.Auth.JWTSecret = "secretref:file:jwt"
	r := secret.NewResolver(secret.WithProvider(secret.Files{Dir: dir}))

	require.NoError(t, c.ResolveSecrets(context.Background(), r))
	assert.Equal(t, "from-a-file-0123456", c.Auth.JWTSecret)
}

func TestResolveSecrets_Missing(t *testing.T) {
	c := Default()
	c.Auth.JWTSecret = "secretref:env:BOLTCACHE_TEST_UNSET_VARIABLE"

	err := c.ResolveSecrets(context.Background(), nil)
	assert.ErrorContains(t, err, "auth.jwt_secret")
	assert.ErrorIs(t, err, secret.ErrNotFound)
}

func TestRedacted(t *testing.T) {
	c := Default()
	c.Auth.APIKeys = []string{"k1"}
	c.Auth.JWTSecret = "0123456789abcdef"

	r := c.Redacted()
	assert.Equal(t, []string{"<redacted>"}, r.Auth.APIKeys)
	assert.Equal(t, "<redacted>", r.Auth.JWTSecret)
	assert.Equal(t, "", r.Persistence.Redis.Password)
	assert.Equal(t, []string{"k1"}, c.Auth.APIKeys)

	out, err := r.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "0123456789abcdef")
	assert.Contains(t, string(out), "max_size: 50 MiB")
}
