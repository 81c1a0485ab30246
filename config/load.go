package config

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/you112ef/boltcache/secret"
)

const (
	// FileFlag names the flag holding the YAML config path.
	FileFlag = "config.file"
	// ExpandEnvFlag names the flag enabling ${VAR} expansion in the file.
	ExpandEnvFlag = "config.expand-env"
)

// Parse decodes YAML into cfg on top of the values it already holds.
// Unknown keys are an error.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Load reads the YAML file at path into cfg. With expandEnv, ${VAR} and
// $VAR references are replaced from the environment before parsing.
func Load(path string, expandEnv bool, cfg *Config) error {
	buff, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if expandEnv {
		s, err := envsubst.EvalEnv(string(buff))
		if err != nil {
			return fmt.Errorf("failed to expand env vars in %s: %w", path, err)
		}
		buff = []byte(s)
	}

	if err := Parse(buff, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadArgs builds a Config from command-line args: defaults first, then the
// file named by -config.file, then every other flag given in args. Flags
// always win over the file.
func LoadArgs(name string, args []string, output io.Writer) (*Config, error) {
	var (
		configFile      string
		configExpandEnv bool
	)

	// first pass finds the config file while ignoring every other flag
	pre := flag.NewFlagSet(name, flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.StringVar(&configFile, FileFlag, "", "")
	pre.BoolVar(&configExpandEnv, ExpandEnvFlag, false, "")
	for rest := args; len(rest) > 0; rest = rest[1:] {
		_ = pre.Parse(rest)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	fs.String(FileFlag, "", "Configuration file to load.")
	fs.Bool(ExpandEnvFlag, false, "Whether to expand environment variables in the config file.")

	if configFile != "" {
		if err := Load(configFile, configExpandEnv, cfg); err != nil {
			return nil, err
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

// ResolveSecrets replaces secretref: values and ${VAR} references in the
// credential fields with their resolved values. A nil resolver uses
// secret.DefaultResolver.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	if r == nil {
		r = secret.DefaultResolver()
	}
	var err error
	if c.Persistence.Redis.Password, err = r.Resolve(ctx, c.Persistence.Redis.Password); err != nil {
		return fmt.Errorf("persistence.redis.password: %w", err)
	}
	if c.Auth.JWTSecret, err = r.Resolve(ctx, c.Auth.JWTSecret); err != nil {
		return fmt.Errorf("auth.jwt_secret: %w", err)
	}
	if len(c.Auth.APIKeys) > 0 {
		if c.Auth.APIKeys, err = r.ResolveAll(ctx, c.Auth.APIKeys); err != nil {
			return fmt.Errorf("auth.api_keys: %w", err)
		}
	}
	return nil
}

// Redacted returns a copy of c safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Persistence.Redis.Password = redact(out.Persistence.Redis.Password)
	out.Auth.JWTSecret = redact(out.Auth.JWTSecret)
	if len(c.Auth.APIKeys) > 0 {
		out.Auth.APIKeys = make([]string, len(c.Auth.APIKeys))
		for i, k := range c.Auth.APIKeys {
			out.Auth.APIKeys[i] = redact(k)
		}
	}
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
