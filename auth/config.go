package auth

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config selects the credentials the admin API accepts. Leaving both
// APIKeys and JWTSecret empty disables authentication.
type Config struct {
	APIKeys     []string `yaml:"api_keys"`
	APIKeyRoles []string `yaml:"api_key_roles"`
	JWTSecret   string   `yaml:"jwt_secret"`
	JWTIssuer   string   `yaml:"jwt_issuer"`
	JWTAudience string   `yaml:"jwt_audience"`
	JWTRoles    string   `yaml:"jwt_roles_claim"`
}

// RegisterFlagsWithPrefix registers flags for every field. -<prefix>api-key
// may repeat and also splits on commas.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Func(prefix+"api-key", "API key accepted in the X-API-Key header (repeatable).", func(s string) error {
		for _, k := range strings.Split(s, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.APIKeys = append(c.APIKeys, k)
			}
		}
		return nil
	})
	f.StringVar(&c.JWTSecret, prefix+"jwt-secret", "", "HMAC secret for HS256 bearer tokens.")
	f.StringVar(&c.JWTIssuer, prefix+"jwt-issuer", "", "Required iss claim. Empty accepts any issuer.")
	f.StringVar(&c.JWTAudience, prefix+"jwt-audience", "", "Required aud claim. Empty accepts any audience.")
	f.StringVar(&c.JWTRoles, prefix+"jwt-roles-claim", "roles", "Claim holding the caller's roles.")
}

// Enabled reports whether any credential is configured.
func (c *Config) Enabled() bool {
	return len(c.APIKeys) > 0 || c.JWTSecret != ""
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	for i, k := range c.APIKeys {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("%w: api_keys[%d] is empty", ErrInvalidConfig, i))
		}
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, fmt.Errorf("%w: jwt_secret must be at least 16 bytes", ErrInvalidConfig))
	}
	if c.JWTSecret == "" && (c.JWTIssuer != "" || c.JWTAudience != "") {
		errs = append(errs, fmt.Errorf("%w: jwt_issuer and jwt_audience need jwt_secret", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// New builds the authenticator described by cfg. It returns nil, nil when
// authentication is disabled. API keys are checked before bearer tokens.
func New(cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var chain Chain
	if len(cfg.APIKeys) > 0 {
		keys := make([]APIKey, len(cfg.APIKeys))
		for i, k := range cfg.APIKeys {
			keys[i] = APIKey{ID: fmt.Sprintf("key-%d", i+1), Key: strings.TrimSpace(k), Roles: cfg.APIKeyRoles}
		}
		chain = append(chain, NewAPIKeys(nil, keys...))
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, NewJWT(JWTConfig{
			Secret:     []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			RolesClaim: cfg.JWTRoles,
		}))
	}

	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}
