package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	// Secret is the HS256 key.
	Secret []byte

	// Issuer and Audience, when set, must match the iss and aud claims.
	Issuer   string
	Audience string

	// RolesClaim names the string array claim holding roles. Empty ignores
	// roles.
	RolesClaim string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration

	// Clock is the validation clock.
	// Default: wall clock
	Clock clock.Clock
}

// JWT authenticates HS256 bearer tokens from the Authorization header.
type JWT struct {
	secret     []byte
	rolesClaim string
	parser     *jwt.Parser
}

// NewJWT creates a bearer token authenticator.
func NewJWT(cfg JWTConfig) *JWT {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(cfg.Clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWT{secret: cfg.Secret, rolesClaim: cfg.RolesClaim, parser: jwt.NewParser(opts...)}
}

// bearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(bearerPrefix):]), true
}

func (a *JWT) Authenticate(r *http.Request) (*Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, ErrNoCredentials
	}
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenMalformed
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return a.identity(claims), nil
}

func (a *JWT) identity(claims jwt.MapClaims) *Identity {
	id := &Identity{Method: MethodJWT}
	id.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if a.rolesClaim == "" {
		return id
	}
	roles, _ := claims[a.rolesClaim].([]any)
	for _, r := range roles {
		if s, ok := r.(string); ok {
			id.Roles = append(id.Roles, s)
		}
	}
	return id
}

// TokenSpec describes a token for SignToken.
type TokenSpec struct {
	Subject  string
	Issuer   string
	Audience string
	Roles    []string
	// TTL of zero issues a token that never expires.
	TTL time.Duration
}

// SignToken issues an HS256 token carrying spec, issued at now. Roles go
// in the "roles" claim.
func SignToken(secret []byte, spec TokenSpec, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": spec.Subject,
		"iat": jwt.NewNumericDate(now),
	}
	if spec.Issuer != "" {
		claims["iss"] = spec.Issuer
	}
	if spec.Audience != "" {
		claims["aud"] = spec.Audience
	}
	if len(spec.Roles) > 0 {
		claims["roles"] = spec.Roles
	}
	if spec.TTL > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(spec.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
