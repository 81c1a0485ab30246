package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const refPrefix = "secretref:"

// inlineRef finds references embedded in a longer value, such as
// "Bearer secretref:env:TOKEN".
var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// Ref is a parsed secret reference.
type Ref struct {
	Scheme string
	Key    string
}

func (r Ref) String() string { return refPrefix + r.Scheme + ":" + r.Key }

// ParseRef parses a value that is exactly secretref:<scheme>:<key>. Keys
// never contain whitespace.
func ParseRef(value string) (Ref, bool) {
	rest, ok := strings.CutPrefix(value, refPrefix)
	if !ok {
		return Ref{}, false
	}
	scheme, key, ok := strings.Cut(rest, ":")
	if !ok || scheme == "" || key == "" || strings.ContainsFunc(rest, unicode.IsSpace) {
		return Ref{}, false
	}
	return Ref{Scheme: scheme, Key: key}, true
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProvider registers p under its scheme, replacing any earlier
// provider of the same scheme.
func WithProvider(p Provider) Option {
	return func(r *Resolver) { r.providers[p.Scheme()] = p }
}

// AllowEmpty accepts references that resolve to "". By default they are
// an error, since an empty credential is almost always a mistake.
func AllowEmpty() Option {
	return func(r *Resolver) { r.allowEmpty = true }
}

// Resolver turns configuration values into their final form: ${VAR}
// references are expanded first, then secret references are looked up.
type Resolver struct {
	providers  map[string]Provider
	allowEmpty bool
}

// NewResolver creates a resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultResolver resolves env and file references.
func DefaultResolver() *Resolver {
	return NewResolver(WithProvider(Env{}), WithProvider(Files{}))
}

// Resolve returns value with environment references expanded and secret
// references replaced. A value that is a single reference is replaced
// whole; otherwise every embedded reference is.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	value, err := ExpandEnv(value)
	if err != nil {
		return "", err
	}
	if ref, ok := ParseRef(value); ok {
		return r.lookup(ctx, ref)
	}

	var lookupErr error
	out := inlineRef.ReplaceAllStringFunc(value, func(m string) string {
		if lookupErr != nil {
			return m
		}
		sub := inlineRef.FindStringSubmatch(m)
		v, err := r.lookup(ctx, Ref{Scheme: sub[1], Key: sub[2]})
		if err != nil {
			lookupErr = err
			return m
		}
		return v
	})
	if lookupErr != nil {
		return "", lookupErr
	}
	return out, nil
}

// ResolveAll resolves each of values, stopping at the first error.
func (r *Resolver) ResolveAll(ctx context.Context, values []string) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		var err error
		if out[i], err = r.Resolve(ctx, v); err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, ref Ref) (string, error) {
	p, ok := r.providers[ref.Scheme]
	if !ok {
		return "", fmt.Errorf("secret: no provider for scheme %q", ref.Scheme)
	}
	v, err := p.Lookup(ctx, ref.Key)
	if err != nil {
		return "", err
	}
	if v == "" && !r.allowEmpty {
		return "", fmt.Errorf("secret: %s resolved to an empty value", ref)
	}
	return v, nil
}
