package cache

import "time"

// Policy decides how long an entry lives.
type Policy struct {
	// DefaultTTL applies to writes that carry no TTL.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL when positive.
	MaxTTL time.Duration
}

// DefaultPolicy keeps entries for DefaultTTL with no cap.
func DefaultPolicy() Policy { return Policy{DefaultTTL: DefaultTTL} }

// PolicyFromConfig extracts the lifetime settings of cfg.
func PolicyFromConfig(cfg Config) Policy {
	return Policy{DefaultTTL: cfg.DefaultTTL, MaxTTL: cfg.MaxTTL}
}

// EffectiveTTL resolves a requested TTL: non-positive means DefaultTTL and
// the result never exceeds MaxTTL.
func (p Policy) EffectiveTTL(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = p.DefaultTTL
	}
	if p.MaxTTL > 0 {
		requested = min(requested, p.MaxTTL)
	}
	return requested
}
