package config

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Bytes is a byte count written in human form ("50MiB", "512 kB", "1024").
// It works as a YAML scalar and as a flag.Value.
type Bytes int64

// ParseBytes parses s with go-humanize rules. Both SI (kB, MB) and IEC
// (KiB, MiB) units are accepted; a bare number is bytes.
func ParseBytes(s string) (Bytes, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid byte size %q: too large", s)
	}
	return Bytes(n), nil
}

// Int64 returns b as a plain count.
func (b Bytes) Int64() int64 { return int64(b) }

// String renders b in IEC units, e.g. "50 MiB".
func (b Bytes) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

// Set implements flag.Value.
func (b *Bytes) Set(s string) error {
	v, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// UnmarshalYAML accepts both integer and string scalars.
func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", node.Line)
	}
	v, err := ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

// MarshalYAML writes b in the same form String returns.
func (b Bytes) MarshalYAML() (any, error) {
	return b.String(), nil
}
