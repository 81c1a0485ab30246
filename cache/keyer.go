package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON encodes maps with sorted keys at every depth.
var canonicalJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Keyer derives deterministic cache keys from a resource and its input.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(resource string, input any) (string, error)
}

// DefaultKeyer hashes canonical JSON with xxhash.
type DefaultKeyer struct {
	prefix string
}

// NewDefaultKeyer creates a keyer emitting keys under prefix. An empty
// prefix selects "cache".
func NewDefaultKeyer(prefix string) *DefaultKeyer {
	if prefix == "" {
		prefix = "cache"
	}
	return &DefaultKeyer{prefix: strings.TrimSuffix(prefix, ":")}
}

// maxResourceInKey bounds how much of a resource a derived key spells out.
const maxResourceInKey = 256

// Key returns "<prefix>:<resource>:<hash>" where hash is the 16 hex digit
// xxhash64 of the canonical JSON of input. A resource longer than 256 bytes
// or containing a line break is replaced by "#" and its own xxhash64, so
// every derived key stays valid.
func (k *DefaultKeyer) Key(resource string, input any) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize input: %w", err)
	}
	return fmt.Sprintf("%s:%s:%016x", k.prefix, resourceSegment(resource), xxhash.Sum64(canonical)), nil
}

func resourceSegment(resource string) string {
	if len(resource) <= maxResourceInKey && !strings.ContainsAny(resource, "\r\n") {
		return resource
	}
	return fmt.Sprintf("#%016x", xxhash.Sum64String(resource))
}

// Canonicalize produces a deterministic JSON representation of v.
func Canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return canonicalJSON.Marshal(v)
}

var _ Keyer = (*DefaultKeyer)(nil)
