package persist

import (
	"fmt"
	"time"

	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the durable form of a cache entry. Value holds the codec-encoded
// payload; access bookkeeping is not persisted.
type Record struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// TTL is the record's lifetime from creation, or zero when it never expires.
func (r Record) TTL() time.Duration {
	if r.ExpiresAt.IsZero() || r.CreatedAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(r.CreatedAt)
}

// HasAnyTag reports whether the record carries at least one of tags.
func (r Record) HasAnyTag(tags map[string]struct{}) bool {
	for _, t := range r.Tags {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

// Record format markers, stored as the first byte.
const (
	formatJSON   byte = 'j'
	formatSnappy byte = 's'
)

// MarshalRecord serializes r, snappy-compressing it when compress is set.
func MarshalRecord(r Record, compress bool) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal record: %w", err)
	}
	if !compress {
		return append([]byte{formatJSON}, body...), nil
	}
	out := make([]byte, 1, 1+snappy.MaxEncodedLen(len(body)))
	out[0] = formatSnappy
	return append(out, snappy.Encode(nil, body)...), nil
}

// UnmarshalRecord decodes data written by MarshalRecord in either format.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if len(data) < 2 {
		return r, ErrCorruptRecord
	}

	body := data[1:]
	switch data[0] {
	case formatJSON:
	case formatSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return r, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		body = decoded
	default:
		return r, fmt.Errorf("%w: unknown format %q", ErrCorruptRecord, data[0])
	}

	if err := json.Unmarshal(body, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return r, nil
}
