// Package entity defines the canonical searchable record shared by every
// artifact type, and the normalizers that produce it.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of artifact behind a searchable entity.
type Type string

const (
	TypeDocument Type = "document"
	TypeMeeting  Type = "meeting"
	TypeTestCase Type = "test_case"
	TypeTicket   Type = "ticket"
)

// AllTypes lists every entity type, in stats reporting order.
var AllTypes = []Type{TypeDocument, TypeMeeting, TypeTestCase, TypeTicket}

// Valid reports whether t is one of the known entity types.
func (t Type) Valid() bool {
	switch t {
	case TypeDocument, TypeMeeting, TypeTestCase, TypeTicket:
		return true
	}
	return false
}

// Field is a single metadata key-value pair.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered key-value mapping. Order is preserved so that
// normalization stays deterministic and display order is stable.
type Metadata []Field

// Get returns the value for key, and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set appends or replaces the value for key, preserving insertion order.
func (m Metadata) Set(key, value string) Metadata {
	for i, f := range m {
		if f.Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, Field{Key: key, Value: value})
}

// MarshalJSON renders metadata as a JSON object with keys in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON accepts a JSON object. Go map iteration order is not stable,
// so round-tripped metadata keeps content but not necessarily order; only
// the normalizer's original output order is guaranteed.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metadata, 0, len(raw))
	for k, v := range raw {
		out = out.Set(k, v)
	}
	*m = out
	return nil
}

// SearchableEntity is the unified record every indexable artifact is
// normalized into before chunking and embedding.
type SearchableEntity struct {
	// ID is deterministic given the artifact's natural key: the same
	// artifact always normalizes to the same entity ID.
	ID string

	Type     Type
	TenantID string

	// Content is the formatted text; never empty after normalization.
	Content string

	Metadata Metadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityID derives the deterministic entity ID for an artifact's natural key
// within a tenant and type.
func EntityID(tenantID string, entityType Type, naturalKey string) string {
	input := fmt.Sprintf("%s:%s:%s", tenantID, entityType, naturalKey)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
