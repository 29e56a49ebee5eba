package cache

import (
	"encoding/json"
	"time"
)

// Entry is the immutable value wrapper stored by both cache tiers. Updates
// replace the whole entry, never mutate it in place. Each tier holds its own
// copy, so mutating a returned entry never leaks into a tier.
type Entry struct {
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	TTLSeconds int             `json:"ttl_seconds"`
	Tags       []string        `json:"tags,omitempty"`
}

// NewEntry builds an entry stamped with the given creation instant.
func NewEntry(data json.RawMessage, strategy Strategy, now time.Time) *Entry {
	return &Entry{
		Data:       data,
		Timestamp:  now,
		TTLSeconds: int(strategy.TTL / time.Second),
		Tags:       strategy.Tags,
	}
}

// TTL returns the entry's time-to-live as a duration.
func (e *Entry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Fresh reports whether the entry is still within its TTL at the given instant.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL()
}

// Strategy describes how an entry is written: how long it lives and which
// invalidation tags it carries.
type Strategy struct {
	TTL  time.Duration
	Tags []string
}

// Predefined write strategies.
var (
	StrategyShort  = Strategy{TTL: 5 * time.Minute}
	StrategyMedium = Strategy{TTL: 30 * time.Minute}
	StrategyLong   = Strategy{TTL: time.Hour}
	StrategyDaily  = Strategy{TTL: 24 * time.Hour}
	StrategyStatic = Strategy{TTL: 7 * 24 * time.Hour}
)

// Conventional namespaces. These are a naming convention for callers, not
// enforced anywhere.
const (
	NamespaceOrganizations = "organizations"
	NamespaceUsers         = "users"
	NamespaceAssessments   = "assessments"
	NamespaceAPIResponses  = "api-responses"
)

// Key builds the canonical cache key for a namespace/key pair. Callers are
// responsible for avoiding separator collisions in either part.
func Key(namespace, key string) string {
	return namespace + ":" + key
}
