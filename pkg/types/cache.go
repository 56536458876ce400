package types

import "time"

// CachedResponse is a stored idempotent read response. Owned exclusively by
// the response cache; never created for mutating operations.
type CachedResponse struct {
	Signature   string    `json:"signature"`
	Payload     []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// Expired reports whether the entry is past its TTL at the given instant
func (c *CachedResponse) Expired(now time.Time) bool {
	return now.After(c.StoredAt.Add(time.Duration(c.TTLSeconds) * time.Second))
}
