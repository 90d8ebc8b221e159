package kv

// StoredValue is spec.md §3's two-variant StoredValue: either Persistent or
// Expiring. A nil ExpiresAt means Persistent; a non-nil one holds the
// absolute expiry as Unix seconds.
type StoredValue struct {
	Data      []byte
	ExpiresAt *int64 // Unix seconds, nil = no expiry
}

// Expired reports whether the value is observationally absent at now
// (spec.md §3 invariant: "a missing or past expiry renders the entry
// observationally absent").
func (v StoredValue) Expired(now int64) bool {
	return v.ExpiresAt != nil && *v.ExpiresAt <= now
}

// TTLSeconds returns the remaining TTL, or -1 if the value never expires,
// or -2 if it has already expired (mirrors Redis's TTL semantics).
func (v StoredValue) TTLSeconds(now int64) int64 {
	if v.ExpiresAt == nil {
		return -1
	}
	remaining := *v.ExpiresAt - now
	if remaining <= 0 {
		return -2
	}
	return remaining
}

func newExpiry(now int64, ttlSecs *int64) *int64 {
	if ttlSecs == nil {
		return nil
	}
	at := now + *ttlSecs
	return &at
}
