package redisx

import "time"

const (
	// idem:order:create:{idempotency_key} -> {fingerprint}|{order_id or "pending"}
	KeyIdemOrderCreate = "idem:order:create:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// Bounds how long a crashed request can hold a key.
	TTLIdempotencyPending = time.Minute
	TTLDedup       = 48 * time.Hour
)
