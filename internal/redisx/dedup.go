package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup tracks processed event ids per consuming service.
type Dedup struct {
	Client  *redis.Client
	Service string
}

// MarkFirst records id and reports whether this is the first time it was seen.
func (d *Dedup) MarkFirst(ctx context.Context, id string) (bool, error) {
	return d.Client.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}
