package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-store-orders/internal/orders"
)

const pendingMarker = "pending"

// IdempotencyStore binds idempotency keys to requests with SETNX. A claimed
// key holds "{fingerprint}|pending" until the order commits and
// "{fingerprint}|{order_id}" afterwards.
type IdempotencyStore struct {
	Client *redis.Client
}

func (s *IdempotencyStore) Claim(ctx context.Context, key, fingerprint string) (orders.IdempotencyClaim, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	ok, err := s.Client.SetNX(ctx, k, fingerprint+"|"+pendingMarker, TTLIdempotencyPending).Result()
	if err != nil {
		return orders.IdempotencyClaim{}, err
	}
	if ok {
		return orders.IdempotencyClaim{Owned: true, Fingerprint: fingerprint}, nil
	}

	v, err := s.Client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return orders.IdempotencyClaim{}, fmt.Errorf("idempotency key %q expired while claiming", key)
	}
	if err != nil {
		return orders.IdempotencyClaim{}, err
	}
	return decodeClaim(key, v)
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, orderID int64) error {
	v := fingerprint + "|" + strconv.FormatInt(orderID, 10)
	return s.Client.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), v, TTLIdempotency).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.Client.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}

func decodeClaim(key, v string) (orders.IdempotencyClaim, error) {
	fp, state, ok := strings.Cut(v, "|")
	if !ok || fp == "" {
		return orders.IdempotencyClaim{}, fmt.Errorf("idempotency key %q holds %q", key, v)
	}
	if state == pendingMarker {
		return orders.IdempotencyClaim{Fingerprint: fp}, nil
	}
	id, err := strconv.ParseInt(state, 10, 64)
	if err != nil || id <= 0 {
		return orders.IdempotencyClaim{}, fmt.Errorf("idempotency key %q holds %q", key, v)
	}
	return orders.IdempotencyClaim{Fingerprint: fp, OrderID: id}, nil
}
