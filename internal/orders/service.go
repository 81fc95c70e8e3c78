package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence boundary of the service. PlaceOrder must apply
// the stock decrement and the order insert atomically.
type Store interface {
	PlaceOrder(ctx context.Context, in NewOrder) (Placement, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	CreateProduct(ctx context.Context, in NewProduct) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Publisher delivers an encoded event envelope. Delivery is asynchronous.
type Publisher interface {
	PublishEvent(key []byte, eventType string, value []byte)
}

// IdempotencyClaim is the state of an idempotency key after Claim.
type IdempotencyClaim struct {
	// Owned is true when this call reserved the key.
	Owned bool
	// Fingerprint identifies the request the key is bound to.
	Fingerprint string
	// OrderID is zero while the owning request is still in flight.
	OrderID int64
}

// IdempotencyStore binds a client supplied key to one request and, once
// that request succeeds, to the order it created. Claim must be atomic.
type IdempotencyStore interface {
	Claim(ctx context.Context, key, fingerprint string) (IdempotencyClaim, error)
	Complete(ctx context.Context, key, fingerprint string, orderID int64) error
	Release(ctx context.Context, key string) error
}

type Service struct {
	Store Store
	// Optional.
	Events Publisher
	// Optional.
	Idempotency IdempotencyStore
	Log         *zap.Logger
	ServiceName string
}

type CreateOptions struct {
	IdempotencyKey string
	TraceID        string
}

// CreateOrder validates the candidate and places it.
//
// With an idempotency key the key is claimed before anything is mutated.
// A key already bound to the same request returns that order with
// replayed=true; a key bound to another request fails with
// ErrIdempotencyKeyReused, and one whose request is still running fails
// with ErrIdempotencyInProgress. If the idempotency store is unreachable
// the order is placed without it.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder, opts CreateOptions) (o Order, replayed bool, err error) {
	in, err = in.Normalize()
	if err != nil {
		return Order{}, false, err
	}

	key := opts.IdempotencyKey
	fp := in.Fingerprint()
	if key != "" && s.Idempotency != nil {
		claim, err := s.Idempotency.Claim(ctx, key, fp)
		switch {
		case err != nil:
			s.log().Warn("idempotency claim, placing order without it", zap.String("key", key), zap.Error(err))
			key = ""
		case !claim.Owned:
			o, err := s.replay(ctx, claim, fp)
			if err != nil {
				return Order{}, false, err
			}
			return o, true, nil
		}
	} else {
		key = ""
	}

	pl, err := s.Store.PlaceOrder(ctx, in)
	if err != nil {
		if key != "" {
			if rerr := s.Idempotency.Release(context.WithoutCancel(ctx), key); rerr != nil {
				s.log().Warn("release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}
		return Order{}, false, err
	}
	s.log().Info("order placed",
		zap.Int64("order_id", pl.Order.ID),
		zap.Int64("product_id", pl.Order.ProductID),
		zap.Int("quantity", pl.Order.Quantity),
		zap.Int("remaining_stock", pl.RemainingStock),
	)

	if key != "" {
		if err := s.Idempotency.Complete(context.WithoutCancel(ctx), key, fp, pl.Order.ID); err != nil {
			s.log().Warn("complete idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	// The order is committed at this point; a failed publish must not fail the request.
	if err := s.publishOrderCreated(pl, opts.TraceID); err != nil {
		s.log().Error("publish order created", zap.Int64("order_id", pl.Order.ID), zap.Error(err))
	}
	return pl.Order, false, nil
}

func (s *Service) replay(ctx context.Context, claim IdempotencyClaim, fp string) (Order, error) {
	switch {
	case claim.Fingerprint != fp:
		return Order{}, ErrIdempotencyKeyReused
	case claim.OrderID == 0:
		return Order{}, ErrIdempotencyInProgress
	}
	return s.Store.GetOrder(ctx, claim.OrderID)
}

func (s *Service) publishOrderCreated(pl Placement, traceID string) error {
	if s.Events == nil {
		return nil
	}
	payload, err := json.Marshal(OrderCreatedPayload{
		OrderID:        pl.Order.ID,
		ProductID:      pl.Order.ProductID,
		Quantity:       pl.Order.Quantity,
		RemainingStock: pl.RemainingStock,
		CreatedAt:      pl.Order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderCreated,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: fmt.Sprint(pl.Order.ID),
		Payload:       payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	s.Events.PublishEvent(PartitionKey(pl.Order.ProductID), EventOrderCreated, b)
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.Store.GetOrder(ctx, id)
}

// ListOrders returns all orders in insertion order.
func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.Store.ListOrders(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (Product, error) {
	in, err := in.Normalize()
	if err != nil {
		return Product{}, err
	}
	p, err := s.Store.CreateProduct(ctx, in)
	if err != nil {
		return Product{}, err
	}
	s.log().Info("product created", zap.Int64("product_id", p.ID), zap.Int("stock", p.Stock))
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.Store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
