package stockwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-store-orders/internal/kafka"
	"github.com/ariefcatur/go-store-orders/internal/orders"
)

// Deduper reports whether an event id is being seen for the first time.
type Deduper interface {
	MarkFirst(ctx context.Context, id string) (bool, error)
}

// Service raises ProductStockLow when an order leaves a product at or below
// Threshold units.
type Service struct {
	Dedup       Deduper
	Alerts      orders.Publisher
	Threshold   int
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderCreated is installed as the consumer handler for order.created.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// Poison message: log and let the offset advance.
		s.Log.Error("decode envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.MarkFirst(ctx, env.EventID)
		if err != nil {
			s.Log.Warn("dedup check", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.RemainingStock > s.Threshold {
		return nil
	}

	s.Log.Warn("product stock low",
		zap.Int64("product_id", p.ProductID),
		zap.Int("remaining_stock", p.RemainingStock),
		zap.Int("threshold", s.Threshold),
		zap.Int64("order_id", p.OrderID),
	)
	return s.publishLow(p, env.TraceID)
}

func (s *Service) publishLow(p orders.OrderCreatedPayload, trace string) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventProductStockLow,
		EventVersion:  orders.EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: fmt.Sprint(p.ProductID),
		Payload: kafkax.MustMarshal(orders.ProductStockLowPayload{
			ProductID:      p.ProductID,
			RemainingStock: p.RemainingStock,
			Threshold:      s.Threshold,
			LastOrderID:    p.OrderID,
		}),
	}
	s.Alerts.PublishEvent(orders.PartitionKey(p.ProductID), orders.EventProductStockLow, kafkax.MustMarshal(ev))
	return nil
}
