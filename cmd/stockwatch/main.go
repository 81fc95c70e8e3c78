package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-store-orders/internal/config"
	kafkax "github.com/ariefcatur/go-store-orders/internal/kafka"
	"github.com/ariefcatur/go-store-orders/internal/logx"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/stockwatch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	name := cfg.ServiceName + "-stockwatch"
	logger, err := logx.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", name))

	if !cfg.EventsEnabled() {
		logger.Fatal("KAFKA_BROKERS is empty; stockwatch has nothing to consume")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicProductStockLow, 256, logger)
	alerts.Start(ctx)

	svc := &stockwatch.Service{
		Alerts:      alerts,
		Threshold:   cfg.LowStockThreshold,
		ServiceName: name,
		Log:         logger,
	}
	if cfg.IdempotencyEnabled() {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Dedup = &redisx.Dedup{Client: rdb, Service: "stockwatch"}
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, orders.TopicOrderCreated, cfg.StockwatchWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("consumer started",
			zap.String("group", cfg.StockwatchGroup),
			zap.String("topic", orders.TopicOrderCreated),
			zap.Int("workers", cfg.StockwatchWorkers),
			zap.Int("threshold", cfg.LowStockThreshold),
		)
		if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
	alerts.Close()
	alerts.WaitClosed()
}
