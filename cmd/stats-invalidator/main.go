package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-farm-market/internal/config"
	kafkax "github.com/ariefcatur/go-farm-market/internal/kafka"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/ariefcatur/go-farm-market/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	name := cfg.ServiceName + "-stats"
	log, err := telemetry.NewLogger(name, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := &stats.Invalidator{
		Redis: rdb,
		Stats: &stats.Service{Cache: rdb, TTL: cfg.StatsCacheTTL, Log: log},
		Name:  name,
		Log:   log,
	}

	// Consumer
	topics := []string{orders.TopicOrderPlaced, orders.TopicOrderStatusChanged, orders.TopicLotChanged}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StatsGroup, topics, cfg.StatsWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{"group": cfg.StatsGroup, "topics": topics, "workers": cfg.StatsWorkers}).
			Info("stats invalidator started")
		if err := cons.Start(ctx, h.HandleEvent); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
