package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/auth"
	"github.com/ariefcatur/go-farm-market/internal/config"
	"github.com/ariefcatur/go-farm-market/internal/httpx"
	"github.com/ariefcatur/go-farm-market/internal/inventory"
	kafkax "github.com/ariefcatur/go-farm-market/internal/kafka"
	"github.com/ariefcatur/go-farm-market/internal/lifecycle"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/postgres"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/ariefcatur/go-farm-market/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := telemetry.NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Fatal("tracing")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("db migrate")
		}
	}
	store := &orders.PgStore{DB: db, LockTimeout: cfg.LotLockTimeout}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, caches will miss")
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// Services & handlers
	inv := &inventory.Service{Store: store, Log: log, MaxAttempts: cfg.ReserveMaxAttempts}
	life := &lifecycle.Service{Store: store, Log: log}
	st := &stats.Service{Store: store, Cache: rdb, TTL: cfg.StatsCacheTTL, Log: log}

	router := httpx.NewRouter(log)
	httpx.Mount(router, auth.NewVerifier(cfg.JWTSecret, time.Hour),
		&httpx.LotsHandler{Inventory: inv, Store: store, Stats: st, Events: prod, Service: cfg.ServiceName, Log: log},
		&httpx.OrdersHandler{
			Inventory:    inv,
			Lifecycle:    life,
			Stats:        st,
			Redis:        rdb,
			Events:       prod,
			Limiter:      httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
			Service:      cfg.ServiceName,
			Log:          log,
			PlaceTimeout: cfg.PlaceOrderTimeout,
		},
		&httpx.StatsHandler{Stats: st, Log: log},
	)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush, close writer
	prod.WaitClosed() // drain
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
}
