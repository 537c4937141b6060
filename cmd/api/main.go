package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/UDDITwork/ZAMMER-sub011/api/routes"
	"github.com/UDDITwork/ZAMMER-sub011/internal/cod"
	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	"github.com/UDDITwork/ZAMMER-sub011/internal/otp"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/db"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/gateway"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/metrics"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/migrate"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/redis"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/sms"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap payment gateway", err)
		os.Exit(1)
	}

	smsClient, err := sms.NewClient(cfg.Sms, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap sms client", err)
		os.Exit(1)
	}

	otpService, err := otp.NewService(redisClient, smsClient, cfg.Otp, logg)
	if err != nil {
		logg.Error(ctx, "failed to create otp service", err)
		os.Exit(1)
	}

	dispatcher := events.NewDispatcher(cfg.Events.ChannelBuffer, logg)
	publisher, err := events.NewPublisher(dispatcher, redisClient, cfg.Events.RedisChannel, logg)
	if err != nil {
		logg.Error(ctx, "failed to create event publisher", err)
		os.Exit(1)
	}
	if !cfg.Events.DisableBridge {
		bridge, err := events.NewBridge(dispatcher, redisClient, cfg.Events.RedisChannel, publisher.Origin(), logg)
		if err != nil {
			logg.Error(ctx, "failed to create event bridge", err)
			os.Exit(1)
		}
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "event bridge stopped unexpectedly", err)
			}
		}()
	}

	repo := fulfillment.NewRepository(dbClient.DB())
	fulfillmentService, err := fulfillment.NewService(repo, dbClient, publisher, otpService, cfg.Fulfillment)
	if err != nil {
		logg.Error(ctx, "failed to create fulfillment service", err)
		os.Exit(1)
	}

	pollerMetrics := metrics.NewCodPollerMetrics(prometheus.DefaultRegisterer)
	poller := cod.NewPoller(gatewayClient, nil, cfg.CodPolling, pollerMetrics, logg)
	defer poller.Close()

	codService, err := cod.NewService(repo, dbClient, publisher, fulfillmentService, gatewayClient, poller)
	if err != nil {
		logg.Error(ctx, "failed to create cod service", err)
		os.Exit(1)
	}
	poller.BindSettler(codService)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Fulfillment: fulfillmentService,
			Cod:         codService,
			Dispatcher:  dispatcher,
		}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down api server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "api server shut down gracefully")
}
