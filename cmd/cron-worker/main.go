package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/UDDITwork/ZAMMER-sub011/internal/cod"
	"github.com/UDDITwork/ZAMMER-sub011/internal/cron"
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

const lockKeyFormat = "zm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	// The worker has no SSE subscribers; the publisher mirrors every event on
	// the Redis channel so api instances deliver them.
	dispatcher := events.NewDispatcher(cfg.Events.ChannelBuffer, logg)
	publisher, err := events.NewPublisher(dispatcher, redisClient, cfg.Events.RedisChannel, logg)
	if err != nil {
		logg.Error(ctx, "failed to create event publisher", err)
		os.Exit(1)
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

	sweepJob, err := cron.NewApprovalSweepJob(cron.ApprovalSweepJobParams{
		Logger:   logg,
		Approver: fulfillmentService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create approval sweep job", err)
		os.Exit(1)
	}
	resumeJob, err := cron.NewCodResumeJob(cron.CodResumeJobParams{
		Logger:  logg,
		Resumer: codService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cod resume job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, resumeJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Fulfillment.SweepInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	runCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
