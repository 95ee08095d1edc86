package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/fleetbill/billing-engine/internal/config"
	"github.com/fleetbill/billing-engine/internal/escalation"
	gateway "github.com/fleetbill/billing-engine/internal/gateways"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"github.com/fleetbill/billing-engine/pkg/prom"
	"github.com/fleetbill/billing-engine/pkg/redis"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	notifier, err := buildNotifier()
	if err != nil {
		logger.Error("failed to create transport client", "error", err)
		return
	}

	paymentRepo := repository.NewPaymentRepository(db)
	clientRepo := repository.NewClientRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	escalationRepo := repository.NewEscalationRepository(db)
	execLogRepo := repository.NewExecutionLogRepository(db)

	scheduler := escalation.NewScheduler(tenantRepo, paymentRepo, clientRepo, escalationRepo, execLogRepo, notifier, redisAdap, escalation.SchedulerConfig{
		MinRunGap: config.Get().EscalationMinRunGap,
		Workers:   config.Get().EscalationWorkers,
	})

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServe(":9100", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(config.Get().EscalationInterval)
	defer ticker.Stop()

	logger.Info("escalation scheduler started",
		"interval", config.Get().EscalationInterval.String(),
		"workers", config.Get().EscalationWorkers)

	runOnce(scheduler)
	for {
		select {
		case <-ticker.C:
			runOnce(scheduler)
		case <-c:
			logger.Info("escalation scheduler stopping")
			return
		}
	}
}

func runOnce(scheduler *escalation.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), config.Get().EscalationTimeBudget)
	defer cancel()

	results, err := scheduler.Run(ctx, escalation.Options{Trigger: "cron"})
	if err != nil {
		if errors.Is(err, escalation.ErrRateLimited) {
			logger.Info("escalation run skipped, ran too recently")
			return
		}
		logger.Error("escalation run failed", "error", err)
		return
	}
	logger.Info("escalation run finished",
		"processed", results.Processed,
		"statusUpdated", results.StatusUpdated,
		"notifications", results.Notifications,
		"errors", results.Errors)
}

func buildNotifier() (escalation.Notifier, error) {
	var transports []gateway.TransportConfig
	if url := config.Get().TransportWhatsAppUrl; url != "" {
		transports = append(transports, gateway.TransportConfig{Name: "whatsapp", URL: url, Weight: 100})
	}
	if url := config.Get().TransportEmailUrl; url != "" {
		transports = append(transports, gateway.TransportConfig{Name: "email", URL: url, Weight: 60})
	}
	if len(transports) == 0 {
		logger.Warn("no notification transports configured, escalations will not notify")
		return nil, nil
	}

	client, err := gateway.NewClient(&gateway.Config{
		Transports:              transports,
		Timeout:                 10 * time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Second,
		MaxConns:                100,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return gateway.NewNotifier(client), nil
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
