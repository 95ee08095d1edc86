package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fleetbill/billing-engine/internal/config"
	"github.com/fleetbill/billing-engine/internal/escalation"
	gateway "github.com/fleetbill/billing-engine/internal/gateways"
	"github.com/fleetbill/billing-engine/internal/handlers"
	"github.com/fleetbill/billing-engine/internal/normalizer"
	"github.com/fleetbill/billing-engine/internal/recon"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/internal/services"
	xhttp "github.com/fleetbill/billing-engine/pkg/http"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"github.com/fleetbill/billing-engine/pkg/redis"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	pgDebug := config.Get().AppEnv == "dev"
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

	paymentRepo := repository.NewPaymentRepository(db)
	clientRepo := repository.NewClientRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	escalationRepo := repository.NewEscalationRepository(db)
	execLogRepo := repository.NewExecutionLogRepository(db)

	effects := recon.NewEffectExecutor(paymentRepo, clientRepo, tenantRepo, config.Get().TenantGraceDays, time.Now)
	reconciler := recon.NewReconciler(paymentRepo, effects, execLogRepo, config.Get().ReconcileMaxRetries)

	notifier := buildNotifier()
	scheduler := escalation.NewScheduler(tenantRepo, paymentRepo, clientRepo, escalationRepo, execLogRepo, notifier, redisAdap, escalation.SchedulerConfig{
		MinRunGap: config.Get().EscalationMinRunGap,
		Workers:   config.Get().EscalationWorkers,
	})

	billingService := services.NewBillingService(paymentRepo, clientRepo, execLogRepo)
	healthService := services.NewHealthService(db)

	registry := normalizer.NewRegistry(normalizer.NewCanonicalAdapter("canonical"))

	webhookHandler := handlers.NewWebhookHandler(registry, reconciler, redisAdap,
		config.Get().RawStreamName, config.Get().RawStreamMaxLen)
	jobHandler := handlers.NewJobHandler(scheduler)
	paymentHandler := handlers.NewPaymentHandler(billingService, escalationRepo)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterJobRoutes(g, jobHandler)
	handlers.RegisterPaymentRoutes(g, paymentHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(config.Get().HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}

// buildNotifier wires the outbound transport client when endpoints are
// configured; the API process can run without one because escalation
// is normally the scheduler's job.
func buildNotifier() escalation.Notifier {
	var transports []gateway.TransportConfig
	if url := config.Get().TransportWhatsAppUrl; url != "" {
		transports = append(transports, gateway.TransportConfig{Name: "whatsapp", URL: url, Weight: 100})
	}
	if url := config.Get().TransportEmailUrl; url != "" {
		transports = append(transports, gateway.TransportConfig{Name: "email", URL: url, Weight: 60})
	}
	if len(transports) == 0 {
		return nil
	}

	client, err := gateway.NewClient(&gateway.Config{
		Transports:              transports,
		Timeout:                 10 * time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Second,
		MaxConns:                100,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	})
	if err != nil {
		logger.Error("failed creating transport client", "error", err)
		return nil
	}
	return gateway.NewNotifier(client)
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
