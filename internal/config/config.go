package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env-sourced value used by the engine. Only this
// struct may be used to read configuration; no direct os.Getenv access
// outside this package.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"billing_engine"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	// Reconciliation
	ReconcileMaxRetries int `env:"RECONCILE_MAX_RETRIES" default:"3"`
	TenantGraceDays     int `env:"TENANT_GRACE_DAYS" default:"15"`

	// Escalation scheduler
	EscalationInterval   time.Duration `env:"ESCALATION_INTERVAL" default:"1h"`
	EscalationMinRunGap  time.Duration `env:"ESCALATION_MIN_RUN_GAP" default:"30m"`
	EscalationWorkers    int           `env:"ESCALATION_WORKERS" default:"8"`
	EscalationTimeBudget time.Duration `env:"ESCALATION_TIME_BUDGET" default:"10m"`

	// Raw webhook payload debug stream
	RawStreamName   string `env:"RAW_STREAM_NAME" default:"webhook:raw"`
	RawStreamMaxLen int64  `env:"RAW_STREAM_MAX_LEN" default:"10000"`

	// Outbound notification transports
	TransportWhatsAppUrl string `env:"TRANSPORT_WHATSAPP_URL"`
	TransportEmailUrl    string `env:"TRANSPORT_EMAIL_URL"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
