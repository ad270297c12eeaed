package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr string
	OpsAddr  string
	GRPCAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список через запятую; пустое значение отключает публикацию outbox.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaClientID string
	// RedisAddr — адрес Redis для дедупликации вебхуков; пустое значение включает in-memory фильтр.
	RedisAddr string

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	PrintProviderURL         string
	PrintProviderToken       string
	FulfillmentWebhookSecret string

	AuthJWTSecret string
	AuthJWTIssuer string
	OperatorToken string

	CatalogFile string

	// AllowMockIntegrations разрешает работу без Stripe и провайдера печати (локальная разработка).
	AllowMockIntegrations bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	WebhookDedupTTL time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		OpsAddr:                     ":9090",
		GRPCAddr:                    ":50051",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaClientID:               "printshop-api",
		CheckoutSuccessURL:          "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CheckoutCancelURL:           "http://localhost:3000/cart",
		AuthJWTIssuer:               "printshop",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		WebhookDedupTTL:             72 * time.Hour,
		ShutdownTimeout:             10 * time.Second,
	}
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Validate отклоняет несовместимые комбинации настроек. Возвращает все найденные ошибки сразу.
func (c Config) Validate() error {
	var errs []error
	for _, addr := range []struct{ name, value string }{
		{"http addr", c.HTTPAddr},
		{"ops addr", c.OpsAddr},
		{"grpc addr", c.GRPCAddr},
	} {
		if strings.TrimSpace(addr.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", addr.name))
		}
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.AuthJWTSecret) == "" {
		errs = append(errs, errors.New("auth jwt secret is required"))
	}

	if c.StripeSecretKey != "" {
		if c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("stripe webhook secret is required with stripe secret key"))
		}
		if c.CheckoutSuccessURL == "" || c.CheckoutCancelURL == "" {
			errs = append(errs, errors.New("checkout success and cancel urls are required"))
		}
	} else if !c.AllowMockIntegrations {
		errs = append(errs, errors.New("stripe secret key is required unless mock integrations are allowed"))
	}

	if c.PrintProviderURL != "" {
		if c.FulfillmentWebhookSecret == "" {
			errs = append(errs, errors.New("fulfillment webhook secret is required with print provider url"))
		}
	} else if !c.AllowMockIntegrations {
		errs = append(errs, errors.New("print provider url is required unless mock integrations are allowed"))
	}

	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox settings must be > 0"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be > 0"))
	}
	return errors.Join(errs...)
}
