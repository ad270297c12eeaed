package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/app"
	"github.com/vladislavdragonenkov/printshop/internal/version"
)

const (
	envLogFormat = "PRINTSHOP_LOG_FORMAT"
	envLogLevel  = "PRINTSHOP_LOG_LEVEL"

	envHTTPAddr                    = "PRINTSHOP_HTTP_ADDR"
	envOpsAddr                     = "PRINTSHOP_OPS_ADDR"
	envGRPCAddr                    = "PRINTSHOP_GRPC_ADDR"
	envStorageDriver               = "PRINTSHOP_STORAGE_DRIVER"
	envPostgresDSN                 = "PRINTSHOP_POSTGRES_DSN"
	envPostgresAutoMigrate         = "PRINTSHOP_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "PRINTSHOP_KAFKA_BROKERS"
	envKafkaTopic                  = "PRINTSHOP_KAFKA_TOPIC"
	envRedisAddr                   = "PRINTSHOP_REDIS_ADDR"
	envStripeSecretKey             = "PRINTSHOP_STRIPE_SECRET_KEY"
	envStripeWebhookSecret         = "PRINTSHOP_STRIPE_WEBHOOK_SECRET"
	envCheckoutSuccessURL          = "PRINTSHOP_CHECKOUT_SUCCESS_URL"
	envCheckoutCancelURL           = "PRINTSHOP_CHECKOUT_CANCEL_URL"
	envPrintProviderURL            = "PRINTSHOP_PRINT_PROVIDER_URL"
	envPrintProviderToken          = "PRINTSHOP_PRINT_PROVIDER_TOKEN"
	envFulfillmentWebhookSecret    = "PRINTSHOP_FULFILLMENT_WEBHOOK_SECRET"
	envAuthJWTSecret               = "PRINTSHOP_AUTH_JWT_SECRET"
	envAuthJWTIssuer               = "PRINTSHOP_AUTH_JWT_ISSUER"
	envOperatorToken               = "PRINTSHOP_OPERATOR_TOKEN"
	envCatalogFile                 = "PRINTSHOP_CATALOG_FILE"
	envAllowMockIntegrations       = "PRINTSHOP_ALLOW_MOCK_INTEGRATIONS"
	envOutboxPollInterval          = "PRINTSHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "PRINTSHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "PRINTSHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "PRINTSHOP_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "PRINTSHOP_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "PRINTSHOP_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "PRINTSHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envWebhookDedupTTL             = "PRINTSHOP_WEBHOOK_DEDUP_TTL"
	envShutdownTimeout             = "PRINTSHOP_SHUTDOWN_TIMEOUT"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	var warnings []string
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envLogLevel, err))
		} else {
			log.SetLevel(level)
		}
	}
	return warnings
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v, using default", key, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, err)
				return
			}
			*dst = parsed
		}
	}
	positiveInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
			if err != nil {
				warn(key, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, err)
				return
			}
			*dst = parsed
		}
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envOpsAddr, &cfg.OpsAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envStripeSecretKey, &cfg.StripeSecretKey)
	str(envStripeWebhookSecret, &cfg.StripeWebhookSecret)
	str(envCheckoutSuccessURL, &cfg.CheckoutSuccessURL)
	str(envCheckoutCancelURL, &cfg.CheckoutCancelURL)
	str(envPrintProviderURL, &cfg.PrintProviderURL)
	str(envPrintProviderToken, &cfg.PrintProviderToken)
	str(envFulfillmentWebhookSecret, &cfg.FulfillmentWebhookSecret)
	str(envAuthJWTSecret, &cfg.AuthJWTSecret)
	str(envAuthJWTIssuer, &cfg.AuthJWTIssuer)
	str(envOperatorToken, &cfg.OperatorToken)
	str(envCatalogFile, &cfg.CatalogFile)
	boolean(envAllowMockIntegrations, &cfg.AllowMockIntegrations)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	duration(envWebhookDedupTTL, &cfg.WebhookDedupTTL, positive, "must be > 0")
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	warnings := setupLogger(os.LookupEnv)
	cfg, cfgWarnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range append(warnings, cfgWarnings...) {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"ops_addr":       cfg.OpsAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"storage_driver": cfg.StorageDriver,
	}).WithFields(version.Current().Fields()).Info("запускаем printshop-api")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("printshop-api остановлен")
}
