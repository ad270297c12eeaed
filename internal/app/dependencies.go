package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/payments/stripe"
	"github.com/vladislavdragonenkov/printshop/internal/printprovider"
	"github.com/vladislavdragonenkov/printshop/internal/service/payment"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/printshop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/printshop/internal/webhookdedup"
)

const redisPingTimeout = 2 * time.Second

// runtimeDependencies — внешние ресурсы сервиса: хранилище, провайдеры, брокер.
type runtimeDependencies struct {
	store           domain.Store
	catalog         *catalog.Catalog
	checkout        domain.CheckoutProvider
	paymentWebhooks *stripe.WebhookVerifier
	fulfillment     domain.FulfillmentProvider
	dedup           webhookdedup.Store
	redis           *redis.Client
	producer        *kafka.Producer

	closers []func() error
}

// initRuntimeDependencies поднимает ресурсы по конфигурации. При ошибке уже открытое закрывается.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry, m *metrics.Metrics) (_ *runtimeDependencies, err error) {
	deps := &runtimeDependencies{}
	defer func() {
		if err != nil {
			deps.Close(logger)
		}
	}()

	if err = deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}

	// пустой путь означает встроенный каталог
	if deps.catalog, err = catalog.Load(cfg.CatalogFile); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	if err = deps.initPayments(cfg, logger, m); err != nil {
		return nil, err
	}
	if err = deps.initFulfillment(cfg, logger, m); err != nil {
		return nil, err
	}
	deps.initDedup(ctx, cfg, logger)

	deps.initKafka(cfg, logger)
	return deps, nil
}

func (d *runtimeDependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		d.store = memory.NewStore()
		logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return errors.New("postgres dsn is required for postgres storage")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		d.store = store
		return nil
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) initPayments(cfg Config, logger *log.Entry, m *metrics.Metrics) error {
	if cfg.StripeWebhookSecret != "" {
		d.paymentWebhooks = stripe.NewWebhookVerifier(cfg.StripeWebhookSecret)
	}
	if cfg.StripeSecretKey == "" {
		if !cfg.AllowMockIntegrations {
			return errors.New("stripe secret key is required")
		}
		logger.Warn("stripe is not configured, using mock checkout provider")
		d.checkout = payment.NewMockProvider()
		return nil
	}

	provider, err := stripe.NewProvider(stripe.Config{
		SecretKey:  cfg.StripeSecretKey,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Logger:     logger.WithField("component", "stripe-provider"),
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	d.checkout = provider
	return nil
}

func (d *runtimeDependencies) initFulfillment(cfg Config, logger *log.Entry, m *metrics.Metrics) error {
	if cfg.PrintProviderURL == "" {
		if !cfg.AllowMockIntegrations {
			return errors.New("print provider url is required")
		}
		logger.Warn("print provider is not configured, using mock fulfillment provider")
		d.fulfillment = printprovider.NewMockProvider()
		return nil
	}

	client, err := printprovider.NewClient(printprovider.Config{
		BaseURL: cfg.PrintProviderURL,
		Token:   cfg.PrintProviderToken,
		Logger:  logger.WithField("component", "print-provider-client"),
		Metrics: m,
	})
	if err != nil {
		return err
	}
	d.fulfillment = client
	return nil
}

// initDedup выбирает Redis, если он доступен; иначе остаётся фильтр в памяти процесса.
func (d *runtimeDependencies) initDedup(ctx context.Context, cfg Config, logger *log.Entry) {
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			d.redis = client
			d.dedup = webhookdedup.NewRedisStore(client, cfg.WebhookDedupTTL)
			d.closers = append(d.closers, client.Close)
			logger.WithField("redis_addr", addr).Info("webhook dedup uses redis")
			return
		}
		_ = client.Close()
		logger.WithError(err).WithField("redis_addr", addr).Warn("redis is unavailable, falling back to in-memory webhook dedup")
	}
	d.dedup = webhookdedup.NewMemoryStore(cfg.WebhookDedupTTL)
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) Close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
