package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/httpapi"
	"github.com/vladislavdragonenkov/printshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/printshop/internal/service/design"
	"github.com/vladislavdragonenkov/printshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/printshop/internal/service/giftcode"
	"github.com/vladislavdragonenkov/printshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/printshop/internal/service/orders"
	"github.com/vladislavdragonenkov/printshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/printshop/internal/service/payment"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
	"github.com/vladislavdragonenkov/printshop/internal/service/reconcile"
)

// dlqTopicSuffix добавляется к топику событий; по умолчанию получается kafka.TopicDeadLetterQueue.
const dlqTopicSuffix = ".dlq"

// buildServices собирает доменные сервисы поверх runtime-зависимостей.
func buildServices(cfg Config, deps *runtimeDependencies, logger *log.Entry, m *metrics.Metrics) httpapi.Services {
	store := deps.store
	ledger := promo.NewLedger(store.Promos(), logger.WithField("component", "promo-ledger"))
	events := fulfillment.NewEventLog(store, logger.WithField("component", "fulfillment-events"), m)

	providerName := "stripe"
	if _, ok := deps.checkout.(*payment.MockProvider); ok {
		providerName = "mock"
	}

	return httpapi.Services{
		Checkout: checkout.NewBuilder(store, deps.catalog, ledger, deps.checkout,
			checkout.WithLogger(logger.WithField("component", "checkout-builder")),
			checkout.WithMetrics(m),
		),
		GiftCodes: giftcode.NewIssuer(store, deps.catalog, deps.checkout, logger.WithField("component", "gift-code-issuer"), m),
		Promo:     ledger,
		Reconciler: reconcile.NewReconciler(store, deps.checkout, ledger,
			reconcile.WithLogger(logger.WithField("component", "payment-reconciler")),
			reconcile.WithMetrics(m),
			reconcile.WithProviderName(providerName),
		),
		Submitter: fulfillment.NewSubmitter(store, deps.fulfillment, events,
			fulfillment.WithLogger(logger.WithField("component", "fulfillment-submitter")),
			fulfillment.WithMetrics(m),
		),
		Tracker:     fulfillment.NewTracker(store, deps.fulfillment, events, logger.WithField("component", "fulfillment-tracker")),
		Events:      events,
		Orders:      orders.NewReader(store),
		Designs:     design.NewService(store.Orders(), logger.WithField("component", "design-service")),
		Idempotency: idempotency.NewGuard(store.Idempotency(), cfg.IdempotencyTTL, logger.WithField("component", "idempotency-guard")),
	}
}

// backgroundWorker — фоновая задача, работающая до отмены ctx.
type backgroundWorker interface {
	Run(ctx context.Context)
}

// buildWorkers собирает outbox worker и очистку ключей идемпотентности.
// Без Kafka outbox worker не создаётся: сообщения остаются pending до появления брокера.
func buildWorkers(cfg Config, deps *runtimeDependencies, logger *log.Entry, m *metrics.Metrics) []backgroundWorker {
	workers := []backgroundWorker{
		idempotency.NewCleanupWorker(deps.store.Idempotency(),
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithMetrics(m),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		),
	}
	if deps.producer == nil {
		return workers
	}

	publisher := kafka.NewOutboxPublisher(deps.producer, cfg.KafkaTopic)
	dlq := kafka.NewOutboxPublisher(deps.producer, publisher.Topic()+dlqTopicSuffix)
	workers = append(workers, outbox.NewWorker(deps.store.Outbox(), publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(m),
		outbox.WithDLQPublisher(dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	))
	return workers
}
