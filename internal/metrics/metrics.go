package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Виды операционных аномалий: оплата прошла, но последующий шаг не выполнен.
const (
	AnomalyPromoClaimRejected = "promo_claim_rejected"
	AnomalyPaymentMismatch    = "payment_mismatch"
	AnomalyGiftMintFailed     = "gift_mint_failed"
	AnomalyUnknownSessionKind = "unknown_session_kind"
)

// Metrics собирает метрики сверки платежей и исполнения заказов.
// Нулевой указатель допустим: все методы тогда ничего не делают.
type Metrics struct {
	checkoutsCreated       *prometheus.CounterVec
	paymentsReconciled     *prometheus.CounterVec
	promoClaims            *prometheus.CounterVec
	anomalies              *prometheus.CounterVec
	fulfillmentSubmissions *prometheus.CounterVec
	fulfillmentEvents      *prometheus.CounterVec
	giftCodesMinted        prometheus.Counter
	providerCallDuration   *prometheus.HistogramVec
	webhooks               *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec

	outboxPublishAttempts  *prometheus.CounterVec
	outboxPendingRecords   prometheus.Gauge
	outboxOldestPendingAge prometheus.Gauge

	idempotencyCleanupRuns    *prometheus.CounterVec
	idempotencyCleanupDeleted prometheus.Counter
	idempotencyLastDeleted    prometheus.Gauge
}

// New регистрирует коллекторы в registerer; nil означает prometheus.DefaultRegisterer.
// Повторная регистрация возвращает уже существующие коллекторы.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		checkoutsCreated: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_checkouts_created_total",
			Help: "Checkout sessions created, by kind (order, gift_code).",
		}, []string{"kind"})),
		paymentsReconciled: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_payments_reconciled_total",
			Help: "Payment confirmations processed, by result.",
		}, []string{"result"})),
		promoClaims: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_promo_claims_total",
			Help: "Promo slot claims at payment confirmation, by result.",
		}, []string{"result"})),
		anomalies: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_reconcile_anomalies_total",
			Help: "Operational anomalies requiring manual settlement, by kind.",
		}, []string{"kind"})),
		fulfillmentSubmissions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_fulfillment_submissions_total",
			Help: "Fulfillment submission attempts, by result.",
		}, []string{"result"})),
		fulfillmentEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_fulfillment_events_total",
			Help: "Fulfillment events received, by kind and result (recorded, duplicate).",
		}, []string{"kind", "result"})),
		giftCodesMinted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printshop_gift_codes_minted_total",
			Help: "Gift codes minted after successful payment.",
		})),
		providerCallDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "printshop_provider_call_duration_seconds",
			Help:    "Latency of external provider calls.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "operation", "result"})),
		webhooks: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_webhooks_received_total",
			Help: "Inbound webhook deliveries, by source and result.",
		}, []string{"source", "result"})),
		httpRequestDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "printshop_http_request_duration_seconds",
			Help:    "Latency of storefront HTTP requests, by route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"})),
		outboxPublishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_outbox_publish_attempts_total",
			Help: "Outbox publish attempts, by result.",
		}, []string{"result"})),
		outboxPendingRecords: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printshop_outbox_pending_records",
			Help: "Pending records in the transactional outbox.",
		})),
		outboxOldestPendingAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printshop_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record.",
		})),
		idempotencyCleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printshop_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs, by result.",
		}, []string{"result"})),
		idempotencyCleanupDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printshop_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency records deleted.",
		})),
		idempotencyLastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printshop_idempotency_cleanup_last_deleted",
			Help: "Records deleted by the last cleanup run.",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// CheckoutCreated учитывает созданную checkout-сессию.
func (m *Metrics) CheckoutCreated(kind string) {
	if m == nil {
		return
	}
	m.checkoutsCreated.WithLabelValues(kind).Inc()
}

// PaymentReconciled учитывает результат обработки подтверждения оплаты.
func (m *Metrics) PaymentReconciled(result string) {
	if m == nil {
		return
	}
	m.paymentsReconciled.WithLabelValues(result).Inc()
}

// PromoClaim учитывает попытку занять слот промокода.
func (m *Metrics) PromoClaim(claimed bool) {
	if m == nil {
		return
	}
	result := "claimed"
	if !claimed {
		result = "rejected"
	}
	m.promoClaims.WithLabelValues(result).Inc()
}

// Anomaly учитывает аномалию для ручного разбора.
func (m *Metrics) Anomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

// FulfillmentSubmission учитывает попытку передачи заказа в печать.
func (m *Metrics) FulfillmentSubmission(result string) {
	if m == nil {
		return
	}
	m.fulfillmentSubmissions.WithLabelValues(result).Inc()
}

// FulfillmentEvent учитывает входящее событие исполнения.
func (m *Metrics) FulfillmentEvent(kind string, recorded bool) {
	if m == nil {
		return
	}
	result := "recorded"
	if !recorded {
		result = "duplicate"
	}
	m.fulfillmentEvents.WithLabelValues(kind, result).Inc()
}

// GiftCodeMinted учитывает выпущенный подарочный код.
func (m *Metrics) GiftCodeMinted() {
	if m == nil {
		return
	}
	m.giftCodesMinted.Inc()
}

// ObserveProviderCall записывает длительность внешнего вызова.
func (m *Metrics) ObserveProviderCall(provider, operation string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCallDuration.WithLabelValues(provider, operation, result).Observe(took.Seconds())
}

// Webhook учитывает входящий вебхук.
func (m *Metrics) Webhook(source, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(source, result).Inc()
}

// ObserveHTTPRequest записывает длительность HTTP-запроса; route задаётся шаблоном маршрута chi.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(took.Seconds())
}

// OutboxPublish учитывает попытку публикации из outbox.
func (m *Metrics) OutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishAttempts.WithLabelValues(result).Inc()
}

// OutboxBacklog выставляет размер и возраст backlog.
func (m *Metrics) OutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPendingRecords.Set(float64(pending))
	m.outboxOldestPendingAge.Set(oldestAge.Seconds())
}

// IdempotencyCleanup учитывает прогон очистки ключей идемпотентности.
func (m *Metrics) IdempotencyCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.idempotencyCleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.idempotencyCleanupRuns.WithLabelValues("ok").Inc()
	m.idempotencyCleanupDeleted.Add(float64(deleted))
	m.idempotencyLastDeleted.Set(float64(deleted))
}
