// Package httpapi — HTTP-интерфейс витрины: оформление заказа, подарочные коды, вебхуки
// провайдеров оплаты и печати, передача заказа в печать и отслеживание исполнения.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/payments/stripe"
	"github.com/vladislavdragonenkov/printshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/printshop/internal/service/design"
	"github.com/vladislavdragonenkov/printshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/printshop/internal/service/giftcode"
	"github.com/vladislavdragonenkov/printshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/printshop/internal/service/orders"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
	"github.com/vladislavdragonenkov/printshop/internal/service/reconcile"
	"github.com/vladislavdragonenkov/printshop/internal/webhookdedup"
)

const defaultTimeout = 30 * time.Second

// PaymentWebhookVerifier проверяет подпись вебхука платёжного провайдера по сырому телу.
type PaymentWebhookVerifier interface {
	Verify(payload []byte, signature string) (stripe.WebhookEvent, error)
}

// Services — прикладные сервисы, которые обслуживает роутер.
type Services struct {
	Checkout    *checkout.Builder
	GiftCodes   *giftcode.Issuer
	Promo       *promo.Ledger
	Reconciler  *reconcile.Reconciler
	Submitter   *fulfillment.Submitter
	Tracker     *fulfillment.Tracker
	Events      *fulfillment.EventLog
	Orders      *orders.Reader
	Designs     *design.Service
	Idempotency *idempotency.Guard
}

// Config собирает зависимости роутера.
type Config struct {
	Services Services
	Auth     *Authenticator

	PaymentWebhooks          PaymentWebhookVerifier
	FulfillmentWebhookSecret string
	// Dedup может быть nil: тогда повторные доставки отсекаются только хранилищем.
	Dedup webhookdedup.Store

	Logger  *log.Entry
	Metrics *metrics.Metrics
}

type handlers struct {
	svc     Services
	auth    *Authenticator
	payment PaymentWebhookVerifier
	fwhSec  string
	dedup   webhookdedup.Store
	logger  *log.Entry
	metrics *metrics.Metrics
}

// NewRouter строит chi-роутер со всеми маршрутами API.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &handlers{
		svc:     cfg.Services,
		auth:    cfg.Auth,
		payment: cfg.PaymentWebhooks,
		fwhSec:  cfg.FulfillmentWebhookSecret,
		dedup:   cfg.Dedup,
		logger:  logger,
		metrics: cfg.Metrics,
	}
	if h.auth == nil {
		h.auth = NewAuthenticator("", "", "")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(req.Context(), w, newAPIError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(req.Context(), w, newAPIError("method_not_allowed", "method "+req.Method+" not allowed", http.StatusMethodNotAllowed))
	})

	r.Get("/promo-codes/validate", h.validatePromo)
	r.Post("/webhooks/stripe", h.stripeWebhook)
	r.Post("/webhooks/fulfillment", h.fulfillmentWebhook)

	r.With(h.auth.UserOrOperator).Post("/checkout/confirm", h.confirmCheckout)

	r.Group(func(user chi.Router) {
		user.Use(h.auth.RequireUser)

		user.With(idempotent(h.svc.Idempotency, logger)).Post("/checkout", h.createCheckout)
		user.With(idempotent(h.svc.Idempotency, logger)).Post("/gift-codes/purchase", h.purchaseGiftCode)

		user.Get("/orders", h.listOrders)
		user.Route("/orders/{orderID}", func(order chi.Router) {
			order.Get("/", h.getOrder)
			order.Post("/submit-fulfillment", h.submitFulfillment)
			order.Get("/tracking", h.tracking)
			order.Post("/designs", h.attachDesign)
			order.Post("/designs/{assetID}/approve", h.approveDesign)
		})
	})

	return r
}

// requestLogger пишет строку лога и метрику длительности на каждый запрос.
func requestLogger(logger *log.Entry, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := ""
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}
				took := time.Since(start)
				m.ObserveHTTPRequest(r.Method, route, status, took)

				entry := logger.WithFields(log.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"duration_ms": took.Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				})
				if status >= http.StatusInternalServerError {
					entry.Warn("http request")
					return
				}
				entry.Debug("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (h *handlers) userID(r *http.Request) string {
	id, _ := IdentityFrom(r.Context())
	return id.UserID
}
