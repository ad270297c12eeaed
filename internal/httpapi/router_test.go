package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/payments/stripe"
	"github.com/vladislavdragonenkov/printshop/internal/printprovider"
	"github.com/vladislavdragonenkov/printshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/printshop/internal/service/design"
	"github.com/vladislavdragonenkov/printshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/printshop/internal/service/giftcode"
	"github.com/vladislavdragonenkov/printshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/printshop/internal/service/orders"
	"github.com/vladislavdragonenkov/printshop/internal/service/payment"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
	"github.com/vladislavdragonenkov/printshop/internal/service/reconcile"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/printshop/internal/webhookdedup"
)

const (
	stripeSecret      = "whsec_router_test"
	fulfillmentSecret = "fulfillment-router-test"
	operatorToken     = "operator-secret"
)

type apiFixture struct {
	ctx      context.Context
	store    *memory.Store
	payments *payment.MockProvider
	printer  *printprovider.MockProvider
	auth     *Authenticator
	server   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := memory.NewStore()
	payments := payment.NewMockProvider()
	printer := printprovider.NewMockProvider()
	m := metrics.New(prometheus.NewRegistry())
	cat := catalog.Default()
	ledger := promo.NewLedger(store.Promos(), nil)
	events := fulfillment.NewEventLog(store, nil, m)
	auth := NewAuthenticator("jwt-test-secret", "printshop-test", operatorToken)

	router := NewRouter(Config{
		Services: Services{
			Checkout:    checkout.NewBuilder(store, cat, ledger, payments, checkout.WithMetrics(m)),
			GiftCodes:   giftcode.NewIssuer(store, cat, payments, nil, m),
			Promo:       ledger,
			Reconciler:  reconcile.NewReconciler(store, payments, ledger, reconcile.WithMetrics(m)),
			Submitter:   fulfillment.NewSubmitter(store, printer, events, fulfillment.WithMetrics(m)),
			Tracker:     fulfillment.NewTracker(store, printer, events, nil),
			Events:      events,
			Orders:      orders.NewReader(store),
			Designs:     design.NewService(store.Orders(), nil),
			Idempotency: idempotency.NewGuard(store.Idempotency(), time.Hour, nil),
		},
		Auth:                     auth,
		PaymentWebhooks:          stripe.NewWebhookVerifier(stripeSecret),
		FulfillmentWebhookSecret: fulfillmentSecret,
		Dedup:                    webhookdedup.NewMemoryStore(time.Hour),
		Metrics:                  m,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{
		ctx:      context.Background(),
		store:    store,
		payments: payments,
		printer:  printer,
		auth:     auth,
		server:   server,
	}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

type call struct {
	method  string
	path    string
	body    string
	user    string
	headers map[string]string
}

func (f *apiFixture) do(t *testing.T, c call) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(c.method, f.server.URL+c.path, bytes.NewBufferString(c.body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, c.user))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

const teeCheckout = `{"items":[{"productId":"tee-classic","variant":"M","quantity":2}],
	"shippingAddress":{"name":"Ann","line1":"1 Main St","city":"Austin","state":"TX","postalCode":"73301","country":"US"}}`

func (f *apiFixture) checkout(t *testing.T, user string) (orderID, sessionID string) {
	t.Helper()
	resp, body := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout, user: user})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["orderId"].(string), body["sessionId"].(string)
}

func (f *apiFixture) stripeEvent(t *testing.T, eventID, eventType, sessionID string) (*http.Response, map[string]any) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":{"id":%q,"object":"checkout.session","payment_status":"paid"}}}`,
		eventID, eventType, sessionID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	return f.do(t, call{
		method:  http.MethodPost,
		path:    "/webhooks/stripe",
		body:    payload,
		headers: map[string]string{stripe.SignatureHeader: signed.Header},
	})
}

func (f *apiFixture) fulfillmentEvent(t *testing.T, eventType, orderID string, created int64) (*http.Response, map[string]any) {
	t.Helper()
	body := fmt.Sprintf(`{"type":%q,"created":%d,"data":{"order":{"id":"pf-%s","external_id":%q}}}`, eventType, created, orderID, orderID)
	return f.do(t, call{
		method:  http.MethodPost,
		path:    "/webhooks/fulfillment",
		body:    body,
		headers: map[string]string{printprovider.SignatureHeader: printprovider.Sign(fulfillmentSecret, []byte(body))},
	})
}

// paidWithDesign проводит заказ через оформление, оплату вебхуком и утверждение макета.
func (f *apiFixture) paidWithDesign(t *testing.T, user string) string {
	t.Helper()
	orderID, sessionID := f.checkout(t, user)

	resp, body := f.do(t, call{
		method: http.MethodPost,
		path:   "/orders/" + orderID + "/designs",
		body:   `{"assetUrl":"https://cdn.example.com/art.png"}`,
		user:   user,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assetID := body["id"].(string)

	resp, body = f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/designs/" + assetID + "/approve", user: user})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	require.NoError(t, f.payments.Complete(sessionID))
	resp, body = f.stripeEvent(t, "evt_"+orderID, "checkout.session.completed", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "processed", body["result"])
	return orderID
}

func TestCheckout_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", body["error"])

	resp, _ = f.do(t, call{
		method:  http.MethodPost,
		path:    "/checkout",
		body:    teeCheckout,
		headers: map[string]string{"Authorization": "Bearer not-a-token"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckout_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty items", `{"items":[]}`, "items"},
		{"incomplete address", `{"items":[{"productId":"hoodie","variant":"L","quantity":1}],"shippingAddress":{"name":"Ann"}}`, "shippingAddress"},
		{"unknown product", `{"items":[{"productId":"mug","variant":"L","quantity":1}]}`, "items[0].productId"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, call{method: http.MethodPost, path: "/checkout", body: tc.body, user: "u-1"})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "validation_error", body["error"])
			assert.Equal(t, tc.field, body["field"])
		})
	}
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{IdempotencyKeyHeader: "checkout-1"}

	first, firstBody := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout, user: "u-1", headers: headers})
	require.Equal(t, http.StatusCreated, first.StatusCode, firstBody)

	second, secondBody := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout, user: "u-1", headers: headers})
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(IdempotentReplayedHeader))
	assert.Equal(t, firstBody["orderId"], secondBody["orderId"])
	assert.Equal(t, 1, f.payments.CreateCalls)

	other, otherBody := f.do(t, call{
		method:  http.MethodPost,
		path:    "/checkout",
		body:    `{"items":[{"productId":"design-file","variant":"png","quantity":1}]}`,
		user:    "u-1",
		headers: headers,
	})
	assert.Equal(t, http.StatusConflict, other.StatusCode)
	assert.Equal(t, "idempotency_conflict", otherBody["error"])

	// тот же ключ другого пользователя не пересекается
	foreign, _ := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout, user: "u-2", headers: headers})
	assert.Equal(t, http.StatusCreated, foreign.StatusCode)
	assert.Empty(t, foreign.Header.Get(IdempotentReplayedHeader))
}

func TestCheckout_ResponseTotals(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, call{method: http.MethodPost, path: "/checkout", body: teeCheckout, user: "u-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["url"])
	totals := body["totals"].(map[string]any)
	assert.Equal(t, float64(4998), totals["subtotal"])
	assert.Equal(t, float64(595), totals["shipping"])
	assert.Equal(t, float64(5593), totals["total"])
}

func TestCheckoutConfirm(t *testing.T) {
	f := newAPIFixture(t)
	orderID, sessionID := f.checkout(t, "u-1")

	resp, body := f.do(t, call{method: http.MethodPost, path: "/checkout/confirm", body: `{"orderId":"` + orderID + `"}`, user: "u-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "sessionId", body["field"])

	resp, _ = f.do(t, call{method: http.MethodPost, path: "/checkout/confirm", body: `{"orderId":"` + orderID + `","sessionId":"` + sessionID + `"}`})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, f.payments.Complete(sessionID))
	confirm := fmt.Sprintf(`{"orderId":%q,"sessionId":%q}`, orderID, sessionID)

	resp, _ = f.do(t, call{method: http.MethodPost, path: "/checkout/confirm", body: confirm, user: "u-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, call{
		method:  http.MethodPost,
		path:    "/checkout/confirm",
		body:    confirm,
		headers: map[string]string{OperatorTokenHeader: operatorToken},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["applied"])

	resp, body = f.do(t, call{method: http.MethodPost, path: "/checkout/confirm", body: confirm, user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])

	order, err := f.store.Orders().Get(f.ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestGiftCodePurchase(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, call{method: http.MethodPost, path: "/gift-codes/purchase", body: `{"tier":"basic"}`})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, call{method: http.MethodPost, path: "/gift-codes/purchase", body: `{"tier":"platinum"}`, user: "u-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "tier", body["field"])

	resp, body = f.do(t, call{method: http.MethodPost, path: "/gift-codes/purchase", body: `{"tier":"standard","usageLimit":3}`, user: "u-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, float64(3*3499), body["price"])
	assert.NotEmpty(t, body["sessionId"])
}

func TestPromoValidate(t *testing.T) {
	f := newAPIFixture(t)
	one := int32(1)
	require.NoError(t, f.store.Promos().Create(f.ctx, domain.PromoCode{ID: "p-1", Code: "SPRING20", Kind: domain.PromoKindPercentOff, PercentOff: 20}))
	require.NoError(t, f.store.Promos().Create(f.ctx, domain.PromoCode{ID: "p-2", Code: "USEDUP", Kind: domain.PromoKindPercentOff, PercentOff: 10, UsageLimit: &one, UsageCount: 1}))
	require.NoError(t, f.store.Promos().Create(f.ctx, domain.PromoCode{ID: "p-3", Code: "OFF", Kind: domain.PromoKindPercentOff, PercentOff: 10, Disabled: true}))

	resp, body := f.do(t, call{method: http.MethodGet, path: "/promo-codes/validate?code=spring20"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "p-1", body["id"])
	assert.Equal(t, "SPRING20", body["code"])
	assert.Equal(t, "percent_off", body["type"])
	assert.Equal(t, float64(20), body["percentOff"])
	assert.Nil(t, body["usageLimit"])

	for _, q := range []string{"", "?code=", "?code=NOPE", "?code=USEDUP", "?code=OFF"} {
		resp, _ := f.do(t, call{method: http.MethodGet, path: "/promo-codes/validate" + q})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestStripeWebhook(t *testing.T) {
	f := newAPIFixture(t)
	orderID, sessionID := f.checkout(t, "u-1")
	require.NoError(t, f.payments.Complete(sessionID))

	resp, _ := f.do(t, call{
		method:  http.MethodPost,
		path:    "/webhooks/stripe",
		body:    `{"id":"evt_forged","type":"checkout.session.completed"}`,
		headers: map[string]string{stripe.SignatureHeader: "t=1,v1=deadbeef"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.stripeEvent(t, "evt_other", "customer.created", "cus_1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["result"])

	resp, body = f.stripeEvent(t, "evt_paid", "checkout.session.completed", sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["result"])

	resp, body = f.stripeEvent(t, "evt_paid", "checkout.session.completed", sessionID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["result"])

	order, err := f.store.Orders().Get(f.ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestStripeWebhook_UnpaidSessionIsAcked(t *testing.T) {
	f := newAPIFixture(t)
	orderID, sessionID := f.checkout(t, "u-1")

	// провайдер ещё не подтвердил оплату: событие подтверждается без перехода
	resp, body := f.stripeEvent(t, "evt_early", "checkout.session.completed", sessionID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["result"])

	order, err := f.store.Orders().Get(f.ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingPayment, order.Status)

	// отметка снята: повторная доставка после оплаты применяется
	require.NoError(t, f.payments.Complete(sessionID))
	resp, body = f.stripeEvent(t, "evt_early", "checkout.session.completed", sessionID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["result"])
}

func TestStripeWebhook_ProviderOutageReturns500(t *testing.T) {
	f := newAPIFixture(t)
	_, sessionID := f.checkout(t, "u-1")
	f.payments.RetrieveErr = fmt.Errorf("%w: connection reset", domain.ErrPaymentProvider)

	resp, _ := f.stripeEvent(t, "evt_retry", "checkout.session.completed", sessionID)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	f.payments.RetrieveErr = nil
	require.NoError(t, f.payments.Complete(sessionID))
	resp, body := f.stripeEvent(t, "evt_retry", "checkout.session.completed", sessionID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["result"])
}

func TestSubmitFulfillment(t *testing.T) {
	f := newAPIFixture(t)
	pendingID, _ := f.checkout(t, "u-1")

	resp, body := f.do(t, call{method: http.MethodPost, path: "/orders/" + pendingID + "/submit-fulfillment", user: "u-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_paid", body["error"])

	orderID := f.paidWithDesign(t, "u-1")

	resp, _ = f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "submitted", body["status"])
	assert.NotEmpty(t, body["providerFulfillmentId"])

	resp, body = f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_submitted", body["error"])
	assert.Equal(t, 1, f.printer.SubmitCalls)
}

func TestSubmitFulfillment_ProviderFailure(t *testing.T) {
	f := newAPIFixture(t)
	orderID := f.paidWithDesign(t, "u-1")
	f.printer.SubmitErr = errors.New("print provider is down")

	resp, body := f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-1"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "provider_error", body["error"])

	order, err := f.store.Orders().Get(f.ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestFulfillmentWebhookAndTracking(t *testing.T) {
	f := newAPIFixture(t)
	orderID := f.paidWithDesign(t, "u-1")
	resp, body := f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	base := time.Now().Add(time.Hour).Unix()
	resp, body = f.fulfillmentEvent(t, "package_shipped", orderID, base+60)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["result"])

	// опоздавшее более раннее событие не меняет текущий статус
	resp, _ = f.fulfillmentEvent(t, "order_in_production", orderID, base)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.fulfillmentEvent(t, "package_shipped", orderID, base+60)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["result"])

	resp, body = f.fulfillmentEvent(t, "stock_updated", orderID, base)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["result"])

	resp, body = f.fulfillmentEvent(t, "package_shipped", "ord-unknown", base)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["result"])

	resp, _ = f.do(t, call{
		method:  http.MethodPost,
		path:    "/webhooks/fulfillment",
		body:    `{"type":"package_shipped"}`,
		headers: map[string]string{printprovider.SignatureHeader: "00"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, call{method: http.MethodGet, path: "/orders/" + orderID + "/tracking", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "shipped", body["status"])
	assert.Len(t, body["events"], 3)

	resp, _ = f.do(t, call{method: http.MethodGet, path: "/orders/" + orderID + "/tracking", user: "u-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, call{method: http.MethodGet, path: "/orders/" + orderID, user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "submitted", body["status"])
	assert.Equal(t, "shipped", body["fulfillmentStatus"])
}

func TestTracking_Refresh(t *testing.T) {
	f := newAPIFixture(t)
	orderID := f.paidWithDesign(t, "u-1")
	resp, body := f.do(t, call{method: http.MethodPost, path: "/orders/" + orderID + "/submit-fulfillment", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	providerID := body["providerFulfillmentId"].(string)

	f.printer.Advance(providerID, "delivered", "1Z999")
	resp, body = f.do(t, call{method: http.MethodGet, path: "/orders/" + orderID + "/tracking?refresh=true", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "delivered", body["status"])
	assert.Nil(t, body["stale"])

	f.printer.GetErr = errors.New("timeout")
	resp, body = f.do(t, call{method: http.MethodGet, path: "/orders/" + orderID + "/tracking?refresh=true", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["stale"])
	assert.Equal(t, "delivered", body["status"])
}

func TestListOrders(t *testing.T) {
	f := newAPIFixture(t)
	f.checkout(t, "u-1")
	f.checkout(t, "u-1")
	f.checkout(t, "u-2")

	resp, body := f.do(t, call{method: http.MethodGet, path: "/orders", user: "u-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["orders"], 2)

	resp, _ = f.do(t, call{method: http.MethodGet, path: "/orders?limit=x", user: "u-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, call{method: http.MethodGet, path: "/nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "route_not_found", body["error"])
	assert.NotEmpty(t, body["request_id"])
}
