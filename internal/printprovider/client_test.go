package printprovider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL: srv.URL,
		Token:   "secret-token",
		Retry:   resilience.RetryConfig{MaxAttempts: 3, BackoffFactor: 1},
	})
	require.NoError(t, err)
	return c
}

func TestClient_SubmitOrder(t *testing.T) {
	var got orderRequestDTO
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"code":200,"result":{"id":98765,"external_id":"ord-1","status":"draft"}}`))
	})

	receipt, err := c.SubmitOrder(context.Background(), domain.FulfillmentRequest{
		ExternalID: "ord-1",
		Recipient:  domain.Address{Name: "A", Line1: "1 Main", City: "Austin", PostalCode: "73301", Country: "us"},
		Items:      []domain.FulfillmentItem{{ProductID: "tee-classic", Variant: "M", Quantity: 2, DesignURL: "https://cdn/x.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "98765", receipt.ProviderOrderID)
	assert.Equal(t, "draft", receipt.Status)
	assert.JSONEq(t, `{"id":98765,"external_id":"ord-1","status":"draft"}`, string(receipt.Raw))

	assert.Equal(t, "ord-1", got.ExternalID)
	assert.Equal(t, "US", got.Recipient.CountryCode)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "https://cdn/x.png", got.Items[0].Files[0].URL)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"result":{"id":"pf-1","status":"shipped","shipments":[{"tracking_number":"1Z","tracking_url":"https://t/1Z"}]}}`))
	})

	receipt, err := c.GetOrder(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, "1Z", receipt.TrackingNumber)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"error":{"message":"recipient country is not supported"}}`))
	})

	_, err := c.SubmitOrder(context.Background(), domain.FulfillmentRequest{ExternalID: "ord-1"})
	require.ErrorIs(t, err, domain.ErrFulfillmentProvider)
	assert.Contains(t, err.Error(), "recipient country is not supported")
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_SubmitAdoptsExistingOrderOnDuplicate(t *testing.T) {
	var posts, gets atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			// первый ответ «потерялся», второй POST упирается в дубликат
			if posts.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":409,"error":{"message":"external_id already exists"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/orders/@ord-1":
			gets.Add(1)
			_, _ = w.Write([]byte(`{"code":200,"result":{"id":77,"external_id":"ord-1","status":"pending"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	receipt, err := c.SubmitOrder(context.Background(), domain.FulfillmentRequest{ExternalID: "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, "77", receipt.ProviderOrderID)
	assert.EqualValues(t, 2, posts.Load())
	assert.EqualValues(t, 1, gets.Load())
}

func TestClient_BreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("print_provider", 2, time.Minute, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, Retry: resilience.RetryConfig{MaxAttempts: 1}, Breaker: breaker})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.GetOrder(context.Background(), "pf-1")
		require.Error(t, err)
	}
	_, err = c.GetOrder(context.Background(), "pf-1")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, domain.KindProvider, domain.KindOf(err))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestParseWebhook(t *testing.T) {
	const secret = "fulfillment-secret"
	body := []byte(`{"type":"package_shipped","created":1767225600,"retries":0,"data":{"order":{"id":98765,"external_id":"ord-1"}}}`)

	event, err := ParseWebhook(secret, body, Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentShipped, event.Kind)
	assert.Equal(t, "ord-1", event.OrderID)
	assert.Equal(t, "98765", event.ProviderOrderID)
	assert.Equal(t, "wh:package_shipped:98765:1767225600", event.ProviderEventID)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.OccurredAt)

	_, err = ParseWebhook(secret, body, Sign("other", body))
	require.ErrorIs(t, err, domain.ErrWebhookSignatureInvalid)

	_, err = ParseWebhook(secret, body, "zz")
	require.ErrorIs(t, err, domain.ErrWebhookSignatureInvalid)

	unknown := []byte(`{"type":"stock_updated","data":{}}`)
	event, err = ParseWebhook(secret, unknown, Sign(secret, unknown))
	require.NoError(t, err)
	assert.Empty(t, event.Kind)

	untyped := []byte(`{"data":{}}`)
	_, err = ParseWebhook(secret, untyped, Sign(secret, untyped))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
