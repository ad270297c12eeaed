// Package printprovider содержит HTTP-клиент провайдера печати и разбор его вебхуков.
package printprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/resilience"
	"github.com/vladislavdragonenkov/printshop/internal/version"
)

const (
	providerName       = "print_provider"
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// Config описывает подключение к API провайдера печати.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retry      resilience.RetryConfig
	Breaker    *resilience.CircuitBreaker
	Logger     *log.Entry
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
}

// Client — FulfillmentProvider поверх REST API провайдера.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  *log.Entry
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewClient создаёт клиента провайдера печати.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("print provider: invalid base url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "print-provider-client")
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(providerName, 5, 30*time.Second, logger)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/vladislavdragonenkov/printshop/internal/printprovider")
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		retry:   retry,
		breaker: breaker,
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  tracer,
	}, nil
}

type recipientDTO struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type fileDTO struct {
	URL string `json:"url"`
}

type itemDTO struct {
	ProductID string    `json:"product_id"`
	Variant   string    `json:"variant"`
	Quantity  int32     `json:"quantity"`
	Files     []fileDTO `json:"files"`
}

type orderRequestDTO struct {
	ExternalID string       `json:"external_id"`
	Recipient  recipientDTO `json:"recipient"`
	Items      []itemDTO    `json:"items"`
}

type shipmentDTO struct {
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

// providerID принимает идентификатор и числом, и строкой.
type providerID string

func (id *providerID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = providerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("provider id: %w", err)
	}
	*id = providerID(n.String())
	return nil
}

type orderDTO struct {
	ID         providerID    `json:"id"`
	ExternalID string        `json:"external_id"`
	Status     string        `json:"status"`
	Shipments  []shipmentDTO `json:"shipments"`
}

type envelopeDTO struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// errDuplicateExternalID — провайдер ответил 409: заказ с таким external_id у него уже есть.
var errDuplicateExternalID = errors.New("order with this external_id already exists")

// SubmitOrder создаёт заказ у провайдера. Провайдер отклоняет дубликат external_id с кодом 409;
// так бывает, когда ответ на первый POST потерялся и запрос ушёл повторно. Тогда возвращается
// уже существующий заказ, найденный по external_id.
func (c *Client) SubmitOrder(ctx context.Context, req domain.FulfillmentRequest) (domain.FulfillmentReceipt, error) {
	body := orderRequestDTO{
		ExternalID: req.ExternalID,
		Recipient: recipientDTO{
			Name:        req.Recipient.Name,
			Address1:    req.Recipient.Line1,
			Address2:    req.Recipient.Line2,
			City:        req.Recipient.City,
			StateCode:   req.Recipient.State,
			CountryCode: strings.ToUpper(req.Recipient.Country),
			Zip:         req.Recipient.PostalCode,
		},
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, itemDTO{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Quantity:  item.Quantity,
			Files:     []fileDTO{{URL: item.DesignURL}},
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.FulfillmentReceipt{}, fmt.Errorf("print provider: encode order: %w", err)
	}
	receipt, err := c.do(ctx, "submit_order", http.MethodPost, "/orders", payload, attribute.String("order.external_id", req.ExternalID))
	if !errors.Is(err, errDuplicateExternalID) {
		return receipt, err
	}

	c.logger.WithField("external_id", req.ExternalID).Warn("provider already holds order, adopting existing submission")
	receipt, err = c.do(ctx, "get_order", http.MethodGet, "/orders/@"+url.PathEscape(req.ExternalID), nil,
		attribute.String("order.external_id", req.ExternalID))
	if err != nil {
		return domain.FulfillmentReceipt{}, fmt.Errorf("look up duplicate submission: %w", err)
	}
	return receipt, nil
}

// GetOrder возвращает текущее состояние заказа у провайдера.
func (c *Client) GetOrder(ctx context.Context, providerOrderID string) (domain.FulfillmentReceipt, error) {
	return c.do(ctx, "get_order", http.MethodGet, "/orders/"+url.PathEscape(providerOrderID), nil,
		attribute.String("order.provider_id", providerOrderID))
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload []byte, attrs ...attribute.KeyValue) (domain.FulfillmentReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "printprovider."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(append(attrs, attribute.String("http.method", method))...)

	started := time.Now()
	var receipt domain.FulfillmentReceipt
	err := resilience.Retry(ctx, c.retry, c.logger, "print provider "+operation, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			var err error
			receipt, err = c.roundTrip(ctx, method, path, payload)
			return err
		})
	})
	c.metrics.ObserveProviderCall(providerName, operation, err, time.Since(started))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.FulfillmentReceipt{}, ctxErr
		}
		return domain.FulfillmentReceipt{}, fmt.Errorf("%w: %s: %w", domain.ErrFulfillmentProvider, operation, err)
	}
	span.SetAttributes(attribute.String("order.provider_status", receipt.Status))
	return receipt, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (domain.FulfillmentReceipt, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return domain.FulfillmentReceipt{}, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.FulfillmentReceipt{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.FulfillmentReceipt{}, fmt.Errorf("read response: %w", err)
	}

	var envelope envelopeDTO
	decodeErr := json.Unmarshal(raw, &envelope)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && envelope.Error != nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		if resp.StatusCode == http.StatusConflict {
			return domain.FulfillmentReceipt{}, resilience.Permanent(fmt.Errorf("status %d: %s: %w", resp.StatusCode, msg, errDuplicateExternalID))
		}
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return domain.FulfillmentReceipt{}, resilience.Permanent(statusErr)
		}
		return domain.FulfillmentReceipt{}, statusErr
	}
	if decodeErr != nil {
		return domain.FulfillmentReceipt{}, resilience.Permanent(fmt.Errorf("decode response: %w", decodeErr))
	}

	var order orderDTO
	if err := json.Unmarshal(envelope.Result, &order); err != nil || order.ID == "" {
		return domain.FulfillmentReceipt{}, resilience.Permanent(errors.New("response has no order id"))
	}
	receipt := domain.FulfillmentReceipt{
		ProviderOrderID: string(order.ID),
		Status:          order.Status,
		Raw:             json.RawMessage(envelope.Result),
	}
	if len(order.Shipments) > 0 {
		last := order.Shipments[len(order.Shipments)-1]
		receipt.TrackingNumber = last.TrackingNumber
		receipt.TrackingURL = last.TrackingURL
	}
	return receipt, nil
}

var _ domain.FulfillmentProvider = (*Client)(nil)
