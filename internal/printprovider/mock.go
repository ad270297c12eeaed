package printprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// MockProvider — конфигурируемая заглушка FulfillmentProvider для тестов и локального запуска.
type MockProvider struct {
	mu sync.Mutex

	SubmitErr error
	GetErr    error

	orders   map[string]domain.FulfillmentReceipt
	Requests []domain.FulfillmentRequest

	SubmitCalls int
	GetCalls    int
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{orders: make(map[string]domain.FulfillmentReceipt)}
}

// SubmitOrder считает вызовы и создаёт заказ у «провайдера» в статусе submitted.
func (m *MockProvider) SubmitOrder(_ context.Context, req domain.FulfillmentRequest) (domain.FulfillmentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubmitCalls++
	m.Requests = append(m.Requests, req)
	if m.SubmitErr != nil {
		return domain.FulfillmentReceipt{}, m.SubmitErr
	}

	id := fmt.Sprintf("pf_%s_%d", req.ExternalID, m.SubmitCalls)
	raw, _ := json.Marshal(map[string]any{"id": id, "external_id": req.ExternalID, "status": "submitted"})
	receipt := domain.FulfillmentReceipt{ProviderOrderID: id, Status: "submitted", Raw: raw}
	m.orders[id] = receipt
	return receipt, nil
}

// GetOrder возвращает сохранённое состояние заказа.
func (m *MockProvider) GetOrder(_ context.Context, providerOrderID string) (domain.FulfillmentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return domain.FulfillmentReceipt{}, m.GetErr
	}
	receipt, ok := m.orders[providerOrderID]
	if !ok {
		return domain.FulfillmentReceipt{}, fmt.Errorf("%w: order %s not found", domain.ErrFulfillmentProvider, providerOrderID)
	}
	return receipt, nil
}

// Advance меняет статус заказа у «провайдера», имитируя производство и доставку.
func (m *MockProvider) Advance(providerOrderID, status, trackingNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt := m.orders[providerOrderID]
	receipt.ProviderOrderID = providerOrderID
	receipt.Status = status
	receipt.TrackingNumber = trackingNumber
	receipt.Raw, _ = json.Marshal(map[string]any{"id": providerOrderID, "status": status, "tracking_number": trackingNumber})
	m.orders[providerOrderID] = receipt
}

var _ domain.FulfillmentProvider = (*MockProvider)(nil)
