// Package payment содержит заглушку платёжного провайдера для тестов и локального запуска без Stripe.
package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// MockProvider — конфигурируемая in-memory реализация CheckoutProvider.
// Сессии создаются неоплаченными; Complete имитирует успешную оплату покупателем.
type MockProvider struct {
	mu sync.Mutex

	CreateErr   error
	RetrieveErr error
	// BaseURL подставляется в redirect URL сессии.
	BaseURL string

	sessions    map[string]domain.CheckoutSession
	byIdemKey   map[string]string
	LastRequest domain.CheckoutSessionRequest

	CreateCalls   int
	RetrieveCalls int
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		BaseURL:   "https://checkout.local/pay",
		sessions:  make(map[string]domain.CheckoutSession),
		byIdemKey: make(map[string]string),
	}
}

// CreateSession сохраняет сессию; повтор с тем же IdempotencyKey возвращает ту же сессию.
func (m *MockProvider) CreateSession(_ context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.LastRequest = req
	if m.CreateErr != nil {
		return domain.CheckoutSession{}, m.CreateErr
	}
	if req.IdempotencyKey != "" {
		if id, ok := m.byIdemKey[req.IdempotencyKey]; ok {
			return m.sessions[id], nil
		}
	}

	var total int64
	for _, line := range req.Lines {
		total += line.UnitAmountMinor * line.Quantity
	}
	total += req.ShippingMinor - req.DiscountMinor

	id := "cs_mock_" + uuid.NewString()
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	session := domain.CheckoutSession{
		ID:                 id,
		URL:                fmt.Sprintf("%s/%s", m.BaseURL, id),
		PaymentStatus:      "unpaid",
		ClientReferenceID:  req.ClientReferenceID,
		Metadata:           metadata,
		Currency:           req.Currency,
		AmountTotalMinor:   total,
		PaymentMethodTypes: []string{"card"},
	}
	m.sessions[id] = session
	if req.IdempotencyKey != "" {
		m.byIdemKey[req.IdempotencyKey] = id
	}
	return session, nil
}

// RetrieveSession возвращает текущее состояние сессии.
func (m *MockProvider) RetrieveSession(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RetrieveCalls++
	if m.RetrieveErr != nil {
		return domain.CheckoutSession{}, m.RetrieveErr
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, fmt.Errorf("%w: session %s not found", domain.ErrPaymentProvider, sessionID)
	}
	return session, nil
}

// Complete помечает сессию оплаченной.
func (m *MockProvider) Complete(sessionID string) error {
	return m.Mutate(sessionID, func(s *domain.CheckoutSession) {
		s.PaymentStatus = domain.SessionPaymentStatusPaid
		s.PaymentIntentID = "pi_" + sessionID
	})
}

// Mutate позволяет тестам подменить поля сессии, например сумму или metadata.
func (m *MockProvider) Mutate(sessionID string, fn func(s *domain.CheckoutSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	fn(&session)
	m.sessions[sessionID] = session
	return nil
}

var _ domain.CheckoutProvider = (*MockProvider)(nil)
