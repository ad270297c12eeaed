package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// state — всё содержимое in-memory хранилища; транзакции работают с его копией.
type state struct {
	orders      map[string]domain.Order
	promos      map[string]domain.PromoCode
	promoByCode map[string]string
	events      map[string][]domain.FulfillmentEvent
	payments    map[string]domain.Payment
	gifts       map[string]domain.GiftPurchase
	outbox      map[string]outboxRecord
	outboxSeq   int64
}

func newState() *state {
	return &state{
		orders:      make(map[string]domain.Order),
		promos:      make(map[string]domain.PromoCode),
		promoByCode: make(map[string]string),
		events:      make(map[string][]domain.FulfillmentEvent),
		payments:    make(map[string]domain.Payment),
		gifts:       make(map[string]domain.GiftPurchase),
		outbox:      make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for k, v := range s.orders {
		dst.orders[k] = v.Clone()
	}
	for k, v := range s.promos {
		dst.promos[k] = v.Clone()
	}
	for k, v := range s.promoByCode {
		dst.promoByCode[k] = v
	}
	for k, list := range s.events {
		copied := make([]domain.FulfillmentEvent, len(list))
		for i, e := range list {
			copied[i] = e.Clone()
		}
		dst.events[k] = copied
	}
	for k, v := range s.payments {
		dst.payments[k] = v
	}
	for k, v := range s.gifts {
		dst.gifts[k] = cloneGiftPurchase(v)
	}
	for k, v := range s.outbox {
		v.msg.Payload = append([]byte(nil), v.msg.Payload...)
		dst.outbox[k] = v
	}
	dst.outboxSeq = s.outboxSeq
	return dst
}

// accessor даёт репозиториям доступ к состоянию: напрямую под мьютексом или к копии внутри транзакции.
type accessor interface {
	do(fn func(st *state) error) error
}

type txAccessor struct {
	st *state
}

func (a txAccessor) do(fn func(st *state) error) error {
	return fn(a.st)
}

type repositories struct {
	acc accessor
}

func (r repositories) Orders() domain.OrderRepository { return &orderRepository{acc: r.acc} }
func (r repositories) Promos() domain.PromoRepository { return &promoRepository{acc: r.acc} }
func (r repositories) FulfillmentEvents() domain.FulfillmentEventRepository {
	return &fulfillmentEventRepository{acc: r.acc}
}
func (r repositories) Payments() domain.PaymentRepository { return &paymentRepository{acc: r.acc} }
func (r repositories) GiftPurchases() domain.GiftPurchaseRepository {
	return &giftPurchaseRepository{acc: r.acc}
}
func (r repositories) Outbox() domain.OutboxRepository { return &outboxRepository{acc: r.acc} }

// Store — in-memory реализация domain.Store для тестов и локального запуска.
// Все операции сериализуются одним мьютексом, транзакция работает с копией состояния
// и подменяет его только при успешном завершении.
type Store struct {
	repositories

	mu          sync.Mutex
	st          *state
	idempotency domain.IdempotencyRepository
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	s := &Store{
		st:          newState(),
		idempotency: NewIdempotencyRepository(),
	}
	s.repositories = repositories{acc: s}
	return s
}

func (s *Store) do(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// WithinTx выполняет fn над копией состояния. Внутри fn нельзя обращаться к методам самого Store,
// только к переданным repos.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.st.clone()
	if err := fn(ctx, repositories{acc: txAccessor{st: working}}); err != nil {
		return err
	}
	s.st = working
	return nil
}

// Idempotency возвращает репозиторий ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return s.idempotency
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// PendingOutbox возвращает сообщения со статусом `pending` в порядке добавления (используется в тестах).
func (s *Store) PendingOutbox() []domain.OutboxMessage {
	var result []domain.OutboxMessage
	_ = s.do(func(st *state) error {
		result = pendingOutbox(st, 0)
		return nil
	})
	return result
}

var _ domain.Store = (*Store)(nil)
