package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
// Переходы статуса выполняются условным обновлением и возвращают false, если текущий статус не совпал.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// AttachSession привязывает checkout-сессию к заказу в PENDING_PAYMENT, заменяя предыдущую.
	AttachSession(ctx context.Context, orderID, sessionID string) error
	// MarkPaid переводит PENDING_PAYMENT -> PAID.
	MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error)
	// SetPromoClaim фиксирует результат занятия слота промокода.
	SetPromoClaim(ctx context.Context, orderID string, state PromoClaimState) error
	// AcquireSubmissionLease резервирует право на вызов провайдера печати до until.
	AcquireSubmissionLease(ctx context.Context, orderID string, now, until time.Time) error
	// ReleaseSubmissionLease снимает резерв после неуспешного вызова провайдера.
	ReleaseSubmissionLease(ctx context.Context, orderID string) error
	// MarkSubmitted переводит PAID -> SUBMITTED.
	MarkSubmitted(ctx context.Context, orderID, providerFulfillmentID string, submittedAt time.Time) (bool, error)
	// AddDesign привязывает макет к заказу.
	AddDesign(ctx context.Context, asset DesignAsset) error
	// ApproveDesign утверждает макет заказа.
	ApproveDesign(ctx context.Context, orderID, assetID string, approvedAt time.Time) error
}

// PromoRepository хранит промокоды.
type PromoRepository interface {
	Create(ctx context.Context, promo PromoCode) error
	// GetByCode ищет код по нормализованному значению, включая отключённые.
	GetByCode(ctx context.Context, code string) (PromoCode, error)
	GetByID(ctx context.Context, id string) (PromoCode, error)
	// ClaimSlot атомарно увеличивает usage_count, если код активен и лимит не исчерпан.
	ClaimSlot(ctx context.Context, id string) (bool, error)
}

// FulfillmentEventRepository — append-only журнал исполнения.
type FulfillmentEventRepository interface {
	// Append добавляет событие; false означает, что событие с таким ProviderEventID уже записано.
	Append(ctx context.Context, event FulfillmentEvent) (bool, error)
	// List возвращает историю заказа, последние события первыми.
	List(ctx context.Context, orderID string) ([]FulfillmentEvent, error)
	// Latest возвращает событие с наибольшим временем или ErrNoFulfillmentEvents.
	Latest(ctx context.Context, orderID string) (FulfillmentEvent, error)
}

// PaymentRepository хранит подтверждённые платежи.
type PaymentRepository interface {
	// Record сохраняет платёж; повтор по той же сессии возвращает ErrPaymentAlreadyRecorded.
	Record(ctx context.Context, payment Payment) error
	GetBySession(ctx context.Context, sessionID string) (Payment, error)
}

// GiftPurchaseRepository хранит покупки подарочных кодов.
type GiftPurchaseRepository interface {
	Create(ctx context.Context, purchase GiftPurchase) error
	Get(ctx context.Context, id string) (GiftPurchase, error)
	AttachSession(ctx context.Context, purchaseID, sessionID string) error
	// MarkPaid переводит pending_payment -> paid и запоминает выпущенный код.
	MarkPaid(ctx context.Context, purchaseID, promoCodeID string, paidAt time.Time) (bool, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories — набор репозиториев одной единицы работы.
type Repositories interface {
	Orders() OrderRepository
	Promos() PromoRepository
	FulfillmentEvents() FulfillmentEventRepository
	Payments() PaymentRepository
	GiftPurchases() GiftPurchaseRepository
	Outbox() OutboxRepository
}

// Transactor выполняет fn атомарно: либо все изменения фиксируются, либо ни одно.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store — хранилище сервиса целиком.
type Store interface {
	Repositories
	Transactor
	Idempotency() IdempotencyRepository
	Ping(ctx context.Context) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// CheckoutProvider — внешний платёжный провайдер с hosted checkout.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}

// FulfillmentProvider — внешний провайдер печати и доставки.
type FulfillmentProvider interface {
	// SubmitOrder создаёт заказ у провайдера; ExternalID совпадает с ID заказа.
	SubmitOrder(ctx context.Context, req FulfillmentRequest) (FulfillmentReceipt, error)
	// GetOrder возвращает текущее состояние заказа у провайдера.
	GetOrder(ctx context.Context, providerOrderID string) (FulfillmentReceipt, error)
}
