// Package reconcile применяет подтверждения оплаты к заказам и покупкам подарочных кодов.
// Каждое подтверждение меняет состояние не более одного раза: переход выполняется условным
// обновлением статуса, повторная доставка того же события становится no-op.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/service/promo"
)

// amountTolerance — допустимое расхождение суммы сессии и заказа в центах.
const amountTolerance = 1

const expectedCurrency = "usd"

// Outcome описывает результат обработки подтверждения.
type Outcome struct {
	// Subject — order или gift_code.
	Subject   string
	SubjectID string
	// Applied равно false для повторной доставки: состояние не менялось.
	Applied    bool
	PromoClaim domain.PromoClaimState
	// MintedCode заполняется при выпуске подарочного кода.
	MintedCode string
}

// ManualConfirmation — запрос ручного подтверждения оплаты, когда вебхук не доставлен.
type ManualConfirmation struct {
	OrderID   string
	SessionID string
	// ActorUserID — пользователь, выполняющий запрос; Operator снимает проверку владельца.
	ActorUserID string
	Operator    bool
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithProviderName задаёт имя провайдера в записях Payment.
func WithProviderName(name string) Option {
	return func(r *Reconciler) { r.providerName = name }
}

// Reconciler сверяет checkout-сессии провайдера с заказами.
type Reconciler struct {
	store        domain.Store
	provider     domain.CheckoutProvider
	ledger       *promo.Ledger
	logger       *log.Entry
	metrics      *metrics.Metrics
	now          func() time.Time
	providerName string
}

// NewReconciler собирает Reconciler.
func NewReconciler(store domain.Store, provider domain.CheckoutProvider, ledger *promo.Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        store,
		provider:     provider,
		ledger:       ledger,
		now:          time.Now,
		providerName: "stripe",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "payment-reconciler")
	}
	return r
}

// OnPaymentConfirmed обрабатывает сигнал об успешной оплате сессии (обычно из вебхука).
func (r *Reconciler) OnPaymentConfirmed(ctx context.Context, sessionID string) (Outcome, error) {
	session, err := r.retrieve(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	switch kind := sessionKind(session); kind {
	case domain.SessionKindOrder:
		return r.applyOrderPayment(ctx, session, session.Metadata[domain.SessionMetaOrderID])
	case domain.SessionKindGiftCode:
		return r.applyGiftPayment(ctx, session)
	default:
		r.anomaly(metrics.AnomalyUnknownSessionKind, r.logger.WithFields(log.Fields{
			"session_id":   session.ID,
			"session_kind": kind,
		}), "checkout session carries no reconcilable reference")
		return Outcome{}, domain.ErrSessionMetadataMissing
	}
}

// ManualConfirm выполняет тот же переход, что и вебхук, по сессии, указанной оператором или владельцем.
func (r *Reconciler) ManualConfirm(ctx context.Context, req ManualConfirmation) (Outcome, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return Outcome{}, domain.NewValidationError("orderId", domain.ErrOrderIDRequired)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return Outcome{}, domain.NewValidationError("sessionId", domain.ErrSessionIDRequired)
	}

	order, err := r.store.Orders().Get(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if !req.Operator && !order.OwnedBy(req.ActorUserID) {
		// чужой заказ неотличим от несуществующего
		return Outcome{}, domain.ErrOrderNotFound
	}

	session, err := r.retrieve(ctx, req.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if metaOrderID := session.Metadata[domain.SessionMetaOrderID]; metaOrderID != "" && metaOrderID != orderID {
		return Outcome{}, fmt.Errorf("%w: session belongs to order %s", domain.ErrPaymentMismatch, metaOrderID)
	}

	r.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"session_id": session.ID,
		"operator":   req.Operator,
	}).Info("manual payment confirmation requested")

	return r.applyOrderPayment(ctx, session, orderID)
}

func (r *Reconciler) retrieve(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.CheckoutSession{}, domain.NewValidationError("sessionId", domain.ErrSessionIDRequired)
	}
	session, err := r.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		if domain.KindOf(err) != domain.KindProvider {
			err = fmt.Errorf("%w: %w", domain.ErrPaymentProvider, err)
		}
		return domain.CheckoutSession{}, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return session, nil
}

// sessionKind определяет назначение сессии; сессии без kind считаются товарными при наличии orderId.
func sessionKind(session domain.CheckoutSession) string {
	switch kind := session.Metadata[domain.SessionMetaKind]; {
	case kind != "":
		return kind
	case session.Metadata[domain.SessionMetaOrderID] != "":
		return domain.SessionKindOrder
	case session.Metadata[domain.SessionMetaGiftPurchaseID] != "":
		return domain.SessionKindGiftCode
	default:
		return ""
	}
}

// verifySession сверяет сессию с ожидаемыми владельцем, суммой и ссылкой.
func verifySession(session domain.CheckoutSession, referenceID, userID string, amountMinor int64) error {
	if session.ClientReferenceID != "" && session.ClientReferenceID != referenceID {
		return fmt.Errorf("%w: client reference %s", domain.ErrPaymentMismatch, session.ClientReferenceID)
	}
	if owner := session.Metadata[domain.SessionMetaUserID]; owner != "" && owner != userID {
		return fmt.Errorf("%w: session user does not match owner", domain.ErrPaymentMismatch)
	}
	if currency := strings.ToLower(session.Currency); currency != "" && currency != expectedCurrency {
		return fmt.Errorf("%w: unexpected currency %s", domain.ErrPaymentMismatch, currency)
	}
	diff := session.AmountTotalMinor - amountMinor
	if diff < -amountTolerance || diff > amountTolerance {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrPaymentMismatch, amountMinor, session.AmountTotalMinor)
	}
	return nil
}

func (r *Reconciler) newPayment(session domain.CheckoutSession, subject domain.PaymentSubject, subjectID string, now time.Time) domain.Payment {
	method := "card"
	if len(session.PaymentMethodTypes) > 0 && session.PaymentMethodTypes[0] != "" {
		method = session.PaymentMethodTypes[0]
	}
	currency := strings.ToLower(session.Currency)
	if currency == "" {
		currency = expectedCurrency
	}
	return domain.Payment{
		ID:                uuid.NewString(),
		SubjectType:       subject,
		SubjectID:         subjectID,
		Provider:          r.providerName,
		ProviderPaymentID: session.PaymentIntentID,
		SessionID:         session.ID,
		AmountMinor:       session.AmountTotalMinor,
		Currency:          currency,
		Method:            method,
		Status:            domain.PaymentStatusCompleted,
		CreatedAt:         now,
	}
}

func (r *Reconciler) anomaly(kind string, logger *log.Entry, message string) {
	r.metrics.Anomaly(kind)
	logger.WithField("anomaly", kind).Error(message)
}

// errDuplicate прерывает транзакцию без изменений, когда условный переход не сработал.
var errDuplicate = errors.New("already reconciled")
