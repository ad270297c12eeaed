package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в корзине.
	ErrItemsRequired = errors.New("checkout must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если товар или вариант отсутствует в каталоге.
	ErrProductUnknown = errors.New("product variant is not in the catalog")
	// Ошибка неполного адреса доставки.
	ErrShippingAddressIncomplete = errors.New("shipping address is incomplete")
	// Ошибка неизвестного тарифа подарочного кода.
	ErrTierInvalid = errors.New("tier is not a known pricing tier")
	// Ошибка некорректного лимита использований.
	ErrUsageLimitInvalid = errors.New("usage limit must be greater than zero")
	// Ошибка отсутствующего промокода в запросе.
	ErrPromoCodeRequired = errors.New("promo code is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора checkout-сессии.
	ErrSessionIDRequired = errors.New("session_id is required")
	// Ошибка отсутствующего URL макета.
	ErrDesignURLRequired = errors.New("design asset url is required")
	// Ошибка несогласованных сумм заказа.
	ErrTotalsInconsistent = errors.New("order totals are inconsistent")

	// ErrUnauthenticated возвращается, если запрос не содержит валидной сессии пользователя.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrWebhookSignatureInvalid возвращается при неуспешной проверке подписи вебхука.
	ErrWebhookSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPromoCodeInvalid возвращается для неизвестного или отключённого кода.
	ErrPromoCodeInvalid = errors.New("promo code is invalid")
	// ErrGiftPurchaseNotFound возвращается, если покупка подарочного кода не найдена.
	ErrGiftPurchaseNotFound = errors.New("gift purchase not found")
	// ErrDesignNotFound возвращается, если макет не привязан к заказу.
	ErrDesignNotFound = errors.New("design asset not found")
	// ErrPaymentNotFound возвращается, если платёж по сессии не записан.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrNoFulfillmentEvents возвращается, если у заказа ещё нет событий исполнения.
	ErrNoFulfillmentEvents = errors.New("order has no fulfillment events")

	// ErrNotPaid — заказ ещё не оплачен либо отменён; отправка в печать запрещена.
	ErrNotPaid = errors.New("order is not paid")
	// ErrAlreadySubmitted — заказ уже передан провайдеру печати.
	ErrAlreadySubmitted = errors.New("order already submitted to fulfillment")
	// ErrSubmissionInProgress — другой запрос прямо сейчас передаёт заказ провайдеру.
	ErrSubmissionInProgress = errors.New("fulfillment submission in progress")
	// ErrMissingDesign — у заказа нет утверждённого макета.
	ErrMissingDesign = errors.New("order has no approved design")
	// ErrOrderNotEditable — заказ уже передан в печать, макеты менять нельзя.
	ErrOrderNotEditable = errors.New("order can no longer be edited")
	// ErrPromoCodeExists — код с таким значением уже существует.
	ErrPromoCodeExists = errors.New("promo code already exists")
	// ErrPaymentAlreadyRecorded — платёж по этой сессии уже записан.
	ErrPaymentAlreadyRecorded = errors.New("payment already recorded for session")
	// ErrOrderAlreadyExists — заказ с таким идентификатором уже создан.
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrPromoUsageExceeded — лимит использований кода исчерпан.
	ErrPromoUsageExceeded = errors.New("promo code usage limit reached")

	// ErrPaymentNotCompleted — провайдер ещё не подтвердил оплату сессии.
	ErrPaymentNotCompleted = errors.New("checkout session is not paid")
	// ErrSessionMetadataMissing — в сессии нет ссылки на заказ или покупку.
	ErrSessionMetadataMissing = errors.New("checkout session metadata is missing")
	// ErrPaymentMismatch — сумма, валюта или владелец сессии не совпадают с заказом.
	ErrPaymentMismatch = errors.New("checkout session does not match order")

	// ErrPaymentProvider — ошибка вызова платёжного провайдера.
	ErrPaymentProvider = errors.New("payment provider request failed")
	// ErrFulfillmentProvider — ошибка вызова провайдера печати.
	ErrFulfillmentProvider = errors.New("fulfillment provider request failed")
	// ErrCircuitOpen — circuit breaker разомкнут, внешний вызов не выполнялся.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки идемпотентности HTTP-запросов.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// Kind классифицирует ошибку для транспортного слоя.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUsageExceeded  Kind = "usage_exceeded"
	KindProvider       Kind = "provider"
	KindInternal       Kind = "internal"
)

var kindGroups = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{
		ErrUserRequired, ErrItemsRequired, ErrItemQtyInvalid, ErrProductUnknown,
		ErrShippingAddressIncomplete, ErrTierInvalid, ErrUsageLimitInvalid, ErrPromoCodeRequired,
		ErrOrderIDRequired, ErrSessionIDRequired, ErrDesignURLRequired, ErrTotalsInconsistent,
		ErrWebhookSignatureInvalid,
		ErrIdempotencyKeyRequired,
	}},
	{KindAuthentication, []error{ErrUnauthenticated}},
	{KindNotFound, []error{
		ErrOrderNotFound, ErrPromoCodeInvalid, ErrGiftPurchaseNotFound, ErrDesignNotFound,
		ErrPaymentNotFound, ErrNoFulfillmentEvents,
	}},
	{KindConflict, []error{
		ErrNotPaid, ErrAlreadySubmitted, ErrSubmissionInProgress, ErrMissingDesign,
		ErrOrderNotEditable, ErrPromoCodeExists, ErrPaymentAlreadyRecorded, ErrOrderAlreadyExists,
		ErrPaymentNotCompleted, ErrSessionMetadataMissing, ErrPaymentMismatch,
		ErrIdempotencyKeyAlreadyExists, ErrIdempotencyHashMismatch,
	}},
	{KindUsageExceeded, []error{ErrPromoUsageExceeded}},
	{KindProvider, []error{ErrPaymentProvider, ErrFulfillmentProvider, ErrCircuitOpen}},
}

// KindOf возвращает класс ошибки; неизвестные ошибки считаются внутренними.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	for _, group := range kindGroups {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

// ValidationError уточняет, какое поле запроса не прошло проверку.
type ValidationError struct {
	Field string
	Err   error
}

// NewValidationError оборачивает sentinel-ошибку с указанием поля.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsPermanentReconcileError отделяет ошибки сверки, которые не исправятся повторной доставкой вебхука.
func IsPermanentReconcileError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict:
		return true
	default:
		return false
	}
}
