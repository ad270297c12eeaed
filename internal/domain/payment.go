package domain

import "time"

// PaymentSubject указывает, к чему относится платёж.
type PaymentSubject string

const (
	PaymentSubjectOrder        PaymentSubject = "order"
	PaymentSubjectGiftPurchase PaymentSubject = "gift_purchase"
)

// PaymentStatusCompleted — единственный статус, который сервис записывает.
const PaymentStatusCompleted = "completed"

// Payment фиксирует подтверждённую оплату checkout-сессии.
type Payment struct {
	ID                string
	SubjectType       PaymentSubject
	SubjectID         string
	Provider          string
	ProviderPaymentID string
	SessionID         string
	AmountMinor       int64
	Currency          string
	Method            string
	Status            string
	CreatedAt         time.Time
}
