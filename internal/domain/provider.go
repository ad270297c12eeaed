package domain

import "encoding/json"

// Ключи metadata checkout-сессии.
const (
	SessionMetaKind           = "kind"
	SessionMetaOrderID        = "orderId"
	SessionMetaGiftPurchaseID = "giftPurchaseId"
	SessionMetaUserID         = "userId"
	SessionMetaPromoCodeID    = "promoCodeId"
)

// Значения SessionMetaKind.
const (
	SessionKindOrder    = "order"
	SessionKindGiftCode = "gift_code"
)

// SessionPaymentStatusPaid — статус оплаченной сессии у провайдера.
const SessionPaymentStatusPaid = "paid"

// CheckoutLine — строка checkout-сессии.
type CheckoutLine struct {
	Name            string
	UnitAmountMinor int64
	Quantity        int64
}

// CheckoutSessionRequest описывает запрос на создание checkout-сессии.
type CheckoutSessionRequest struct {
	ClientReferenceID string
	Currency          string
	Lines             []CheckoutLine
	ShippingMinor     int64
	DiscountMinor     int64
	Metadata          map[string]string
	IdempotencyKey    string
}

// CheckoutSession — состояние сессии у провайдера.
type CheckoutSession struct {
	ID                 string
	URL                string
	PaymentStatus      string
	ClientReferenceID  string
	Metadata           map[string]string
	Currency           string
	AmountTotalMinor   int64
	PaymentIntentID    string
	PaymentMethodTypes []string
}

// FulfillmentRequest — заказ для провайдера печати.
type FulfillmentRequest struct {
	ExternalID string
	Recipient  Address
	Items      []FulfillmentItem
}

// FulfillmentItem — позиция печати с макетом.
type FulfillmentItem struct {
	ProductID string
	Variant   string
	Quantity  int32
	DesignURL string
}

// FulfillmentReceipt — ответ провайдера печати.
type FulfillmentReceipt struct {
	ProviderOrderID string
	Status          string
	TrackingNumber  string
	TrackingURL     string
	Raw             json.RawMessage
}
