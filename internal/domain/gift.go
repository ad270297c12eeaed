package domain

import "time"

// GiftPurchaseStatus описывает состояние покупки подарочного кода.
type GiftPurchaseStatus string

const (
	GiftPurchasePendingPayment GiftPurchaseStatus = "pending_payment"
	GiftPurchasePaid           GiftPurchaseStatus = "paid"
)

// GiftPurchase — покупка подарочного кода, после оплаты выпускается PromoCode.
type GiftPurchase struct {
	ID                string
	UserID            string
	Tier              string
	UsageLimit        *int32
	PriceMinor        int64
	Currency          string
	Status            GiftPurchaseStatus
	CheckoutSessionID string
	PromoCodeID       string
	CreatedAt         time.Time
	PaidAt            time.Time
}
