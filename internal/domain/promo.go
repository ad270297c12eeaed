package domain

import (
	"strings"
	"time"
)

// PromoKind различает скидочные и подарочные коды.
type PromoKind string

const (
	// PromoKindPercentOff — процентная скидка на товарный заказ.
	PromoKindPercentOff PromoKind = "percent_off"
	// PromoKindGift — подарочный код, открывающий тариф.
	PromoKindGift PromoKind = "gift"
)

// PromoCode — скидочный или подарочный код. UsageCount меняется только через ClaimSlot.
type PromoCode struct {
	ID         string
	Code       string
	Kind       PromoKind
	Tier       string
	PercentOff int32
	// UsageLimit равный nil означает отсутствие лимита.
	UsageLimit *int32
	UsageCount int32
	Disabled   bool
	// GiftPurchaseID связывает подарочный код с оплаченной покупкой.
	GiftPurchaseID string
	CreatedAt      time.Time
}

// NormalizeCode приводит код к единому регистру без пробелов по краям.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exhausted сообщает, исчерпан ли лимит использований.
func (p *PromoCode) Exhausted() bool {
	return p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit
}

// Clone возвращает копию без общих указателей.
func (p PromoCode) Clone() PromoCode {
	dst := p
	if p.UsageLimit != nil {
		limit := *p.UsageLimit
		dst.UsageLimit = &limit
	}
	return dst
}
