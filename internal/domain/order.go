package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает платёжную часть жизненного цикла заказа.
// Фаза исполнения (производство, доставка) хранится только в журнале FulfillmentEvent.
type OrderStatus string

const (
	// OrderStatusPendingPayment — заказ создан, checkout-сессия ожидает оплаты.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid — оплата подтверждена провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusSubmitted — заказ принят провайдером печати.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusCancelled — терминальный статус, заказ не удаляется физически.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PromoClaimState отражает судьбу промокода, применённого к заказу.
type PromoClaimState string

const (
	// PromoClaimNone — промокод не применялся.
	PromoClaimNone PromoClaimState = ""
	// PromoClaimPending — скидка рассчитана, слот ещё не занят.
	PromoClaimPending PromoClaimState = "pending"
	// PromoClaimClaimed — слот успешно занят при подтверждении оплаты.
	PromoClaimClaimed PromoClaimState = "claimed"
	// PromoClaimRejected — оплата прошла, но слот занять не удалось; требуется ручной разбор.
	PromoClaimRejected PromoClaimState = "rejected"
)

// Address — адрес доставки физического заказа.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Complete сообщает, заполнены ли обязательные поля адреса.
func (a *Address) Complete() bool {
	if a == nil {
		return false
	}
	for _, v := range []string{a.Name, a.Line1, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID string
	// ProductID и Variant ссылаются на позицию серверного каталога.
	ProductID string
	Variant   string
	Name      string
	Quantity  int32
	// UnitPriceMinor — цена за единицу в центах, взятая из каталога.
	UnitPriceMinor int64
}

// LineTotalMinor возвращает стоимость позиции.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

// Totals хранит рассчитанные суммы заказа в центах.
type Totals struct {
	SubtotalMinor int64
	ShippingMinor int64
	DiscountMinor int64
	TotalMinor    int64
}

// Consistent проверяет total = subtotal + shipping - discount и total >= 0.
func (t Totals) Consistent() bool {
	return t.TotalMinor >= 0 && t.TotalMinor == t.SubtotalMinor+t.ShippingMinor-t.DiscountMinor
}

// DesignAsset — макет, загруженный для печати.
type DesignAsset struct {
	ID         string
	OrderID    string
	URL        string
	Approved   bool
	ApprovedAt time.Time
	CreatedAt  time.Time
}

// Order агрегирует состояние попытки покупки.
type Order struct {
	ID                    string
	UserID                string
	Status                OrderStatus
	Currency              string
	Items                 []OrderItem
	ShippingAddress       *Address
	PromoCodeID           string
	PromoClaim            PromoClaimState
	Totals                Totals
	CheckoutSessionID     string
	ProviderFulfillmentID string
	// SubmissionLeaseUntil закрывает окно между вызовом провайдера печати и фиксацией SUBMITTED.
	SubmissionLeaseUntil time.Time
	Designs              []DesignAsset
	CreatedAt            time.Time
	PaidAt               time.Time
	SubmittedAt          time.Time
	UpdatedAt            time.Time
}

// ApprovedDesign возвращает последний утверждённый макет.
func (o *Order) ApprovedDesign() (DesignAsset, bool) {
	var (
		best  DesignAsset
		found bool
	)
	for _, d := range o.Designs {
		if !d.Approved {
			continue
		}
		if !found || d.ApprovedAt.After(best.ApprovedAt) {
			best = d
			found = true
		}
	}
	return best, found
}

// OwnedBy проверяет принадлежность заказа пользователю.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		subtotal += item.LineTotalMinor()
	}
	if subtotal != o.Totals.SubtotalMinor || !o.Totals.Consistent() {
		errs = append(errs, ErrTotalsInconsistent)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	dst.Designs = append([]DesignAsset(nil), o.Designs...)
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		dst.ShippingAddress = &addr
	}
	return dst
}
