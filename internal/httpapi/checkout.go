package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/printshop/internal/service/giftcode"
	"github.com/vladislavdragonenkov/printshop/internal/service/reconcile"
)

type checkoutRequest struct {
	Items           []checkout.LineRequest `json:"items"`
	ShippingAddress *domain.Address        `json:"shippingAddress"`
	PromoCode       string                 `json:"promoCode"`
}

type totalsResponse struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type checkoutResponse struct {
	OrderID   string         `json:"orderId"`
	SessionID string         `json:"sessionId"`
	URL       string         `json:"url"`
	Totals    totalsResponse `json:"totals"`
}

type confirmRequest struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Message    string `json:"message"`
	OrderID    string `json:"orderId"`
	Applied    bool   `json:"applied"`
	PromoClaim string `json:"promoClaim,omitempty"`
}

type giftPurchaseRequest struct {
	Tier       string `json:"tier"`
	UsageLimit *int32 `json:"usageLimit"`
}

type giftPurchaseResponse struct {
	PurchaseID string `json:"purchaseId"`
	SessionID  string `json:"sessionId"`
	URL        string `json:"url"`
	Price      int64  `json:"price"`
}

type promoResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Type        string `json:"type"`
	ProductTier string `json:"productTier,omitempty"`
	PercentOff  int32  `json:"percentOff"`
	UsageLimit  *int32 `json:"usageLimit"`
	UsageCount  int32  `json:"usageCount"`
}

func toTotals(t domain.Totals) totalsResponse {
	return totalsResponse{
		Subtotal: t.SubtotalMinor,
		Shipping: t.ShippingMinor,
		Discount: t.DiscountMinor,
		Total:    t.TotalMinor,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("body", fmt.Errorf("malformed JSON body: %w", err))
	}
	return nil
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	res, err := h.svc.Checkout.CreateCheckout(ctx, checkout.Request{
		UserID:          h.userID(r),
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PromoCode:       req.PromoCode,
	})
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:   res.OrderID,
		SessionID: res.SessionID,
		URL:       res.URL,
		Totals:    toTotals(res.Totals),
	})
}

func (h *handlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	id, _ := IdentityFrom(ctx)
	outcome, err := h.svc.Reconciler.ManualConfirm(ctx, reconcile.ManualConfirmation{
		OrderID:     req.OrderID,
		SessionID:   req.SessionID,
		ActorUserID: id.UserID,
		Operator:    id.Operator,
	})
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	message := "payment confirmed"
	if !outcome.Applied {
		message = "payment already confirmed"
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Message:    message,
		OrderID:    outcome.SubjectID,
		Applied:    outcome.Applied,
		PromoClaim: string(outcome.PromoClaim),
	})
}

func (h *handlers) purchaseGiftCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req giftPurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	res, err := h.svc.GiftCodes.PurchaseGiftCode(ctx, giftcode.PurchaseRequest{
		UserID:     h.userID(r),
		Tier:       req.Tier,
		UsageLimit: req.UsageLimit,
	})
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, giftPurchaseResponse{
		PurchaseID: res.PurchaseID,
		SessionID:  res.SessionID,
		URL:        res.URL,
		Price:      res.PriceMinor,
	})
}

// validatePromo отвечает 400 на любой непригодный код: пустой, неизвестный, отключённый
// или исчерпанный.
func (h *handlers) validatePromo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, err := h.svc.Promo.Validate(ctx, r.URL.Query().Get("code"))
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindValidation, domain.KindNotFound, domain.KindUsageExceeded:
			e := errorFor(err)
			if errors.Is(err, domain.ErrPromoCodeInvalid) {
				e.Code = "invalid_code"
			}
			e.Status = http.StatusBadRequest
			writeAPIError(ctx, w, e)
		default:
			writeError(ctx, w, h.logger, err)
		}
		return
	}

	h.logger.WithFields(log.Fields{"promo_code": code.Code}).Debug("promo code validated")
	writeJSON(w, http.StatusOK, promoResponse{
		ID:          code.ID,
		Code:        code.Code,
		Type:        string(code.Kind),
		ProductTier: code.Tier,
		PercentOff:  code.PercentOff,
		UsageLimit:  code.UsageLimit,
		UsageCount:  code.UsageCount,
	})
}
