package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/service/orders"
)

type itemResponse struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type designResponse struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type orderResponse struct {
	ID                    string           `json:"id"`
	Status                string           `json:"status"`
	FulfillmentStatus     string           `json:"fulfillmentStatus,omitempty"`
	Currency              string           `json:"currency"`
	Items                 []itemResponse   `json:"items"`
	ShippingAddress       *domain.Address  `json:"shippingAddress,omitempty"`
	PromoClaim            string           `json:"promoClaim,omitempty"`
	Totals                totalsResponse   `json:"totals"`
	ProviderFulfillmentID string           `json:"providerFulfillmentId,omitempty"`
	Designs               []designResponse `json:"designs"`
	CreatedAt             time.Time        `json:"createdAt"`
	PaidAt                *time.Time       `json:"paidAt,omitempty"`
	SubmittedAt           *time.Time       `json:"submittedAt,omitempty"`
}

type submitResponse struct {
	OrderID               string `json:"orderId"`
	ProviderFulfillmentID string `json:"providerFulfillmentId"`
	Status                string `json:"status"`
}

type eventResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	ProviderEventID string    `json:"providerEventId,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
	RecordedAt      time.Time `json:"recordedAt"`
}

type trackingResponse struct {
	OrderID string          `json:"orderId"`
	Status  string          `json:"status,omitempty"`
	Events  []eventResponse `json:"events"`
	// Stale выставляется, если запрошенное обновление у провайдера не удалось.
	Stale bool `json:"stale,omitempty"`
}

type attachDesignRequest struct {
	AssetURL string `json:"assetUrl"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toDesign(d domain.DesignAsset) designResponse {
	return designResponse{
		ID:         d.ID,
		URL:        d.URL,
		Approved:   d.Approved,
		ApprovedAt: optionalTime(d.ApprovedAt),
		CreatedAt:  d.CreatedAt,
	}
}

func toOrder(v orders.View) orderResponse {
	o := v.Order
	items := make([]itemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, itemResponse{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceMinor,
		})
	}
	designs := make([]designResponse, 0, len(o.Designs))
	for _, d := range o.Designs {
		designs = append(designs, toDesign(d))
	}
	return orderResponse{
		ID:                    o.ID,
		Status:                string(o.Status),
		FulfillmentStatus:     string(v.FulfillmentStatus),
		Currency:              o.Currency,
		Items:                 items,
		ShippingAddress:       o.ShippingAddress,
		PromoClaim:            string(o.PromoClaim),
		Totals:                toTotals(o.Totals),
		ProviderFulfillmentID: o.ProviderFulfillmentID,
		Designs:               designs,
		CreatedAt:             o.CreatedAt,
		PaidAt:                optionalTime(o.PaidAt),
		SubmittedAt:           optionalTime(o.SubmittedAt),
	}
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(ctx, w, h.logger, domain.NewValidationError("limit", strconv.ErrSyntax))
			return
		}
		limit = n
	}

	views, err := h.svc.Orders.List(ctx, h.userID(r), limit)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	out := make([]orderResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toOrder(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.svc.Orders.Get(ctx, h.userID(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(view))
}

func (h *handlers) submitFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")
	// владелец проверяется до отправки: чужой заказ отвечает 404
	if _, err := h.svc.Orders.Get(ctx, h.userID(r), orderID); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	providerID, err := h.svc.Submitter.Submit(ctx, orderID)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		OrderID:               orderID,
		ProviderFulfillmentID: providerID,
		Status:                string(domain.OrderStatusSubmitted),
	})
}

func (h *handlers) tracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")
	if _, err := h.svc.Orders.Get(ctx, h.userID(r), orderID); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	resp := trackingResponse{OrderID: orderID}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh && h.svc.Tracker != nil {
		if _, err := h.svc.Tracker.Refresh(ctx, orderID); err != nil {
			if domain.KindOf(err) != domain.KindProvider {
				writeError(ctx, w, h.logger, err)
				return
			}
			// провайдер недоступен: отдаём то, что уже есть в журнале
			h.logger.WithError(err).WithFields(log.Fields{"order_id": orderID}).Warn("tracking refresh failed")
			resp.Stale = true
		}
	}

	history, err := h.svc.Events.History(ctx, orderID)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	resp.Events = make([]eventResponse, 0, len(history))
	for _, e := range history {
		resp.Events = append(resp.Events, eventResponse{
			ID:              e.ID,
			Kind:            string(e.Kind),
			ProviderEventID: e.ProviderEventID,
			OccurredAt:      e.OccurredAt,
			RecordedAt:      e.RecordedAt,
		})
	}
	if len(history) > 0 {
		resp.Status = string(history[0].Kind)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) attachDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req attachDesignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	asset, err := h.svc.Designs.Attach(ctx, h.userID(r), chi.URLParam(r, "orderID"), req.AssetURL)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDesign(asset))
}

func (h *handlers) approveDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := h.svc.Designs.Approve(ctx, h.userID(r), chi.URLParam(r, "orderID"), chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDesign(asset))
}
