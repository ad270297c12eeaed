// Package orders отдаёт заказы владельцу вместе с производным статусом исполнения.
package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// View — заказ и текущий статус исполнения из журнала событий.
type View struct {
	Order domain.Order
	// FulfillmentStatus пуст, пока у заказа нет событий исполнения.
	FulfillmentStatus domain.FulfillmentKind
}

// Reader читает заказы; запись здесь не выполняется.
type Reader struct {
	store domain.Store
}

// NewReader создаёт Reader.
func NewReader(store domain.Store) *Reader {
	return &Reader{store: store}
}

// Get возвращает заказ владельца. Чужой заказ неотличим от несуществующего.
func (r *Reader) Get(ctx context.Context, userID, orderID string) (View, error) {
	if strings.TrimSpace(orderID) == "" {
		return View{}, domain.NewValidationError("orderId", domain.ErrOrderIDRequired)
	}
	order, err := r.store.Orders().Get(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if !order.OwnedBy(userID) {
		return View{}, domain.ErrOrderNotFound
	}
	return r.view(ctx, order)
}

// List возвращает заказы пользователя, новые первыми.
func (r *Reader) List(ctx context.Context, userID string, limit int) ([]View, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := r.store.Orders().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(items))
	for _, order := range items {
		v, err := r.view(ctx, order)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (r *Reader) view(ctx context.Context, order domain.Order) (View, error) {
	latest, err := r.store.FulfillmentEvents().Latest(ctx, order.ID)
	switch {
	case err == nil:
		return View{Order: order, FulfillmentStatus: latest.Kind}, nil
	case errors.Is(err, domain.ErrNoFulfillmentEvents):
		return View{Order: order}, nil
	default:
		return View{}, err
	}
}
