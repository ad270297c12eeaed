package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type orderRepository struct {
	acc accessor
}

func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.acc.do(func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.acc.do(func(st *state) error {
		stored, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = stored.Clone()
		return nil
	})
	return order, err
}

func (r *orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	var result []domain.Order
	err := r.acc.do(func(st *state) error {
		for _, order := range st.orders {
			if order.UserID == userID {
				result = append(result, order.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepository) AttachSession(_ context.Context, orderID, sessionID string) error {
	return r.update(orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusPendingPayment {
			return domain.ErrOrderNotEditable
		}
		order.CheckoutSessionID = sessionID
		return nil
	})
}

func (r *orderRepository) MarkPaid(_ context.Context, orderID string, paidAt time.Time) (bool, error) {
	transitioned := false
	err := r.update(orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusPendingPayment {
			return nil
		}
		order.Status = domain.OrderStatusPaid
		order.PaidAt = paidAt
		transitioned = true
		return nil
	})
	return transitioned, err
}

func (r *orderRepository) SetPromoClaim(_ context.Context, orderID string, claim domain.PromoClaimState) error {
	return r.update(orderID, func(order *domain.Order) error {
		order.PromoClaim = claim
		return nil
	})
}

func (r *orderRepository) AcquireSubmissionLease(_ context.Context, orderID string, now, until time.Time) error {
	return r.update(orderID, func(order *domain.Order) error {
		if err := submissionGate(order.Status); err != nil {
			return err
		}
		if order.SubmissionLeaseUntil.After(now) {
			return domain.ErrSubmissionInProgress
		}
		order.SubmissionLeaseUntil = until
		return nil
	})
}

func (r *orderRepository) ReleaseSubmissionLease(_ context.Context, orderID string) error {
	return r.update(orderID, func(order *domain.Order) error {
		order.SubmissionLeaseUntil = time.Time{}
		return nil
	})
}

func (r *orderRepository) MarkSubmitted(_ context.Context, orderID, providerFulfillmentID string, submittedAt time.Time) (bool, error) {
	transitioned := false
	err := r.update(orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusPaid {
			return nil
		}
		order.Status = domain.OrderStatusSubmitted
		order.ProviderFulfillmentID = providerFulfillmentID
		order.SubmittedAt = submittedAt
		order.SubmissionLeaseUntil = time.Time{}
		transitioned = true
		return nil
	})
	return transitioned, err
}

func (r *orderRepository) AddDesign(_ context.Context, asset domain.DesignAsset) error {
	return r.update(asset.OrderID, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusSubmitted || order.Status == domain.OrderStatusCancelled {
			return domain.ErrOrderNotEditable
		}
		order.Designs = append(order.Designs, asset)
		return nil
	})
}

func (r *orderRepository) ApproveDesign(_ context.Context, orderID, assetID string, approvedAt time.Time) error {
	return r.update(orderID, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusSubmitted || order.Status == domain.OrderStatusCancelled {
			return domain.ErrOrderNotEditable
		}
		for i := range order.Designs {
			if order.Designs[i].ID == assetID {
				order.Designs[i].Approved = true
				order.Designs[i].ApprovedAt = approvedAt
				return nil
			}
		}
		return domain.ErrDesignNotFound
	})
}

func (r *orderRepository) update(orderID string, mut func(order *domain.Order) error) error {
	return r.acc.do(func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = order.Clone()
		if err := mut(&order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()
		st.orders[orderID] = order
		return nil
	})
}

// submissionGate сопоставляет статус заказа с ошибкой предусловия отправки в печать.
func submissionGate(status domain.OrderStatus) error {
	switch status {
	case domain.OrderStatusPaid:
		return nil
	case domain.OrderStatusSubmitted:
		return domain.ErrAlreadySubmitted
	default:
		return domain.ErrNotPaid
	}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
