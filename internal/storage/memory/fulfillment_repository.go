package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

type fulfillmentEventRepository struct {
	acc accessor
}

func (r *fulfillmentEventRepository) Append(_ context.Context, event domain.FulfillmentEvent) (bool, error) {
	appended := false
	err := r.acc.do(func(st *state) error {
		if _, ok := st.orders[event.OrderID]; !ok {
			return domain.ErrOrderNotFound
		}
		if event.ProviderEventID != "" {
			for _, existing := range st.events[event.OrderID] {
				if existing.ProviderEventID == event.ProviderEventID {
					return nil
				}
			}
		}
		st.events[event.OrderID] = append(st.events[event.OrderID], event.Clone())
		appended = true
		return nil
	})
	return appended, err
}

func (r *fulfillmentEventRepository) List(_ context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	var result []domain.FulfillmentEvent
	err := r.acc.do(func(st *state) error {
		for _, e := range st.events[orderID] {
			result = append(result, e.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return newerEvent(result[i], result[j])
	})
	return result, nil
}

func (r *fulfillmentEventRepository) Latest(ctx context.Context, orderID string) (domain.FulfillmentEvent, error) {
	events, err := r.List(ctx, orderID)
	if err != nil {
		return domain.FulfillmentEvent{}, err
	}
	if len(events) == 0 {
		return domain.FulfillmentEvent{}, domain.ErrNoFulfillmentEvents
	}
	return events[0], nil
}

// newerEvent задаёт порядок отображения: по времени события, затем по времени записи и ID.
func newerEvent(a, b domain.FulfillmentEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.After(b.RecordedAt)
	}
	return a.ID > b.ID
}

var _ domain.FulfillmentEventRepository = (*fulfillmentEventRepository)(nil)
