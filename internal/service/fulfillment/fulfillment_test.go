package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/printprovider"
	"github.com/vladislavdragonenkov/printshop/internal/storage/memory"
)

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	provider  *printprovider.MockProvider
	events    *EventLog
	submitter *Submitter
	tracker   *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	provider := printprovider.NewMockProvider()
	events := NewEventLog(store, nil, nil)
	return &fixture{
		ctx:       context.Background(),
		store:     store,
		provider:  provider,
		events:    events,
		submitter: NewSubmitter(store, provider, events),
		tracker:   NewTracker(store, provider, events, nil),
	}
}

// seed создаёт заказ; paid и approved управляют оплатой и утверждением макета.
func (f *fixture) seed(t *testing.T, id string, paid, approved bool) {
	t.Helper()
	require.NoError(t, f.store.Orders().Create(f.ctx, domain.Order{
		ID:              id,
		UserID:          "u-1",
		Status:          domain.OrderStatusPendingPayment,
		Currency:        "usd",
		Items:           []domain.OrderItem{{ID: id + "-1", ProductID: "tee-classic", Variant: "L", Name: "Tee", Quantity: 1, UnitPriceMinor: 2499}},
		ShippingAddress: &domain.Address{Name: "A", Line1: "1 Main", City: "Austin", PostalCode: "73301", Country: "US"},
		Totals:          domain.Totals{SubtotalMinor: 2499, ShippingMinor: 595, TotalMinor: 3094},
		CreatedAt:       time.Now().UTC(),
	}))
	require.NoError(t, f.store.Orders().AddDesign(f.ctx, domain.DesignAsset{
		ID: id + "-d1", OrderID: id, URL: "https://cdn.example.com/" + id + ".png", CreatedAt: time.Now().UTC(),
	}))
	if approved {
		require.NoError(t, f.store.Orders().ApproveDesign(f.ctx, id, id+"-d1", time.Now().UTC()))
	}
	if paid {
		ok, err := f.store.Orders().MarkPaid(f.ctx, id, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func (f *fixture) eventCount(t *testing.T, orderID string) int {
	t.Helper()
	events, err := f.store.FulfillmentEvents().List(f.ctx, orderID)
	require.NoError(t, err)
	return len(events)
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	providerID, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "pf_ord-1_1", providerID)

	order, err := f.store.Orders().Get(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, order.Status)
	assert.Equal(t, providerID, order.ProviderFulfillmentID)
	assert.True(t, order.SubmissionLeaseUntil.IsZero())

	require.Len(t, f.provider.Requests, 1)
	req := f.provider.Requests[0]
	assert.Equal(t, "ord-1", req.ExternalID)
	assert.Equal(t, "https://cdn.example.com/ord-1.png", req.Items[0].DesignURL)

	status, err := f.events.CurrentStatus(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentSubmitted, status)

	var types []string
	for _, msg := range f.store.PendingOutbox() {
		types = append(types, msg.EventType)
	}
	assert.Contains(t, types, domain.EventOrderFulfillmentSubmitted)
}

func TestSubmit_Twice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	_, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)

	_, err = f.submitter.Submit(f.ctx, "ord-1")
	require.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.Equal(t, 1, f.provider.SubmitCalls)
	assert.Equal(t, 1, f.eventCount(t, "ord-1"))
}

func TestSubmit_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		paid     bool
		approved bool
		orderID  string
		want     error
	}{
		{name: "not paid", paid: false, approved: true, orderID: "ord-1", want: domain.ErrNotPaid},
		{name: "missing design", paid: true, approved: false, orderID: "ord-1", want: domain.ErrMissingDesign},
		{name: "unknown order", paid: true, approved: true, orderID: "ord-404", want: domain.ErrOrderNotFound},
		{name: "empty id", paid: true, approved: true, orderID: " ", want: domain.ErrOrderIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "ord-1", tt.paid, tt.approved)

			_, err := f.submitter.Submit(f.ctx, tt.orderID)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.provider.SubmitCalls)
			assert.Zero(t, f.eventCount(t, "ord-1"))
			assert.Empty(t, f.store.PendingOutbox())
		})
	}
}

func TestSubmit_ProviderFailureReleasesLease(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)
	f.provider.SubmitErr = errors.New("503 from provider")

	_, err := f.submitter.Submit(f.ctx, "ord-1")
	require.ErrorIs(t, err, domain.ErrFulfillmentProvider)
	assert.Equal(t, domain.KindProvider, domain.KindOf(err))

	order, err := f.store.Orders().Get(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.True(t, order.SubmissionLeaseUntil.IsZero())
	assert.Zero(t, f.eventCount(t, "ord-1"))

	f.provider.SubmitErr = nil
	providerID, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "pf_ord-1_2", providerID)
}

func TestSubmit_LeaseHeld(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)
	now := time.Now().UTC()
	require.NoError(t, f.store.Orders().AcquireSubmissionLease(f.ctx, "ord-1", now, now.Add(time.Hour)))

	_, err := f.submitter.Submit(f.ctx, "ord-1")
	require.ErrorIs(t, err, domain.ErrSubmissionInProgress)
	assert.Zero(t, f.provider.SubmitCalls)
}

func TestEventLog_OutOfOrderDelivery(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for _, ev := range []RecordRequest{
		{OrderID: "ord-1", Kind: domain.FulfillmentShipped, ProviderEventID: "evt-3", OccurredAt: base.Add(2 * time.Hour)},
		{OrderID: "ord-1", Kind: domain.FulfillmentAccepted, ProviderEventID: "evt-1", OccurredAt: base},
		{OrderID: "ord-1", Kind: domain.FulfillmentInProduction, ProviderEventID: "evt-2", OccurredAt: base.Add(time.Hour)},
	} {
		ok, err := f.events.Record(f.ctx, ev)
		require.NoError(t, err)
		require.True(t, ok)
	}

	status, err := f.events.CurrentStatus(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentShipped, status)

	history, err := f.events.History(f.ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.FulfillmentShipped, history[0].Kind)
	assert.Equal(t, domain.FulfillmentAccepted, history[2].Kind)
	assert.JSONEq(t, `{}`, string(history[0].Payload))
}

func TestEventLog_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)
	req := RecordRequest{OrderID: "ord-1", Kind: domain.FulfillmentShipped, ProviderEventID: "evt-1", Payload: []byte(`{"tracking":"1Z"}`)}

	ok, err := f.events.Record(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.events.Record(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.eventCount(t, "ord-1"))
	assert.Len(t, f.store.PendingOutbox(), 1)
}

func TestEventLog_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	_, err := f.events.Record(f.ctx, RecordRequest{OrderID: "ord-1", Kind: "teleported"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.events.Record(f.ctx, RecordRequest{Kind: domain.FulfillmentShipped})
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)

	_, err = f.events.Record(f.ctx, RecordRequest{OrderID: "ord-404", Kind: domain.FulfillmentShipped})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.events.CurrentStatus(f.ctx, "ord-1")
	require.ErrorIs(t, err, domain.ErrNoFulfillmentEvents)

	_, err = f.events.History(f.ctx, "ord-404")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestTracker_Refresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	recorded, err := f.tracker.Refresh(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, recorded, "not submitted yet")
	assert.Zero(t, f.provider.GetCalls)

	providerID, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)
	f.provider.Advance(providerID, "shipped", "1Z999")

	recorded, err = f.tracker.Refresh(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = f.tracker.Refresh(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, recorded)

	status, err := f.events.CurrentStatus(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentShipped, status)

	f.provider.GetErr = errors.New("timeout")
	_, err = f.tracker.Refresh(f.ctx, "ord-1")
	assert.Equal(t, domain.KindProvider, domain.KindOf(err))
}

func TestTracker_RefreshRightAfterSubmitKeepsSingleSubmittedEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	_, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)
	outboxBefore := len(f.store.PendingOutbox())

	// провайдер ещё отвечает submitted
	recorded, err := f.tracker.Refresh(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, 1, f.provider.GetCalls)
	assert.Equal(t, 1, f.eventCount(t, "ord-1"))
	assert.Len(t, f.store.PendingOutbox(), outboxBefore)
}

func TestTracker_RefreshSkipsStatusAlreadyReportedByWebhook(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ord-1", true, true)

	providerID, err := f.submitter.Submit(f.ctx, "ord-1")
	require.NoError(t, err)
	_, err = f.events.Record(f.ctx, RecordRequest{
		OrderID:         "ord-1",
		Kind:            domain.FulfillmentShipped,
		ProviderEventID: "wh:shipped:" + providerID,
		OccurredAt:      time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, err)

	f.provider.Advance(providerID, "shipped", "1Z999")
	recorded, err := f.tracker.Refresh(f.ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, 2, f.eventCount(t, "ord-1"))
}
