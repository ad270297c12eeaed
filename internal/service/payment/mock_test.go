package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

func TestMockProvider(t *testing.T) {
	mock := NewMockProvider()
	ctx := context.Background()

	req := domain.CheckoutSessionRequest{
		ClientReferenceID: "order-1",
		Currency:          "usd",
		Lines:             []domain.CheckoutLine{{Name: "Tee", UnitAmountMinor: 2499, Quantity: 2}},
		ShippingMinor:     595,
		DiscountMinor:     1000,
		Metadata:          map[string]string{domain.SessionMetaOrderID: "order-1"},
		IdempotencyKey:    "checkout:order-1",
	}

	session, err := mock.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if session.AmountTotalMinor != 4593 {
		t.Fatalf("unexpected total: %d", session.AmountTotalMinor)
	}
	if session.PaymentStatus == domain.SessionPaymentStatusPaid {
		t.Fatal("new session must not be paid")
	}

	again, err := mock.CreateSession(ctx, req)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if again.ID != session.ID {
		t.Fatalf("idempotent create returned new session %s", again.ID)
	}

	if err := mock.Complete(session.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := mock.RetrieveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.PaymentStatus != domain.SessionPaymentStatusPaid || got.PaymentIntentID == "" {
		t.Fatalf("unexpected session after complete: %+v", got)
	}
	if got.Metadata[domain.SessionMetaOrderID] != "order-1" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	if _, err := mock.RetrieveSession(ctx, "cs_missing"); !errors.Is(err, domain.ErrPaymentProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}

	mock.CreateErr = errors.New("stripe down")
	if _, err := mock.CreateSession(ctx, domain.CheckoutSessionRequest{}); err == nil {
		t.Fatal("expected configured create error")
	}
	if mock.CreateCalls != 3 || mock.RetrieveCalls != 2 {
		t.Fatalf("unexpected call counters: create=%d retrieve=%d", mock.CreateCalls, mock.RetrieveCalls)
	}
}
