package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

const orderColumns = `
	id, user_id, status, currency, shipping_address, promo_code_id, promo_claim,
	subtotal_minor, shipping_minor, discount_minor, total_minor,
	checkout_session_id, provider_fulfillment_id, submission_lease_until,
	created_at, paid_at, submitted_at, updated_at`

type orderRepository struct {
	q queryer
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var address []byte
	if order.ShippingAddress != nil {
		raw, err := json.Marshal(order.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
		address = raw
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, status, currency, shipping_address, promo_code_id, promo_claim,
			subtotal_minor, shipping_minor, discount_minor, total_minor,
			checkout_session_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID, order.UserID, string(order.Status), order.Currency, address,
		nullString(order.PromoCodeID), string(order.PromoClaim),
		order.Totals.SubtotalMinor, order.Totals.ShippingMinor, order.Totals.DiscountMinor, order.Totals.TotalMinor,
		nullString(order.CheckoutSessionID), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return domain.ErrPromoCodeInvalid
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, variant, name, quantity, unit_price_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, i, item.ProductID, item.Variant, item.Name, item.Quantity, item.UnitPriceMinor,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) AttachSession(ctx context.Context, orderID, sessionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET checkout_session_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending_payment'
	`, orderID, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.currentStatus(ctx, orderID); err != nil {
			return err
		}
		return domain.ErrOrderNotEditable
	}
	return nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE orders
		SET status = 'paid', paid_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending_payment'
	`, orderID, paidAt.UTC())
}

func (r *orderRepository) SetPromoClaim(ctx context.Context, orderID string, claim domain.PromoClaimState) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET promo_claim = $2, updated_at = $3 WHERE id = $1
	`, orderID, string(claim), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set promo claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) AcquireSubmissionLease(ctx context.Context, orderID string, now, until time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET submission_lease_until = $3, updated_at = $2
		WHERE id = $1
		  AND status = 'paid'
		  AND (submission_lease_until IS NULL OR submission_lease_until <= $2)
	`, orderID, now.UTC(), until.UTC())
	if err != nil {
		return fmt.Errorf("acquire submission lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	status, err := r.currentStatus(ctx, orderID)
	if err != nil {
		return err
	}
	switch status {
	case domain.OrderStatusPaid:
		return domain.ErrSubmissionInProgress
	case domain.OrderStatusSubmitted:
		return domain.ErrAlreadySubmitted
	default:
		return domain.ErrNotPaid
	}
}

func (r *orderRepository) ReleaseSubmissionLease(ctx context.Context, orderID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		UPDATE orders SET submission_lease_until = NULL WHERE id = $1 AND status = 'paid'
	`, orderID); err != nil {
		return fmt.Errorf("release submission lease: %w", err)
	}
	return nil
}

func (r *orderRepository) MarkSubmitted(ctx context.Context, orderID, providerFulfillmentID string, submittedAt time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE orders
		SET status = 'submitted',
		    provider_fulfillment_id = $3,
		    submitted_at = $2,
		    submission_lease_until = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'paid'
	`, orderID, submittedAt.UTC(), providerFulfillmentID)
}

func (r *orderRepository) AddDesign(ctx context.Context, asset domain.DesignAsset) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO order_designs (id, order_id, url, approved, created_at)
		SELECT $1, $2, $3, FALSE, $4
		WHERE EXISTS (
			SELECT 1 FROM orders WHERE id = $2 AND status IN ('pending_payment', 'paid')
		)
	`, asset.ID, asset.OrderID, asset.URL, asset.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert design asset: %w", err)
	}
	return r.diagnoseDesignWrite(ctx, res, asset.OrderID, "")
}

func (r *orderRepository) ApproveDesign(ctx context.Context, orderID, assetID string, approvedAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE order_designs d
		SET approved = TRUE, approved_at = $3
		FROM orders o
		WHERE d.id = $2
		  AND d.order_id = $1
		  AND o.id = d.order_id
		  AND o.status IN ('pending_payment', 'paid')
	`, orderID, assetID, approvedAt.UTC())
	if err != nil {
		return fmt.Errorf("approve design asset: %w", err)
	}
	return r.diagnoseDesignWrite(ctx, res, orderID, assetID)
}

// diagnoseDesignWrite объясняет, почему запись макета не затронула ни одной строки.
func (r *orderRepository) diagnoseDesignWrite(ctx context.Context, res sql.Result, orderID, assetID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	status, err := r.currentStatus(ctx, orderID)
	if err != nil {
		return err
	}
	if status == domain.OrderStatusSubmitted || status == domain.OrderStatusCancelled {
		return domain.ErrOrderNotEditable
	}
	if assetID != "" {
		return domain.ErrDesignNotFound
	}
	return fmt.Errorf("insert design asset: no rows affected")
}

// transition выполняет условный UPDATE статуса; false означает, что заказ уже не в исходном статусе.
func (r *orderRepository) transition(ctx context.Context, query, orderID string, args ...any) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, query, append([]any{orderID}, args...)...)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := r.currentStatus(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *orderRepository) currentStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var status string
	err := r.q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrOrderNotFound
		}
		return "", fmt.Errorf("check order status: %w", err)
	}
	return domain.OrderStatus(status), nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return err
	}
	designs, err := r.loadDesigns(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items
	order.Designs = designs
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, variant, name, quantity, unit_price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Variant, &item.Name, &item.Quantity, &item.UnitPriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) loadDesigns(ctx context.Context, orderID string) ([]domain.DesignAsset, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, url, approved, approved_at, created_at
		FROM order_designs
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order designs: %w", err)
	}
	defer rows.Close()

	designs := make([]domain.DesignAsset, 0)
	for rows.Next() {
		var (
			d          domain.DesignAsset
			approvedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.URL, &d.Approved, &approvedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order design: %w", err)
		}
		if approvedAt.Valid {
			d.ApprovedAt = approvedAt.Time.UTC()
		}
		designs = append(designs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order designs: %w", err)
	}
	return designs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		promoClaim  string
		address     []byte
		promoCodeID sql.NullString
		sessionID   sql.NullString
		providerID  sql.NullString
		leaseUntil  sql.NullTime
		paidAt      sql.NullTime
		submittedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &status, &order.Currency, &address, &promoCodeID, &promoClaim,
		&order.Totals.SubtotalMinor, &order.Totals.ShippingMinor, &order.Totals.DiscountMinor, &order.Totals.TotalMinor,
		&sessionID, &providerID, &leaseUntil,
		&order.CreatedAt, &paidAt, &submittedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PromoClaim = domain.PromoClaimState(promoClaim)
	order.PromoCodeID = promoCodeID.String
	order.CheckoutSessionID = sessionID.String
	order.ProviderFulfillmentID = providerID.String
	if leaseUntil.Valid {
		order.SubmissionLeaseUntil = leaseUntil.Time.UTC()
	}
	if paidAt.Valid {
		order.PaidAt = paidAt.Time.UTC()
	}
	if submittedAt.Valid {
		order.SubmittedAt = submittedAt.Time.UTC()
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	if len(address) > 0 {
		var addr domain.Address
		if err := json.Unmarshal(address, &addr); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
		order.ShippingAddress = &addr
	}
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
