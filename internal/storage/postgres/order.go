package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
)

const (
	orderColumns = `id, reference, payment_id, email, customer, items, note, shipping, subtotal,
		total_amount, advance_paid, due_amount, transaction_id, payment_method, payment_status, status,
		courier_name, tracking_id, shipped_at, refund_requested, refund_reason, refund_requested_at,
		created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`

	getOrderByIDSQL        = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByReferenceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE reference = $1`
	getOrderByPaymentIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_id = $1`

	listOrdersByEmailSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE lower(email) = lower($1) ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	setShipmentSQL = `UPDATE orders SET courier_name = $2, tracking_id = $3, shipped_at = $4, updated_at = now()
		WHERE id = $1`

	setRefundSQL = `UPDATE orders SET refund_requested = $2, refund_reason = $3, refund_requested_at = $4,
		updated_at = now() WHERE id = $1`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// unique reference and payment_id columns make order creation idempotent
// per checkout.
type OrderRepository struct {
	db dbtx
}

// Create persists a new order. The customer and item snapshots are stored
// as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customerJSON, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer: %w", err)
	}
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.db.Exec(ctx, createOrderSQL,
		o.ID, o.Reference, o.PaymentID, o.Email, customerJSON, itemsJSON, o.Note,
		o.Shipping, o.Subtotal, o.TotalAmount, o.AdvancePaid, o.DueAmount,
		o.TransactionID, string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		o.Shipment.CourierName, o.Shipment.TrackingID, o.Shipment.ShippedAt,
		o.Refund.Requested, o.Refund.Reason, o.Refund.RequestedAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicatePayment
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByReferenceSQL, reference)
}

func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByPaymentIDSQL, paymentID)
}

func (r *OrderRepository) findOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// ListByEmail returns the buyer's orders, newest first.
func (r *OrderRepository) ListByEmail(ctx context.Context, email string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByEmailSQL, email)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus performs a compare-and-set on the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missing(ctx, id, order.ErrStaleStatus)
	}
	return nil
}

func (r *OrderRepository) SetShipment(ctx context.Context, id string, s order.Shipment) error {
	tag, err := r.db.Exec(ctx, setShipmentSQL, id, s.CourierName, s.TrackingID, s.ShippedAt)
	if err != nil {
		return fmt.Errorf("setting order %q shipment: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) SetRefund(ctx context.Context, id string, rf order.Refund) error {
	tag, err := r.db.Exec(ctx, setRefundSQL, id, rf.Requested, rf.Reason, rf.RequestedAt)
	if err != nil {
		return fmt.Errorf("setting order %q refund: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// missing returns ErrNotFound when the order does not exist and the given
// error otherwise.
func (r *OrderRepository) missing(ctx context.Context, id string, otherwise error) error {
	var exists bool
	if err := r.db.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return otherwise
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		customerJSON, itemsJSON       []byte
		method, paymentStatus, status string
	)
	err := row.Scan(
		&o.ID, &o.Reference, &o.PaymentID, &o.Email, &customerJSON, &itemsJSON, &o.Note,
		&o.Shipping, &o.Subtotal, &o.TotalAmount, &o.AdvancePaid, &o.DueAmount,
		&o.TransactionID, &method, &paymentStatus, &status,
		&o.Shipment.CourierName, &o.Shipment.TrackingID, &o.Shipment.ShippedAt,
		&o.Refund.Requested, &o.Refund.Reason, &o.Refund.RequestedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(customerJSON, &o.Customer); err != nil {
		return o, fmt.Errorf("unmarshaling customer: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.PaymentMethod = payment.Method(method)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, nil
}
