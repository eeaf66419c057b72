package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pay/internal/domain/payment"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicatePayment is returned when an order already exists for the
	// same checkout reference or gateway payment.
	ErrDuplicatePayment = errors.New("order already exists for payment")
	// ErrInvalidAmount is returned when the gateway-confirmed amount is not
	// positive.
	ErrInvalidAmount = errors.New("confirmed payment amount must be greater than 0")
)

// PaymentStatus describes how much of the order is settled.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
)

// Item is an ordered product snapshot.
type Item = payment.CartItem

// Shipment holds courier details filled in by the seller or admin.
type Shipment struct {
	CourierName string
	TrackingID  string
	ShippedAt   *time.Time
}

// Refund holds a buyer's refund request.
type Refund struct {
	Requested   bool
	Reason      string
	RequestedAt *time.Time
}

// Order is created only after the gateway confirms a payment.
type Order struct {
	ID            string
	Reference     string
	Email         string
	Customer      payment.Customer
	Items         []Item
	Note          string
	Shipping      decimal.Decimal
	Subtotal      decimal.Decimal
	TotalAmount   decimal.Decimal
	AdvancePaid   decimal.Decimal
	DueAmount     decimal.Decimal
	TransactionID string
	PaymentID     string
	PaymentMethod payment.Method
	PaymentStatus PaymentStatus
	Status        Status
	Shipment      Shipment
	Refund        Refund
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Confirmation is the gateway's authoritative view of an executed payment.
type Confirmation struct {
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
}

// NewFromPayment builds an order from a pending checkout snapshot and the
// gateway confirmation. The confirmed amount, not the submitted one, becomes
// the paid amount.
func NewFromPayment(p *payment.Pending, c Confirmation, now time.Time) (*Order, error) {
	if !c.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	paid := c.Amount.Round(2)
	due := p.Total.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	status := PaymentPartial
	if due.IsZero() {
		status = PaymentPaid
	}

	items := make([]Item, len(p.Items))
	copy(items, p.Items)

	return &Order{
		ID:            NewID(now),
		Reference:     p.Reference,
		Email:         p.UserEmail,
		Customer:      p.Customer,
		Items:         items,
		Note:          p.Note,
		Shipping:      p.Shipping,
		Subtotal:      p.Subtotal,
		TotalAmount:   p.Total,
		AdvancePaid:   paid,
		DueAmount:     due.Round(2),
		TransactionID: c.TransactionID,
		PaymentID:     c.PaymentID,
		PaymentMethod: p.Method,
		PaymentStatus: status,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewID returns a human-readable order identifier such as
// "ORD-20240115-3F9A1C".
func NewID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}

// Repository persists orders.
type Repository interface {
	// Create stores a new order. An order whose reference or payment ID is
	// already taken yields ErrDuplicatePayment.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByReference(ctx context.Context, reference string) (*Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	ListByEmail(ctx context.Context, email string) ([]Order, error)
	// UpdateStatus moves the order from one status to another. It fails with
	// ErrStaleStatus when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	SetShipment(ctx context.Context, id string, s Shipment) error
	SetRefund(ctx context.Context, id string, r Refund) error
}
