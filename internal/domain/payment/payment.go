package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no pending record matches a reference.
	ErrNotFound = errors.New("pending payment not found")
	// ErrDuplicateReference is returned when a reference is already in use.
	ErrDuplicateReference = errors.New("duplicate payment reference")
	// ErrIllegalTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrIllegalTransition = errors.New("illegal payment status transition")
	// ErrUnknownMethod is returned for payment methods outside the closed set.
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrInvalidReference is returned for empty or malformed references.
	ErrInvalidReference = errors.New("invalid payment reference")
)

// Status is the lifecycle state of a pending record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CanTransition reports whether a record in status s may move to next.
// Only pending records move, and only forward.
func (s Status) CanTransition(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusFailed || next == StatusCompleted
}

// Transition returns next when the move is legal and ErrIllegalTransition
// otherwise.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, errors.Wrapf(ErrIllegalTransition, "%s -> %s", s, next)
	}
	return next, nil
}

// Method is the buyer's chosen payment method.
type Method string

const (
	// MethodBKash charges the full order total up front.
	MethodBKash Method = "bkash"
	// MethodCOD collects a fixed advance now and the rest on delivery.
	MethodCOD Method = "cod"
)

// ParseMethod validates a method string against the supported set.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodBKash, MethodCOD:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// FullPayment reports whether the method settles the whole order total.
func (m Method) FullPayment() bool {
	return m == MethodBKash
}

// ChargeAmount returns the amount to request from the gateway. Full-payment
// methods charge the order total; cash on delivery charges the fixed advance
// regardless of subtotal or shipping.
func ChargeAmount(m Method, total, advance decimal.Decimal) (decimal.Decimal, error) {
	switch m {
	case MethodBKash:
		return total.Round(2), nil
	case MethodCOD:
		return advance.Round(2), nil
	default:
		return decimal.Zero, errors.Wrapf(ErrUnknownMethod, "%q", string(m))
	}
}

// Customer is the buyer snapshot captured at checkout.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Area     string `json:"area,omitempty"`
}

// CartItem is a cart line snapshot. Price is the price at checkout time.
type CartItem struct {
	ProductID  string            `json:"productId"`
	Title      string            `json:"title"`
	Image      string            `json:"image,omitempty"`
	Price      decimal.Decimal   `json:"price"`
	Quantity   int               `json:"quantity"`
	Variations map[string]string `json:"variations,omitempty"`
}

// LineTotal returns price multiplied by quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Pending holds a checkout payload while the gateway confirms or denies it.
type Pending struct {
	Reference     string
	Customer      Customer
	Items         []CartItem
	Note          string
	Shipping      decimal.Decimal
	Subtotal      decimal.Decimal
	Total         decimal.Decimal
	Method        Method
	UserEmail     string
	Status        Status
	PaymentID     string
	TransactionID string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Failure carries the details recorded when a pending record is failed.
type Failure struct {
	Reason        string
	PaymentID     string
	TransactionID string
}

// PendingRepository persists pending checkout payments.
type PendingRepository interface {
	Create(ctx context.Context, p *Pending) error
	FindByReference(ctx context.Context, reference string) (*Pending, error)
	// SetPaymentID records the gateway payment created for a pending record.
	SetPaymentID(ctx context.Context, reference, paymentID string) error
	// MarkFailed moves a pending record to failed. Records that are not
	// pending yield ErrIllegalTransition.
	MarkFailed(ctx context.Context, reference string, f Failure) error
	// Complete removes a pending record after its order was created. Records
	// that are not pending yield ErrIllegalTransition.
	Complete(ctx context.Context, reference string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Pending, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Pending, error)
}
