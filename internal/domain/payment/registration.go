package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// PendingRegistration holds a seller application while its registration fee
// is being paid.
type PendingRegistration struct {
	Reference     string
	Applicant     seller.Application
	Fee           decimal.Decimal
	Status        Status
	PaymentID     string
	TransactionID string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegistrationRepository persists pending registration payments. It follows
// the same transition rules as PendingRepository.
type RegistrationRepository interface {
	Create(ctx context.Context, p *PendingRegistration) error
	FindByReference(ctx context.Context, reference string) (*PendingRegistration, error)
	SetPaymentID(ctx context.Context, reference, paymentID string) error
	MarkFailed(ctx context.Context, reference string, f Failure) error
	Complete(ctx context.Context, reference string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]PendingRegistration, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]PendingRegistration, error)
}
