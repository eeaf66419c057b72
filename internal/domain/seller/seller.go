package seller

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no seller matches the lookup.
	ErrNotFound = errors.New("seller not found")
	// ErrAlreadyRegistered is returned when the email or the registration
	// payment already belongs to a seller.
	ErrAlreadyRegistered = errors.New("seller already registered")
)

// Status is the seller account state.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusActive        Status = "active"
	StatusSuspended     Status = "suspended"
)

// Application is what a prospective seller submits before paying the
// registration fee.
type Application struct {
	Name          string `json:"name"`
	ShopName      string `json:"shopName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	NID           string `json:"nid,omitempty"`
	PayoutMethod  string `json:"payoutMethod,omitempty"`
	PayoutAccount string `json:"payoutAccount,omitempty"`
}

// Validate checks the required application fields.
func (a Application) Validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return errors.New("name is required")
	case strings.TrimSpace(a.ShopName) == "":
		return errors.New("shop name is required")
	case !strings.Contains(a.Email, "@"):
		return errors.New("valid email is required")
	case strings.TrimSpace(a.Phone) == "":
		return errors.New("phone is required")
	}
	return nil
}

// Seller is a registered merchant whose registration fee was confirmed by
// the gateway.
type Seller struct {
	ID              string
	Application     Application
	RegistrationFee decimal.Decimal
	TransactionID   string
	PaymentID       string
	Reference       string
	Status          Status
	CreatedAt       time.Time
}

// Repository persists sellers.
type Repository interface {
	// Create stores a new seller. Duplicate email or payment yields
	// ErrAlreadyRegistered.
	Create(ctx context.Context, s *Seller) error
	FindByEmail(ctx context.Context, email string) (*Seller, error)
	// FindByReference returns the seller created from the given registration
	// payment reference.
	FindByReference(ctx context.Context, reference string) (*Seller, error)
}
