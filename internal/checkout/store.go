package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// ErrLocked is returned by a Locker when another holder owns the key.
var ErrLocked = errors.New("lock is held")

// Store gives access to every repository the payment saga touches.
type Store interface {
	Payments() payment.PendingRepository
	Registrations() payment.RegistrationRepository
	Orders() order.Repository
	Carts() cart.Repository
	Products() product.Repository
	Sellers() seller.Repository

	// InTx runs fn inside a single transaction. Repositories obtained from
	// tx participate in it; fn returning an error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker provides mutual exclusion per key across service instances.
type Locker interface {
	// TryLock acquires key for at most ttl without waiting. A held key
	// yields ErrLocked.
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Gateway is the payment gateway used by the saga.
type Gateway interface {
	CreatePayment(ctx context.Context, req bkash.CreateRequest) (*bkash.CreateResponse, error)
	ExecutePayment(ctx context.Context, paymentID string) (*bkash.ExecuteResponse, error)
}

var _ Gateway = (*bkash.Client)(nil)
