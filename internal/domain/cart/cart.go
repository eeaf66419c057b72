package cart

import "context"

// Repository manages buyer cart rows. One row exists per (email, product,
// variation, price) combination.
type Repository interface {
	// ClearByEmail deletes every cart row of the buyer and returns how many
	// rows were removed.
	ClearByEmail(ctx context.Context, email string) (int64, error)
}
