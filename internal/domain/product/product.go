package product

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the subset of a catalog item the payment flow touches. Stock is
// stored as a string-encoded integer.
type Product struct {
	ID    string
	Title string
	Price decimal.Decimal
	Stock string
	Image string
}

// StockCount parses the stored stock. Unparsable or negative values count as
// zero.
func (p Product) StockCount() int {
	return parseStock(p.Stock)
}

// DecrementStock subtracts qty from a string-encoded stock value and floors
// the result at zero.
func DecrementStock(stock string, qty int) string {
	n := parseStock(stock) - qty
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}

func parseStock(stock string) int {
	n, err := strconv.Atoi(strings.TrimSpace(stock))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Repository defines the catalog operations used around checkout.
type Repository interface {
	List(ctx context.Context, limit int) ([]Product, error)
	// DecrementStock lowers the stock of a product by qty, flooring at zero.
	// Missing products yield ErrNotFound.
	DecrementStock(ctx context.Context, id string, qty int) error
	// Upsert inserts p or replaces the product with the same ID.
	Upsert(ctx context.Context, p Product) error
}
