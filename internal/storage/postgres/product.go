package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, title, price, stock, image FROM products ORDER BY id LIMIT $1`

	// Unparsable stock counts as zero and the result never drops below zero.
	decrementStockSQL = `UPDATE products SET stock = GREATEST(
			(CASE WHEN stock ~ '^\s*[0-9]+\s*$' THEN trim(stock)::bigint ELSE 0 END) - $2, 0
		)::text
		WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, title, price, stock, image) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, price = EXCLUDED.price,
			stock = EXCLUDED.stock, image = EXCLUDED.image`

	clearCartSQL = `DELETE FROM carts WHERE email = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db dbtx
}

// List returns up to limit products ordered by ID.
func (r *ProductRepository) List(ctx context.Context, limit int) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, listProductsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.Image)
		return p, err
	})
}

// DecrementStock lowers the stock in a single statement.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	tag, err := r.db.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces a catalog row.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.db.Exec(ctx, upsertProductSQL, p.ID, p.Title, p.Price, p.Stock, p.Image); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db dbtx
}

// ClearByEmail deletes the buyer's cart rows.
func (r *CartRepository) ClearByEmail(ctx context.Context, email string) (int64, error) {
	tag, err := r.db.Exec(ctx, clearCartSQL, email)
	if err != nil {
		return 0, fmt.Errorf("clearing cart: %w", err)
	}
	return tag.RowsAffected(), nil
}
