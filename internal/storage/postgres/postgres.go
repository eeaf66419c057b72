// Package postgres implements the payment repositories on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-pay/db"
	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

const uniqueViolation = "23505"

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ checkout.Store   = (*Store)(nil)
	_ bkash.TokenStore = (*TokenStore)(nil)
)

// Store groups the PostgreSQL repositories. A Store obtained inside InTx
// runs every statement in that transaction.
type Store struct {
	db dbtx
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Payments() payment.PendingRepository           { return &PaymentRepository{db: s.db} }
func (s *Store) Registrations() payment.RegistrationRepository { return &RegistrationRepository{db: s.db} }
func (s *Store) Orders() order.Repository                      { return &OrderRepository{db: s.db} }
func (s *Store) Carts() cart.Repository                        { return &CartRepository{db: s.db} }
func (s *Store) Products() product.Repository                  { return &ProductRepository{db: s.db} }
func (s *Store) Sellers() seller.Repository                    { return &SellerRepository{db: s.db} }

// Tokens returns the gateway token store.
func (s *Store) Tokens() *TokenStore { return &TokenStore{db: s.db} }

// InTx runs fn in a transaction. Nested calls use a savepoint.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// transitionError explains why a conditional update on a pending record
// matched no rows.
func transitionError(ctx context.Context, db dbtx, table, reference string) error {
	var status string
	err := db.QueryRow(ctx, `SELECT status FROM `+table+` WHERE reference = $1`, reference).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return payment.ErrNotFound
	case err != nil:
		return fmt.Errorf("reading %s status: %w", table, err)
	default:
		return errors.Wrapf(payment.ErrIllegalTransition, "%s is %s", reference, status)
	}
}
