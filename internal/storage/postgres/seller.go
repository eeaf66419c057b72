package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

const (
	sellerColumns = `id, application, registration_fee, transaction_id, payment_id, reference, status, created_at`

	createSellerSQL = `INSERT INTO sellers (id, email, application, registration_fee, transaction_id,
		payment_id, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getSellerByEmailSQL     = `SELECT ` + sellerColumns + ` FROM sellers WHERE email = $1`
	getSellerByReferenceSQL = `SELECT ` + sellerColumns + ` FROM sellers WHERE reference = $1`

	loadTokenSQL = `SELECT id_token, refresh_token, expires_in, obtained_at FROM gateway_tokens WHERE id = 1`

	saveTokenSQL = `INSERT INTO gateway_tokens (id, id_token, refresh_token, expires_in, obtained_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET id_token = EXCLUDED.id_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_in = EXCLUDED.expires_in,
			obtained_at = EXCLUDED.obtained_at`
)

var _ seller.Repository = (*SellerRepository)(nil)

// SellerRepository implements seller.Repository backed by PostgreSQL.
// Emails are stored lower-cased.
type SellerRepository struct {
	db dbtx
}

func (r *SellerRepository) Create(ctx context.Context, s *seller.Seller) error {
	appJSON, err := json.Marshal(s.Application)
	if err != nil {
		return fmt.Errorf("marshaling application: %w", err)
	}
	_, err = r.db.Exec(ctx, createSellerSQL,
		s.ID, strings.ToLower(s.Application.Email), appJSON, s.RegistrationFee, s.TransactionID,
		s.PaymentID, s.Reference, string(s.Status), s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return seller.ErrAlreadyRegistered
		}
		return fmt.Errorf("creating seller %q: %w", s.ID, err)
	}
	return nil
}

func (r *SellerRepository) FindByEmail(ctx context.Context, email string) (*seller.Seller, error) {
	return r.findOne(ctx, getSellerByEmailSQL, strings.ToLower(strings.TrimSpace(email)))
}

func (r *SellerRepository) FindByReference(ctx context.Context, reference string) (*seller.Seller, error) {
	return r.findOne(ctx, getSellerByReferenceSQL, reference)
}

func (r *SellerRepository) findOne(ctx context.Context, query, arg string) (*seller.Seller, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting seller: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (seller.Seller, error) {
		var (
			s       seller.Seller
			appJSON []byte
			status  string
		)
		if err := row.Scan(&s.ID, &appJSON, &s.RegistrationFee, &s.TransactionID,
			&s.PaymentID, &s.Reference, &status, &s.CreatedAt); err != nil {
			return s, err
		}
		s.Status = seller.Status(status)
		if err := json.Unmarshal(appJSON, &s.Application); err != nil {
			return s, fmt.Errorf("unmarshaling application: %w", err)
		}
		return s, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, seller.ErrNotFound
		}
		return nil, fmt.Errorf("getting seller: %w", err)
	}
	return &s, nil
}

// TokenStore implements bkash.TokenStore with a single-row table.
type TokenStore struct {
	db dbtx
}

func (r *TokenStore) Load(ctx context.Context) (*bkash.Token, error) {
	var (
		t       bkash.Token
		seconds int64
	)
	err := r.db.QueryRow(ctx, loadTokenSQL).Scan(&t.IDToken, &t.RefreshToken, &seconds, &t.ObtainedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bkash.ErrNoToken
		}
		return nil, fmt.Errorf("loading gateway token: %w", err)
	}
	t.ExpiresIn = time.Duration(seconds) * time.Second
	return &t, nil
}

func (r *TokenStore) Save(ctx context.Context, t bkash.Token) error {
	_, err := r.db.Exec(ctx, saveTokenSQL, t.IDToken, t.RefreshToken, int64(t.ExpiresIn/time.Second), t.ObtainedAt)
	if err != nil {
		return fmt.Errorf("saving gateway token: %w", err)
	}
	return nil
}
