package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-pay/internal/domain/payment"
)

const (
	pendingColumns = `reference, customer, items, note, shipping, subtotal, total, method, user_email,
		status, payment_id, transaction_id, failure_reason, created_at, updated_at`

	createPendingSQL = `INSERT INTO pending_payments (` + pendingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getPendingSQL = `SELECT ` + pendingColumns + ` FROM pending_payments WHERE reference = $1`

	setPendingPaymentIDSQL = `UPDATE pending_payments SET payment_id = $2, updated_at = now()
		WHERE reference = $1 AND status = 'pending'`

	failPendingSQL = `UPDATE pending_payments SET status = 'failed', failure_reason = $2,
		payment_id = COALESCE(NULLIF($3, ''), payment_id),
		transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
		updated_at = now()
		WHERE reference = $1 AND status = 'pending'`

	completePendingSQL = `DELETE FROM pending_payments WHERE reference = $1 AND status = 'pending'`

	listStalePendingSQL = `SELECT ` + pendingColumns + ` FROM pending_payments
		WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`

	listPendingByStatusSQL = `SELECT ` + pendingColumns + ` FROM pending_payments
		WHERE status = $1 ORDER BY created_at LIMIT $2`
)

var _ payment.PendingRepository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.PendingRepository backed by
// PostgreSQL. Status changes are conditional on the record still being
// pending.
type PaymentRepository struct {
	db dbtx
}

// Create persists a new pending payment. The customer and cart snapshots are
// stored as JSONB.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Pending) error {
	customerJSON, err := json.Marshal(p.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer: %w", err)
	}
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}

	_, err = r.db.Exec(ctx, createPendingSQL,
		p.Reference, customerJSON, itemsJSON, p.Note, p.Shipping, p.Subtotal, p.Total,
		string(p.Method), p.UserEmail, string(p.Status), p.PaymentID, p.TransactionID,
		p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateReference
		}
		return fmt.Errorf("creating pending payment %q: %w", p.Reference, err)
	}
	return nil
}

// FindByReference returns the pending payment with the given reference.
func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*payment.Pending, error) {
	rows, err := r.db.Query(ctx, getPendingSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting pending payment %q: %w", reference, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting pending payment %q: %w", reference, err)
	}
	return &p, nil
}

// SetPaymentID records the gateway payment id on a pending record.
func (r *PaymentRepository) SetPaymentID(ctx context.Context, reference, paymentID string) error {
	tag, err := r.db.Exec(ctx, setPendingPaymentIDSQL, reference, paymentID)
	if err != nil {
		return fmt.Errorf("setting payment id of %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_payments", reference)
	}
	return nil
}

// MarkFailed moves a pending record to failed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, reference string, f payment.Failure) error {
	tag, err := r.db.Exec(ctx, failPendingSQL, reference, f.Reason, f.PaymentID, f.TransactionID)
	if err != nil {
		return fmt.Errorf("failing pending payment %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_payments", reference)
	}
	return nil
}

// Complete deletes a pending record once its order exists.
func (r *PaymentRepository) Complete(ctx context.Context, reference string) error {
	tag, err := r.db.Exec(ctx, completePendingSQL, reference)
	if err != nil {
		return fmt.Errorf("completing pending payment %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_payments", reference)
	}
	return nil
}

// ListStale returns pending records created before olderThan, oldest first.
func (r *PaymentRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]payment.Pending, error) {
	rows, err := r.db.Query(ctx, listStalePendingSQL, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending payments: %w", err)
	}
	return pgx.CollectRows(rows, scanPending)
}

// ListByStatus returns records in the given status, oldest first.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status payment.Status, limit int) ([]payment.Pending, error) {
	rows, err := r.db.Query(ctx, listPendingByStatusSQL, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing %s pending payments: %w", status, err)
	}
	return pgx.CollectRows(rows, scanPending)
}

func scanPending(row pgx.CollectableRow) (payment.Pending, error) {
	var (
		p                       payment.Pending
		customerJSON, itemsJSON []byte
		method, status          string
	)
	err := row.Scan(
		&p.Reference, &customerJSON, &itemsJSON, &p.Note, &p.Shipping, &p.Subtotal, &p.Total,
		&method, &p.UserEmail, &status, &p.PaymentID, &p.TransactionID, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(customerJSON, &p.Customer); err != nil {
		return p, fmt.Errorf("unmarshaling customer: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return p, fmt.Errorf("unmarshaling cart items: %w", err)
	}
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	return p, nil
}

const (
	registrationColumns = `reference, applicant, fee, status, payment_id, transaction_id,
		failure_reason, created_at, updated_at`

	createRegistrationSQL = `INSERT INTO pending_registrations (` + registrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getRegistrationSQL = `SELECT ` + registrationColumns + ` FROM pending_registrations WHERE reference = $1`

	setRegistrationPaymentIDSQL = `UPDATE pending_registrations SET payment_id = $2, updated_at = now()
		WHERE reference = $1 AND status = 'pending'`

	failRegistrationSQL = `UPDATE pending_registrations SET status = 'failed', failure_reason = $2,
		payment_id = COALESCE(NULLIF($3, ''), payment_id),
		transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
		updated_at = now()
		WHERE reference = $1 AND status = 'pending'`

	completeRegistrationSQL = `DELETE FROM pending_registrations WHERE reference = $1 AND status = 'pending'`

	listStaleRegistrationsSQL = `SELECT ` + registrationColumns + ` FROM pending_registrations
		WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`

	listRegistrationsByStatusSQL = `SELECT ` + registrationColumns + ` FROM pending_registrations
		WHERE status = $1 ORDER BY created_at LIMIT $2`
)

var _ payment.RegistrationRepository = (*RegistrationRepository)(nil)

// RegistrationRepository implements payment.RegistrationRepository backed by
// PostgreSQL.
type RegistrationRepository struct {
	db dbtx
}

func (r *RegistrationRepository) Create(ctx context.Context, p *payment.PendingRegistration) error {
	applicantJSON, err := json.Marshal(p.Applicant)
	if err != nil {
		return fmt.Errorf("marshaling applicant: %w", err)
	}
	_, err = r.db.Exec(ctx, createRegistrationSQL,
		p.Reference, applicantJSON, p.Fee, string(p.Status), p.PaymentID, p.TransactionID,
		p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateReference
		}
		return fmt.Errorf("creating pending registration %q: %w", p.Reference, err)
	}
	return nil
}

func (r *RegistrationRepository) FindByReference(ctx context.Context, reference string) (*payment.PendingRegistration, error) {
	rows, err := r.db.Query(ctx, getRegistrationSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting pending registration %q: %w", reference, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanRegistration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting pending registration %q: %w", reference, err)
	}
	return &p, nil
}

func (r *RegistrationRepository) SetPaymentID(ctx context.Context, reference, paymentID string) error {
	tag, err := r.db.Exec(ctx, setRegistrationPaymentIDSQL, reference, paymentID)
	if err != nil {
		return fmt.Errorf("setting payment id of %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_registrations", reference)
	}
	return nil
}

func (r *RegistrationRepository) MarkFailed(ctx context.Context, reference string, f payment.Failure) error {
	tag, err := r.db.Exec(ctx, failRegistrationSQL, reference, f.Reason, f.PaymentID, f.TransactionID)
	if err != nil {
		return fmt.Errorf("failing pending registration %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_registrations", reference)
	}
	return nil
}

func (r *RegistrationRepository) Complete(ctx context.Context, reference string) error {
	tag, err := r.db.Exec(ctx, completeRegistrationSQL, reference)
	if err != nil {
		return fmt.Errorf("completing pending registration %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, r.db, "pending_registrations", reference)
	}
	return nil
}

func (r *RegistrationRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]payment.PendingRegistration, error) {
	rows, err := r.db.Query(ctx, listStaleRegistrationsSQL, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending registrations: %w", err)
	}
	return pgx.CollectRows(rows, scanRegistration)
}

func (r *RegistrationRepository) ListByStatus(ctx context.Context, status payment.Status, limit int) ([]payment.PendingRegistration, error) {
	rows, err := r.db.Query(ctx, listRegistrationsByStatusSQL, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing %s pending registrations: %w", status, err)
	}
	return pgx.CollectRows(rows, scanRegistration)
}

func scanRegistration(row pgx.CollectableRow) (payment.PendingRegistration, error) {
	var (
		p             payment.PendingRegistration
		applicantJSON []byte
		status        string
	)
	err := row.Scan(
		&p.Reference, &applicantJSON, &p.Fee, &status, &p.PaymentID, &p.TransactionID,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(applicantJSON, &p.Applicant); err != nil {
		return p, fmt.Errorf("unmarshaling applicant: %w", err)
	}
	p.Status = payment.Status(status)
	return p, nil
}
