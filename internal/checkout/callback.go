package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
)

// Result classifies how a callback ended.
type Result string

const (
	// ResultCompleted means the payment was executed and reconciled.
	ResultCompleted Result = "completed"
	// ResultDuplicate means the payment was already reconciled earlier.
	ResultDuplicate Result = "duplicate"
	// ResultFailed means the pending record was marked failed.
	ResultFailed Result = "failed"
	// ResultRejected means the callback was ignored without state changes.
	ResultRejected Result = "rejected"
)

// Failure reasons reported in redirects and metrics.
const (
	ReasonMissingReference = "missing_reference"
	ReasonUnknownReference = "unknown_reference"
	ReasonInProgress       = "in_progress"
	ReasonAlreadyFailed    = "already_failed"
	ReasonCancelled        = "cancelled"
	ReasonDeclined         = "declined"
	ReasonMissingPaymentID = "missing_payment_id"
	ReasonPaymentMismatch  = "payment_mismatch"
	ReasonExecuteError     = "execute_error"
	ReasonExecuteRejected  = "execute_rejected"
	ReasonInvalidAmount    = "invalid_amount"
	ReasonWriteFailed      = "write_failed"
	ReasonInternal         = "internal"
)

// CallbackParams are the query parameters the gateway appends when it sends
// the buyer back.
type CallbackParams struct {
	Reference string
	PaymentID string
	Status    string
}

// Outcome tells the HTTP layer where to redirect the buyer.
type Outcome struct {
	RedirectURL string
	Result      Result
	Reason      string
	// OrderID or SellerID is set when the payment was reconciled.
	OrderID  string
	SellerID string
}

// HandleCallback reconciles a gateway callback for a checkout. It never
// returns an error: every failure becomes a redirect back to checkout.
//
// A reference is processed by one caller at a time and yields at most one
// order. Once the gateway confirms a charge, creating the order, clearing the
// cart, decrementing stock and removing the pending record happen in one
// transaction.
func (s *Service) HandleCallback(ctx context.Context, p CallbackParams) Outcome {
	ref := strings.TrimSpace(p.Reference)
	paymentID := strings.TrimSpace(p.PaymentID)
	lg := zctx.From(ctx).With(zap.String("reference", ref), zap.String("payment_id", paymentID))
	ctx = zctx.Base(ctx, lg)

	reject := func(reason string) Outcome {
		s.countFailed(ctx, flowOrder, reason)
		return Outcome{RedirectURL: s.checkoutFailedURL(reason), Result: ResultRejected, Reason: reason}
	}
	fail := func(reason string, f payment.Failure) Outcome {
		f.Reason = reason
		markFailed(ctx, s.store.Payments().MarkFailed, ref, f)
		s.countFailed(ctx, flowOrder, reason)
		return Outcome{RedirectURL: s.checkoutFailedURL(reason), Result: ResultFailed, Reason: reason}
	}
	done := func(o *order.Order) Outcome {
		return Outcome{RedirectURL: s.confirmationURL(o.ID), Result: ResultDuplicate, OrderID: o.ID}
	}

	if ref == "" {
		lg.Warn("Callback without reference")
		return reject(ReasonMissingReference)
	}

	unlock, err := s.lock(ctx, flowOrder, ref)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			lg.Info("Callback already in progress")
			return reject(ReasonInProgress)
		}
		lg.Error("Acquire callback lock", zap.Error(err))
		return reject(ReasonInternal)
	}
	defer s.unlock(ctx, unlock)

	pending, err := s.store.Payments().FindByReference(ctx, ref)
	switch {
	case errors.Is(err, payment.ErrNotFound):
		// A consumed reference has no pending record but does have an order.
		if o, err := s.store.Orders().FindByReference(ctx, ref); err == nil {
			lg.Info("Callback replay for completed checkout", zap.String("order_id", o.ID))
			return done(o)
		}
		lg.Warn("Callback for unknown reference")
		return reject(ReasonUnknownReference)
	case err != nil:
		lg.Error("Find pending payment", zap.Error(err))
		return reject(ReasonInternal)
	}

	if pending.Status != payment.StatusPending {
		lg.Info("Callback for settled payment", zap.String("status", string(pending.Status)))
		return reject(ReasonAlreadyFailed)
	}

	switch {
	case p.Status != StatusSuccess:
		reason := ReasonDeclined
		if p.Status == "cancel" {
			reason = ReasonCancelled
		}
		return fail(reason, payment.Failure{PaymentID: paymentID})
	case paymentID == "":
		return fail(ReasonMissingPaymentID, payment.Failure{})
	case pending.PaymentID != "" && pending.PaymentID != paymentID:
		lg.Warn("Callback payment id does not match created payment", zap.String("expected", pending.PaymentID))
		return reject(ReasonPaymentMismatch)
	}

	// The gateway must not execute a payment that already produced an order.
	if o, err := s.store.Orders().FindByPaymentID(ctx, paymentID); err == nil {
		lg.Warn("Payment already reconciled", zap.String("order_id", o.ID))
		return done(o)
	} else if !errors.Is(err, order.ErrNotFound) {
		lg.Error("Find order by payment", zap.Error(err))
		return reject(ReasonInternal)
	}

	exec, err := s.gateway.ExecutePayment(ctx, paymentID)
	if err != nil {
		lg.Warn("Execute payment", zap.Error(err))
		return fail(ReasonExecuteError, payment.Failure{PaymentID: paymentID})
	}
	if !exec.OK() {
		lg.Warn("Gateway rejected execution",
			zap.String("status_code", exec.StatusCode),
			zap.String("status_message", exec.StatusMessage),
		)
		return fail(ReasonExecuteRejected, payment.Failure{PaymentID: paymentID, TransactionID: exec.TrxID})
	}

	confirmed := order.Confirmation{
		PaymentID:     paymentID,
		TransactionID: exec.TransactionID(),
		Amount:        exec.PaidAmount(),
	}
	o, err := order.NewFromPayment(pending, confirmed, s.now())
	if err != nil {
		lg.Warn("Executed payment has no usable amount", zap.String("amount", exec.Amount), zap.Error(err))
		return fail(ReasonInvalidAmount, payment.Failure{PaymentID: paymentID, TransactionID: confirmed.TransactionID})
	}

	if err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		return placeOrder(ctx, tx, o)
	}); err != nil {
		if errors.Is(err, order.ErrDuplicatePayment) {
			if existing, findErr := s.store.Orders().FindByPaymentID(ctx, paymentID); findErr == nil {
				lg.Warn("Order created concurrently", zap.String("order_id", existing.ID))
				return done(existing)
			}
		}
		// The buyer was charged but no order exists. The failed record keeps
		// the transaction id for manual reconciliation.
		lg.Error("Charged payment without order",
			zap.String("trx_id", confirmed.TransactionID),
			zap.String("amount", confirmed.Amount.StringFixed(2)),
			zap.Error(err),
		)
		return fail(ReasonWriteFailed, payment.Failure{PaymentID: paymentID, TransactionID: confirmed.TransactionID})
	}

	s.countCompleted(ctx, flowOrder)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("trx_id", o.TransactionID),
		zap.String("advance_paid", o.AdvancePaid.StringFixed(2)),
		zap.String("payment_status", string(o.PaymentStatus)),
	)
	return Outcome{RedirectURL: s.confirmationURL(o.ID), Result: ResultCompleted, OrderID: o.ID}
}

// placeOrder writes the reconciled order and its side effects. It must run
// inside a transaction.
func placeOrder(ctx context.Context, tx Store, o *order.Order) error {
	if err := tx.Orders().Create(ctx, o); err != nil {
		return errors.Wrap(err, "create order")
	}

	cleared, err := tx.Carts().ClearByEmail(ctx, o.Email)
	if err != nil {
		return errors.Wrap(err, "clear cart")
	}

	lg := zctx.From(ctx)
	for _, item := range o.Items {
		if err := tx.Products().DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, product.ErrNotFound) {
				lg.Warn("Ordered product no longer exists", zap.String("product_id", item.ProductID))
				continue
			}
			return errors.Wrapf(err, "decrement stock of %s", item.ProductID)
		}
	}

	if err := tx.Payments().Complete(ctx, o.Reference); err != nil {
		return errors.Wrap(err, "complete pending payment")
	}

	lg.Debug("Order side effects applied", zap.Int64("cart_rows_cleared", cleared))
	return nil
}
