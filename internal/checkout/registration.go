package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// RegistrationRequest is a seller application awaiting its fee payment.
type RegistrationRequest struct {
	// Reference is generated when empty.
	Reference   string
	Application seller.Application
}

// InitiateRegistration records the application as a pending registration and
// creates a gateway payment for the registration fee.
func (s *Service) InitiateRegistration(ctx context.Context, req RegistrationRequest) (*InitiateResult, error) {
	app := req.Application
	app.Email = strings.TrimSpace(app.Email)
	if err := app.Validate(); err != nil {
		return nil, &payment.ValidationError{Field: "application", Reason: err.Error()}
	}

	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		ref = payment.NewReference("seller")
	}
	if err := payment.ValidateReference(ref); err != nil {
		return nil, &payment.ValidationError{Field: "reference", Reason: err.Error()}
	}
	if !s.cfg.RegistrationFee.IsPositive() {
		return nil, errors.New("registration fee is not configured")
	}

	switch _, err := s.store.Sellers().FindByEmail(ctx, app.Email); {
	case err == nil:
		return nil, seller.ErrAlreadyRegistered
	case !errors.Is(err, seller.ErrNotFound):
		return nil, errors.Wrap(err, "find seller")
	}

	now := s.now()
	p := &payment.PendingRegistration{
		Reference: ref,
		Applicant: app,
		Fee:       s.cfg.RegistrationFee.Round(2),
		Status:    payment.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Registrations().Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create pending registration")
	}

	lg := zctx.From(ctx).With(zap.String("reference", ref))

	created, err := s.gateway.CreatePayment(ctx, bkash.CreateRequest{
		Amount:                p.Fee,
		CallbackURL:           s.callbackURL(RegistrationCallbackPath, ref),
		PayerReference:        payerReference(app.Phone, app.Email),
		MerchantInvoiceNumber: ref,
	})
	if err != nil {
		lg.Warn("Gateway registration payment creation failed", zap.Error(err))
		s.countFailed(ctx, flowRegistration, "initiate")
		return nil, &GatewayError{Err: err}
	}
	if err := s.store.Registrations().SetPaymentID(ctx, ref, created.PaymentID); err != nil {
		lg.Warn("Record gateway payment id", zap.Error(err))
	}

	s.countInitiated(ctx, flowRegistration)
	lg.Info("Seller registration initiated", zap.String("payment_id", created.PaymentID))

	return &InitiateResult{
		Reference:   ref,
		PaymentID:   created.PaymentID,
		RedirectURL: created.BkashURL,
		Amount:      p.Fee,
	}, nil
}

// HandleRegistrationCallback reconciles a gateway callback for a seller
// registration fee. Like HandleCallback it always yields a redirect.
func (s *Service) HandleRegistrationCallback(ctx context.Context, p CallbackParams) Outcome {
	ref := strings.TrimSpace(p.Reference)
	paymentID := strings.TrimSpace(p.PaymentID)
	lg := zctx.From(ctx).With(zap.String("reference", ref), zap.String("payment_id", paymentID))
	ctx = zctx.Base(ctx, lg)

	reject := func(reason string) Outcome {
		s.countFailed(ctx, flowRegistration, reason)
		return Outcome{RedirectURL: s.registrationFailedURL(reason), Result: ResultRejected, Reason: reason}
	}
	fail := func(reason string, f payment.Failure) Outcome {
		f.Reason = reason
		markFailed(ctx, s.store.Registrations().MarkFailed, ref, f)
		s.countFailed(ctx, flowRegistration, reason)
		return Outcome{RedirectURL: s.registrationFailedURL(reason), Result: ResultFailed, Reason: reason}
	}
	done := func(sl *seller.Seller) Outcome {
		return Outcome{RedirectURL: s.registrationSuccessURL(), Result: ResultDuplicate, SellerID: sl.ID}
	}

	if ref == "" {
		return reject(ReasonMissingReference)
	}

	unlock, err := s.lock(ctx, flowRegistration, ref)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return reject(ReasonInProgress)
		}
		lg.Error("Acquire callback lock", zap.Error(err))
		return reject(ReasonInternal)
	}
	defer s.unlock(ctx, unlock)

	pending, err := s.store.Registrations().FindByReference(ctx, ref)
	switch {
	case errors.Is(err, payment.ErrNotFound):
		if sl, err := s.store.Sellers().FindByReference(ctx, ref); err == nil {
			return done(sl)
		}
		lg.Warn("Registration callback for unknown reference")
		return reject(ReasonUnknownReference)
	case err != nil:
		lg.Error("Find pending registration", zap.Error(err))
		return reject(ReasonInternal)
	}

	if pending.Status != payment.StatusPending {
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

	exec, err := s.gateway.ExecutePayment(ctx, paymentID)
	if err != nil {
		lg.Warn("Execute registration payment", zap.Error(err))
		return fail(ReasonExecuteError, payment.Failure{PaymentID: paymentID})
	}
	if !exec.OK() {
		lg.Warn("Gateway rejected registration execution", zap.String("status_code", exec.StatusCode))
		return fail(ReasonExecuteRejected, payment.Failure{PaymentID: paymentID, TransactionID: exec.TrxID})
	}
	paid := exec.PaidAmount()
	if !paid.IsPositive() {
		return fail(ReasonInvalidAmount, payment.Failure{PaymentID: paymentID, TransactionID: exec.TransactionID()})
	}

	sl := &seller.Seller{
		ID:              uuid.NewString(),
		Application:     pending.Applicant,
		RegistrationFee: paid.Round(2),
		TransactionID:   exec.TransactionID(),
		PaymentID:       paymentID,
		Reference:       ref,
		Status:          seller.StatusPendingReview,
		CreatedAt:       s.now(),
	}

	if err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Sellers().Create(ctx, sl); err != nil {
			return errors.Wrap(err, "create seller")
		}
		if err := tx.Registrations().Complete(ctx, ref); err != nil {
			return errors.Wrap(err, "complete pending registration")
		}
		return nil
	}); err != nil {
		lg.Error("Charged registration without seller",
			zap.String("trx_id", sl.TransactionID),
			zap.String("email", sl.Application.Email),
			zap.Error(err),
		)
		return fail(ReasonWriteFailed, payment.Failure{PaymentID: paymentID, TransactionID: sl.TransactionID})
	}

	s.countCompleted(ctx, flowRegistration)
	lg.Info("Seller registered", zap.String("seller_id", sl.ID), zap.String("trx_id", sl.TransactionID))
	return Outcome{RedirectURL: s.registrationSuccessURL(), Result: ResultCompleted, SellerID: sl.ID}
}
