package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/payment"
)

// ErrGateway marks errors caused by the payment gateway refusing or failing
// to create a payment.
var ErrGateway = errors.New("payment gateway unavailable")

// GatewayError wraps a failed gateway payment creation. It matches
// ErrGateway.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return "create gateway payment: " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is reports whether target is ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// Request is a checkout submission.
type Request struct {
	// Reference correlates the checkout with its callback. A new one is
	// generated when empty.
	Reference string
	Customer  payment.Customer
	Items     []payment.CartItem
	Note      string
	Shipping  decimal.Decimal
	Subtotal  decimal.Decimal
	Total     decimal.Decimal
	Method    string
	UserEmail string
}

// InitiateResult tells the caller where to send the buyer.
type InitiateResult struct {
	Reference   string
	PaymentID   string
	RedirectURL string
	Amount      decimal.Decimal
}

// Initiate persists a pending payment for req and creates the matching
// gateway payment. When the gateway fails the pending record stays pending
// until the sweeper expires it.
func (s *Service) Initiate(ctx context.Context, req Request) (*InitiateResult, error) {
	method, err := payment.ParseMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if err != nil {
		return nil, &payment.ValidationError{Field: "paymentMethod", Reason: err.Error()}
	}

	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		ref = payment.NewReference("user")
	}

	now := s.now()
	p := &payment.Pending{
		Reference: ref,
		Customer:  req.Customer,
		Items:     req.Items,
		Note:      req.Note,
		Shipping:  req.Shipping,
		Subtotal:  req.Subtotal,
		Total:     req.Total,
		Method:    method,
		UserEmail: strings.TrimSpace(req.UserEmail),
		Status:    payment.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	amount, err := payment.ChargeAmount(method, p.Total, s.cfg.CODAdvance)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("reference", ref), zap.String("method", string(method)))

	if err := s.store.Payments().Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create pending payment")
	}

	created, err := s.gateway.CreatePayment(ctx, bkash.CreateRequest{
		Amount:                amount,
		CallbackURL:           s.callbackURL(CheckoutCallbackPath, ref),
		PayerReference:        payerReference(p.Customer.Phone, p.UserEmail),
		MerchantInvoiceNumber: ref,
	})
	if err != nil {
		lg.Warn("Gateway payment creation failed", zap.Error(err))
		s.countFailed(ctx, flowOrder, "initiate")
		return nil, &GatewayError{Err: err}
	}

	if err := s.store.Payments().SetPaymentID(ctx, ref, created.PaymentID); err != nil {
		// The callback still carries the payment id, so this is not fatal.
		lg.Warn("Record gateway payment id", zap.Error(err))
	}

	s.countInitiated(ctx, flowOrder)
	lg.Info("Checkout initiated",
		zap.String("payment_id", created.PaymentID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &InitiateResult{
		Reference:   ref,
		PaymentID:   created.PaymentID,
		RedirectURL: created.BkashURL,
		Amount:      amount,
	}, nil
}

func payerReference(phone, email string) string {
	if phone = strings.TrimSpace(phone); phone != "" {
		return phone
	}
	return email
}
