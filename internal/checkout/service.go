// Package checkout orchestrates gateway payments: it records pending
// payments, sends buyers to the gateway and reconciles the gateway callback
// into orders and seller accounts.
package checkout

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/domain/payment"
)

// Callback paths served by the HTTP layer. The gateway redirects the buyer's
// browser to these with paymentID, status and reference query parameters.
const (
	CheckoutCallbackPath     = "/api/checkout/bkash/callback"
	RegistrationCallbackPath = "/api/seller/register/bkash/callback"
)

// StatusSuccess is the callback status value that allows execution.
const StatusSuccess = "success"

// Config holds the business settings of the payment saga.
type Config struct {
	// SiteURL is the storefront base URL used for buyer redirects.
	SiteURL string
	// PublicURL is the externally reachable base URL of this service. The
	// gateway callback URLs are built from it. Empty means SiteURL.
	PublicURL       string
	CODAdvance      decimal.Decimal
	RegistrationFee decimal.Decimal
	LockTTL         time.Duration
}

// Options configure optional Service dependencies.
type Options struct {
	MeterProvider metric.MeterProvider
	Now           func() time.Time
}

// Service runs the checkout and seller registration payment flows.
type Service struct {
	cfg     Config
	store   Store
	gateway Gateway
	locker  Locker
	now     func() time.Time

	initiated metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
}

// NewService creates a Service.
func NewService(cfg Config, store Store, gateway Gateway, locker Locker, opts Options) (*Service, error) {
	if !cfg.CODAdvance.IsPositive() {
		return nil, errors.Errorf("COD advance must be positive, got %s", cfg.CODAdvance)
	}
	if !cfg.RegistrationFee.IsPositive() {
		return nil, errors.Errorf("registration fee must be positive, got %s", cfg.RegistrationFee)
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = cfg.SiteURL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		locker:  locker,
		now:     opts.Now,
	}
	if opts.MeterProvider != nil {
		if err := s.initMetrics(opts.MeterProvider.Meter("checkout")); err != nil {
			return nil, errors.Wrap(err, "init metrics")
		}
	}
	return s, nil
}

func (s *Service) initMetrics(meter metric.Meter) (err error) {
	if s.initiated, err = meter.Int64Counter("checkout.initiated",
		metric.WithDescription("Gateway payments created"),
	); err != nil {
		return err
	}
	if s.completed, err = meter.Int64Counter("checkout.completed",
		metric.WithDescription("Gateway payments reconciled into orders or sellers"),
	); err != nil {
		return err
	}
	if s.failed, err = meter.Int64Counter("checkout.failed",
		metric.WithDescription("Payment flows that ended without an order or seller"),
	); err != nil {
		return err
	}
	return nil
}

type flow string

const (
	flowOrder        flow = "order"
	flowRegistration flow = "registration"
)

func (s *Service) countInitiated(ctx context.Context, f flow) {
	if s.initiated != nil {
		s.initiated.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(f))))
	}
}

func (s *Service) countCompleted(ctx context.Context, f flow) {
	if s.completed != nil {
		s.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(f))))
	}
}

func (s *Service) countFailed(ctx context.Context, f flow, reason string) {
	if s.failed != nil {
		s.failed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("flow", string(f)),
			attribute.String("reason", reason),
		))
	}
}

func (s *Service) callbackURL(path, reference string) string {
	q := url.Values{"reference": {reference}}
	return strings.TrimRight(s.cfg.PublicURL, "/") + path + "?" + q.Encode()
}

func (s *Service) site(path string) string {
	return strings.TrimRight(s.cfg.SiteURL, "/") + path
}

func (s *Service) checkoutFailedURL(reason string) string {
	q := url.Values{"payment": {"failed"}}
	if reason != "" {
		q.Set("reason", reason)
	}
	return s.site("/checkout?" + q.Encode())
}

func (s *Service) confirmationURL(orderID string) string {
	return s.site("/order-confirmation/" + url.PathEscape(orderID))
}

func (s *Service) registrationFailedURL(reason string) string {
	q := url.Values{"payment": {"failed"}}
	if reason != "" {
		q.Set("reason", reason)
	}
	return s.site("/seller/register?" + q.Encode())
}

func (s *Service) registrationSuccessURL() string {
	return s.site("/seller/register/success")
}

// lock takes the per-reference callback lock.
func (s *Service) lock(ctx context.Context, f flow, reference string) (UnlockFunc, error) {
	return s.locker.TryLock(ctx, lockKey(f, reference), s.cfg.LockTTL)
}

func lockKey(f flow, reference string) string {
	return "payment:" + string(f) + ":" + reference
}

// OrderLockKey is the Locker key held while a checkout callback settles
// reference. Anything else that changes the pending record must hold it too.
func OrderLockKey(reference string) string { return lockKey(flowOrder, reference) }

// RegistrationLockKey is OrderLockKey for seller registrations.
func RegistrationLockKey(reference string) string { return lockKey(flowRegistration, reference) }

func (s *Service) unlock(ctx context.Context, unlock UnlockFunc) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		zctx.From(ctx).Warn("Release callback lock", zap.Error(err))
	}
}

// markFailed records a failure on a pending record. Failures to record are
// logged; the buyer is redirected either way.
func markFailed(ctx context.Context, mark func(context.Context, string, payment.Failure) error, reference string, f payment.Failure) {
	lg := zctx.From(ctx)
	err := mark(ctx, reference, f)
	switch {
	case err == nil:
		lg.Info("Payment marked failed",
			zap.String("reference", reference),
			zap.String("reason", f.Reason),
			zap.String("payment_id", f.PaymentID),
		)
	case errors.Is(err, payment.ErrIllegalTransition):
		lg.Warn("Payment already settled", zap.String("reference", reference), zap.Error(err))
	default:
		lg.Error("Mark payment failed", zap.String("reference", reference), zap.Error(err))
	}
}
