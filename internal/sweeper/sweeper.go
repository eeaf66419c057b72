// Package sweeper expires pending payments whose buyers never came back from
// the gateway.
package sweeper

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/payment"
)

// ReasonExpired is the failure reason recorded on swept records.
const ReasonExpired = "expired"

// Config configures the sweep.
type Config struct {
	// Interval between sweeps in Run.
	Interval time.Duration
	// TTL is the age after which a pending record is expired.
	TTL time.Duration
	// BatchSize caps the records fetched per query.
	BatchSize int
	// LockTTL bounds the per-reference lock held while expiring a record.
	LockTTL time.Duration
}

// Result counts the records expired by one sweep. Busy counts records left
// alone because a callback held their lock.
type Result struct {
	Payments      int
	Registrations int
	Busy          int
}

// Sweeper marks stale pending records failed. It never deletes them.
type Sweeper struct {
	payments      payment.PendingRepository
	registrations payment.RegistrationRepository
	locker        checkout.Locker
	cfg           Config
	now           func() time.Time
}

// New creates a Sweeper. A nil registrations repository skips registrations.
// Records are expired under the same per-reference lock the callbacks take,
// so locker must be the one the checkout service uses.
func New(
	payments payment.PendingRepository,
	registrations payment.RegistrationRepository,
	locker checkout.Locker,
	cfg Config,
) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if locker == nil {
		locker = checkout.NewMemoryLocker()
	}
	return &Sweeper{
		payments:      payments,
		registrations: registrations,
		locker:        locker,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled. Sweep errors are logged
// and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("ttl", s.cfg.TTL),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				lg.Error("Sweep failed", zap.Error(err))
				continue
			}
			if res.Payments+res.Registrations+res.Busy > 0 {
				lg.Info("Expired pending payments",
					zap.Int("payments", res.Payments),
					zap.Int("registrations", res.Registrations),
					zap.Int("busy", res.Busy),
				)
			}
		}
	}
}

// Sweep expires every pending record older than TTL.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.cfg.TTL)

	var res Result
	n, busy, err := s.sweep(ctx, cutoff, checkout.OrderLockKey,
		func(ctx context.Context) ([]string, error) {
			stale, err := s.payments.ListStale(ctx, cutoff, s.cfg.BatchSize)
			refs := make([]string, len(stale))
			for i, p := range stale {
				refs[i] = p.Reference
			}
			return refs, err
		},
		s.payments.MarkFailed,
	)
	res.Payments, res.Busy = n, busy
	if err != nil {
		return res, errors.Wrap(err, "sweep payments")
	}

	if s.registrations == nil {
		return res, nil
	}
	n, busy, err = s.sweep(ctx, cutoff, checkout.RegistrationLockKey,
		func(ctx context.Context) ([]string, error) {
			stale, err := s.registrations.ListStale(ctx, cutoff, s.cfg.BatchSize)
			refs := make([]string, len(stale))
			for i, p := range stale {
				refs[i] = p.Reference
			}
			return refs, err
		},
		s.registrations.MarkFailed,
	)
	res.Registrations = n
	res.Busy += busy
	if err != nil {
		return res, errors.Wrap(err, "sweep registrations")
	}
	return res, nil
}

func (s *Sweeper) sweep(
	ctx context.Context,
	cutoff time.Time,
	key func(reference string) string,
	list func(context.Context) ([]string, error),
	mark func(context.Context, string, payment.Failure) error,
) (int, int, error) {
	total := 0
	lg := zctx.From(ctx)
	// Busy records stay pending and are listed again on every page.
	skipped := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return total, len(skipped), err
		}
		refs, err := list(ctx)
		if err != nil {
			return total, len(skipped), errors.Wrap(err, "list stale")
		}

		marked := 0
		for _, ref := range refs {
			ok, err := s.expire(ctx, key(ref), ref, mark)
			switch {
			case errors.Is(err, checkout.ErrLocked):
				skipped[ref] = struct{}{}
				lg.Debug("Pending payment is being settled, skipping", zap.String("reference", ref))
			case err != nil:
				return total + marked, len(skipped), errors.Wrapf(err, "expire %s", ref)
			case ok:
				marked++
				lg.Debug("Expired pending payment", zap.String("reference", ref), zap.Time("cutoff", cutoff))
			}
		}
		total += marked

		// A short page means nothing is left; a page without progress would
		// loop forever.
		if len(refs) < s.cfg.BatchSize || marked == 0 {
			return total, len(skipped), nil
		}
	}
}

// expire marks ref failed while holding its callback lock. It reports false
// when a callback settled the record first.
func (s *Sweeper) expire(
	ctx context.Context,
	key, ref string,
	mark func(context.Context, string, payment.Failure) error,
) (bool, error) {
	unlock, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Warn("Release sweep lock", zap.String("reference", ref), zap.Error(err))
		}
	}()

	err = mark(ctx, ref, payment.Failure{Reason: ReasonExpired})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, payment.ErrIllegalTransition), errors.Is(err, payment.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
