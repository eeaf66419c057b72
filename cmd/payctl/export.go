package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront-pay/internal/app"
	"github.com/xenking/storefront-pay/internal/domain/payment"
)

func exportCmd() *cobra.Command {
	var (
		status string
		out    string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write pending payments with a status as gzipped JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := payment.Status(status)
			switch st {
			case payment.StatusPending, payment.StatusFailed, payment.StatusCompleted:
			default:
				return errors.Errorf("unknown status %q", status)
			}

			return withBackend(cmd.Context(), func(ctx context.Context, _ *appkg.Config, b *appkg.Backend) error {
				payments, err := b.Payments().ListByStatus(ctx, st, limit)
				if err != nil {
					return errors.Wrap(err, "list payments")
				}
				registrations, err := b.Registrations().ListByStatus(ctx, st, limit)
				if err != nil {
					return errors.Wrap(err, "list registrations")
				}

				f, err := os.Create(out)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				if err := writeExport(f, payments, registrations); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return errors.Wrap(err, "close output")
				}

				zctx.From(ctx).Info("Exported",
					zap.String("file", out),
					zap.Int("payments", len(payments)),
					zap.Int("registrations", len(registrations)),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(payment.StatusFailed), "Status to export: pending, failed or completed")
	cmd.Flags().StringVarP(&out, "out", "o", "pending.jsonl.gz", "Output file")
	cmd.Flags().IntVar(&limit, "limit", 10000, "Maximum records per kind")
	return cmd
}

// writeExport writes one JSON object per line, compressed with parallel
// gzip. Each line carries a "kind" of "checkout" or "registration".
func writeExport(w io.Writer, payments []payment.Pending, registrations []payment.PendingRegistration) error {
	zw := pgzip.NewWriter(w)

	var e jx.Encoder
	line := func() error {
		defer e.Reset()
		if _, err := zw.Write(e.Bytes()); err != nil {
			return err
		}
		_, err := zw.Write([]byte{'\n'})
		return err
	}

	for _, p := range payments {
		e.Obj(func(e *jx.Encoder) {
			e.Field("kind", func(e *jx.Encoder) { e.Str("checkout") })
			encodeCommon(e, p.Reference, p.Status, p.PaymentID, p.TransactionID, p.FailureReason, p.CreatedAt, p.UpdatedAt)
			e.Field("email", func(e *jx.Encoder) { e.Str(p.Customer.Email) })
			e.Field("method", func(e *jx.Encoder) { e.Str(string(p.Method)) })
			e.Field("total", func(e *jx.Encoder) { e.Str(p.Total.StringFixed(2)) })
			e.Field("items", func(e *jx.Encoder) { e.Int(len(p.Items)) })
		})
		if err := line(); err != nil {
			return errors.Wrap(err, "write payment")
		}
	}
	for _, r := range registrations {
		e.Obj(func(e *jx.Encoder) {
			e.Field("kind", func(e *jx.Encoder) { e.Str("registration") })
			encodeCommon(e, r.Reference, r.Status, r.PaymentID, r.TransactionID, r.FailureReason, r.CreatedAt, r.UpdatedAt)
			e.Field("email", func(e *jx.Encoder) { e.Str(r.Applicant.Email) })
			e.Field("shopName", func(e *jx.Encoder) { e.Str(r.Applicant.ShopName) })
			e.Field("fee", func(e *jx.Encoder) { e.Str(r.Fee.StringFixed(2)) })
		})
		if err := line(); err != nil {
			return errors.Wrap(err, "write registration")
		}
	}

	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close gzip")
	}
	return nil
}

func encodeCommon(e *jx.Encoder, reference string, status payment.Status, paymentID, trxID, reason string, created, updated time.Time) {
	e.Field("reference", func(e *jx.Encoder) { e.Str(reference) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(status)) })
	if paymentID != "" {
		e.Field("paymentID", func(e *jx.Encoder) { e.Str(paymentID) })
	}
	if trxID != "" {
		e.Field("trxID", func(e *jx.Encoder) { e.Str(trxID) })
	}
	if reason != "" {
		e.Field("failureReason", func(e *jx.Encoder) { e.Str(reason) })
	}
	e.Field("createdAt", func(e *jx.Encoder) { e.Str(created.UTC().Format(time.RFC3339)) })
	e.Field("updatedAt", func(e *jx.Encoder) { e.Str(updated.UTC().Format(time.RFC3339)) })
}
