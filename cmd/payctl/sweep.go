package main

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront-pay/internal/app"
	"github.com/xenking/storefront-pay/internal/sweeper"
)

func sweepCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire abandoned pending payments once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, cfg *appkg.Config, b *appkg.Backend) error {
				sc := cfg.SweeperSettings()
				if ttl > 0 {
					sc.TTL = ttl
				}
				locks := appkg.OpenLocks(ctx, cfg)
				defer func() { _ = locks.Close() }()

				res, err := sweeper.New(b.Payments(), b.Registrations(), locks, sc).Sweep(ctx)
				zctx.From(ctx).Info("Sweep finished",
					zap.Int("payments", res.Payments),
					zap.Int("registrations", res.Registrations),
					zap.Int("busy", res.Busy),
				)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override the configured pending payment TTL")
	return cmd
}
