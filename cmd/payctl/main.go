// Command payctl runs maintenance tasks against the payment store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront-pay/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Maintenance tasks for the payment store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(seedCmd(), sweepCmd(), exportCmd())

	if err := root.ExecuteContext(zctx.Base(ctx, lg)); err != nil {
		lg.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

// withBackend opens the configured store for the duration of fn.
func withBackend(ctx context.Context, fn func(ctx context.Context, cfg *appkg.Config, b *appkg.Backend) error) error {
	cfg, err := appkg.LoadConfig()
	if err != nil {
		return err
	}
	b, err := appkg.OpenStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer b.Close(context.Background())
	return fn(ctx, cfg, b)
}
