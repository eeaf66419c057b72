package main

import (
	"context"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront-pay/internal/app"
	"github.com/xenking/storefront-pay/internal/domain/product"
)

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog products from a JSON array",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, "open products file")
			}
			defer func() { _ = f.Close() }()

			products, err := decodeProducts(f)
			if err != nil {
				return errors.Wrap(err, "decode products")
			}
			return withBackend(cmd.Context(), func(ctx context.Context, _ *appkg.Config, b *appkg.Backend) error {
				return seedProducts(ctx, b.Products(), products)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "db/seed/products.json", "Products JSON file")
	return cmd
}

func seedProducts(ctx context.Context, repo product.Repository, products []product.Product) error {
	lg := zctx.From(ctx)
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("stock", p.Stock))
	}
	lg.Info("Seeded products", zap.Int("count", len(products)))
	return nil
}

// decodeProducts reads [{"id","title","price","stock","image"}]. Price may be
// a JSON number or string; stock may be either and is kept as a string.
func decodeProducts(r io.Reader) ([]product.Product, error) {
	d := jx.Decode(r, 4096)

	var out []product.Product
	err := d.Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				return decodeString(d, &p.ID)
			case "title":
				return decodeString(d, &p.Title)
			case "image":
				return decodeString(d, &p.Image)
			case "stock":
				return decodeString(d, &p.Stock)
			case "price":
				var s string
				if err := decodeString(d, &s); err != nil {
					return err
				}
				price, err := decimal.NewFromString(s)
				if err != nil {
					return errors.Wrap(err, "price")
				}
				p.Price = price
				return nil
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("product without id")
		}
		if p.Stock == "" {
			p.Stock = "0"
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeString accepts a JSON string or number.
func decodeString(d *jx.Decoder, v *string) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		*v = s
		return err
	case jx.Number:
		n, err := d.Num()
		*v = n.String()
		return err
	default:
		return errors.Errorf("unexpected %s", d.Next())
	}
}
