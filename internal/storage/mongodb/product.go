package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository on the products
// collection, where stock is a string-encoded integer.
type ProductRepository struct {
	coll *mongo.Collection
}

func (r *ProductRepository) List(ctx context.Context, limit int) ([]product.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}
	out := make([]product.Product, len(docs))
	for i, d := range docs {
		out[i] = product.Product{
			ID:    d.ID,
			Title: d.Title,
			Price: fromDecimal128(d.Price),
			Stock: d.Stock,
			Image: d.Image,
		}
	}
	return out, nil
}

// DecrementStock lowers the stock with an update pipeline so the read and
// the write happen in one server-side step.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, decrementStockPipeline(qty))
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}

// decrementStockPipeline parses the stored stock, treating unparsable
// values as zero, subtracts qty and floors the result at zero.
func decrementStockPipeline(qty int) mongo.Pipeline {
	current := bson.M{"$convert": bson.M{
		"input":   bson.M{"$trim": bson.M{"input": "$stock"}},
		"to":      "long",
		"onError": 0,
		"onNull":  0,
	}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"stock": bson.M{"$toString": bson.M{
				"$max": bson.A{0, bson.M{"$subtract": bson.A{current, int64(qty)}}},
			}},
		}}},
	}
}

// Upsert replaces the product document, inserting it when missing.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	doc := productDoc{
		ID:    p.ID,
		Title: p.Title,
		Price: toDecimal128(p.Price),
		Stock: p.Stock,
		Image: p.Image,
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository on the carts collection.
type CartRepository struct {
	coll *mongo.Collection
}

func (r *CartRepository) ClearByEmail(ctx context.Context, email string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"email": email})
	if err != nil {
		return 0, fmt.Errorf("clearing cart: %w", err)
	}
	return res.DeletedCount, nil
}
