package mongodb

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on the orders collection.
// Unique indexes on reference and paymentId reject a second order for the
// same checkout.
type OrderRepository struct {
	coll *mongo.Collection
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.coll.InsertOne(ctx, newOrderDoc(o)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return order.ErrDuplicatePayment
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"reference": reference})
}

func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"paymentId": paymentID})
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o := doc.order()
	return &o, nil
}

// ListByEmail returns the buyer's orders, newest first. Emails match
// case-insensitively.
func (r *OrderRepository) ListByEmail(ctx context.Context, email string) ([]order.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetCollation(emailCollation)
	cursor, err := r.coll.Find(ctx, bson.M{"email": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding orders: %w", err)
	}
	out := make([]order.Order, len(docs))
	for i := range docs {
		out[i] = docs[i].order()
	}
	return out, nil
}

// UpdateStatus performs a compare-and-set on the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to)}, "$currentDate": bson.M{"updatedAt": true}},
	)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("checking order %q: %w", id, err)
		}
		if n == 0 {
			return order.ErrNotFound
		}
		return order.ErrStaleStatus
	}
	return nil
}

func (r *OrderRepository) SetShipment(ctx context.Context, id string, s order.Shipment) error {
	return r.set(ctx, id, bson.M{
		"courierName": s.CourierName,
		"trackingId":  s.TrackingID,
		"shippedAt":   s.ShippedAt,
	})
}

func (r *OrderRepository) SetRefund(ctx context.Context, id string, rf order.Refund) error {
	return r.set(ctx, id, bson.M{
		"refundRequested":   rf.Requested,
		"refundReason":      rf.Reason,
		"refundRequestedAt": rf.RequestedAt,
	})
}

func (r *OrderRepository) set(ctx context.Context, id string, fields bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": fields, "$currentDate": bson.M{"updatedAt": true}})
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}
