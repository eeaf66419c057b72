// Package mongodb implements the payment repositories on MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// Collection names.
const (
	PendingPayments      = "pendingpayments"
	PendingRegistrations = "pendingregisterpayments"
	Orders               = "orders"
	Carts                = "carts"
	Products             = "products"
	Sellers              = "sellers"
	Tokens               = "bkashtokens"
)

var (
	_ checkout.Store   = (*Store)(nil)
	_ bkash.TokenStore = (*TokenStore)(nil)
)

// Store groups the MongoDB repositories. Multi-document writes run inside
// InTx, which requires a replica set.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and selects the database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories rely on for
// uniqueness and sweeping. It is safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	byStatusAge := mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}}
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
	}

	indexes := map[string][]mongo.IndexModel{
		PendingPayments:      {byStatusAge},
		PendingRegistrations: {byStatusAge},
		Orders: {
			unique("reference"),
			unique("paymentId"),
			{
				Keys:    bson.D{{Key: "email", Value: 1}, {Key: "createdAt", Value: -1}},
				Options: options.Index().SetCollation(emailCollation),
			},
		},
		Carts:   {{Keys: bson.D{{Key: "email", Value: 1}}}},
		Sellers: {unique("email"), unique("paymentId"), unique("reference")},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Payments() payment.PendingRepository {
	return &PaymentRepository{coll: s.db.Collection(PendingPayments)}
}

func (s *Store) Registrations() payment.RegistrationRepository {
	return &RegistrationRepository{coll: s.db.Collection(PendingRegistrations)}
}

func (s *Store) Orders() order.Repository     { return &OrderRepository{coll: s.db.Collection(Orders)} }
func (s *Store) Carts() cart.Repository       { return &CartRepository{coll: s.db.Collection(Carts)} }
func (s *Store) Products() product.Repository { return &ProductRepository{coll: s.db.Collection(Products)} }
func (s *Store) Sellers() seller.Repository   { return &SellerRepository{coll: s.db.Collection(Sellers)} }

// Tokens returns the gateway token store.
func (s *Store) Tokens() *TokenStore { return &TokenStore{coll: s.db.Collection(Tokens)} }

// InTx runs fn in a multi-document transaction. The context passed to fn
// carries the session, so repositories obtained from tx join it. Calls
// made while a session is already active reuse that session.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, s)
	})
	return err
}

// transitionError explains why a conditional update on a pending document
// matched nothing.
func transitionError(ctx context.Context, coll *mongo.Collection, reference string) error {
	var doc struct {
		Status string `bson:"status"`
	}
	err := coll.FindOne(ctx, bson.M{"_id": reference}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return payment.ErrNotFound
	case err != nil:
		return fmt.Errorf("reading %s status: %w", coll.Name(), err)
	default:
		return errors.Wrapf(payment.ErrIllegalTransition, "%s is %s", reference, doc.Status)
	}
}
