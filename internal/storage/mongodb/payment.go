package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/domain/payment"
)

var _ payment.PendingRepository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.PendingRepository on the
// pendingpayments collection. The reference is the document ID.
type PaymentRepository struct {
	coll *mongo.Collection
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Pending) error {
	if _, err := r.coll.InsertOne(ctx, newPendingDoc(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return payment.ErrDuplicateReference
		}
		return fmt.Errorf("creating pending payment %q: %w", p.Reference, err)
	}
	return nil
}

func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*payment.Pending, error) {
	var doc pendingDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": reference}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting pending payment %q: %w", reference, err)
	}
	return doc.pending(), nil
}

func (r *PaymentRepository) SetPaymentID(ctx context.Context, reference, paymentID string) error {
	return setPaymentID(ctx, r.coll, reference, paymentID)
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, reference string, f payment.Failure) error {
	return markFailed(ctx, r.coll, reference, f)
}

func (r *PaymentRepository) Complete(ctx context.Context, reference string) error {
	return complete(ctx, r.coll, reference)
}

func (r *PaymentRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]payment.Pending, error) {
	filter := bson.M{"status": string(payment.StatusPending), "createdAt": bson.M{"$lt": olderThan}}
	return r.list(ctx, filter, limit)
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status payment.Status, limit int) ([]payment.Pending, error) {
	return r.list(ctx, bson.M{"status": string(status)}, limit)
}

func (r *PaymentRepository) list(ctx context.Context, filter bson.M, limit int) ([]payment.Pending, error) {
	var docs []pendingDoc
	if err := findSorted(ctx, r.coll, filter, limit, &docs); err != nil {
		return nil, fmt.Errorf("listing pending payments: %w", err)
	}
	out := make([]payment.Pending, len(docs))
	for i := range docs {
		out[i] = *docs[i].pending()
	}
	return out, nil
}

var _ payment.RegistrationRepository = (*RegistrationRepository)(nil)

// RegistrationRepository implements payment.RegistrationRepository on the
// pendingregisterpayments collection.
type RegistrationRepository struct {
	coll *mongo.Collection
}

func (r *RegistrationRepository) Create(ctx context.Context, p *payment.PendingRegistration) error {
	if _, err := r.coll.InsertOne(ctx, newRegistrationDoc(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return payment.ErrDuplicateReference
		}
		return fmt.Errorf("creating pending registration %q: %w", p.Reference, err)
	}
	return nil
}

func (r *RegistrationRepository) FindByReference(ctx context.Context, reference string) (*payment.PendingRegistration, error) {
	var doc registrationDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": reference}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting pending registration %q: %w", reference, err)
	}
	return doc.registration(), nil
}

func (r *RegistrationRepository) SetPaymentID(ctx context.Context, reference, paymentID string) error {
	return setPaymentID(ctx, r.coll, reference, paymentID)
}

func (r *RegistrationRepository) MarkFailed(ctx context.Context, reference string, f payment.Failure) error {
	return markFailed(ctx, r.coll, reference, f)
}

func (r *RegistrationRepository) Complete(ctx context.Context, reference string) error {
	return complete(ctx, r.coll, reference)
}

func (r *RegistrationRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]payment.PendingRegistration, error) {
	filter := bson.M{"status": string(payment.StatusPending), "createdAt": bson.M{"$lt": olderThan}}
	return r.list(ctx, filter, limit)
}

func (r *RegistrationRepository) ListByStatus(ctx context.Context, status payment.Status, limit int) ([]payment.PendingRegistration, error) {
	return r.list(ctx, bson.M{"status": string(status)}, limit)
}

func (r *RegistrationRepository) list(ctx context.Context, filter bson.M, limit int) ([]payment.PendingRegistration, error) {
	var docs []registrationDoc
	if err := findSorted(ctx, r.coll, filter, limit, &docs); err != nil {
		return nil, fmt.Errorf("listing pending registrations: %w", err)
	}
	out := make([]payment.PendingRegistration, len(docs))
	for i := range docs {
		out[i] = *docs[i].registration()
	}
	return out, nil
}

// pendingFilter matches a document only while it is still pending, so
// concurrent transitions cannot both succeed.
func pendingFilter(reference string) bson.M {
	return bson.M{"_id": reference, "status": string(payment.StatusPending)}
}

func setPaymentID(ctx context.Context, coll *mongo.Collection, reference, paymentID string) error {
	res, err := coll.UpdateOne(ctx, pendingFilter(reference), bson.M{
		"$set":         bson.M{"paymentID": paymentID},
		"$currentDate": bson.M{"updatedAt": true},
	})
	if err != nil {
		return fmt.Errorf("setting payment id of %q: %w", reference, err)
	}
	if res.MatchedCount == 0 {
		return transitionError(ctx, coll, reference)
	}
	return nil
}

func markFailed(ctx context.Context, coll *mongo.Collection, reference string, f payment.Failure) error {
	set := bson.M{
		"status":        string(payment.StatusFailed),
		"failureReason": f.Reason,
	}
	if f.PaymentID != "" {
		set["paymentID"] = f.PaymentID
	}
	if f.TransactionID != "" {
		set["trxID"] = f.TransactionID
	}
	res, err := coll.UpdateOne(ctx, pendingFilter(reference), bson.M{
		"$set":         set,
		"$currentDate": bson.M{"updatedAt": true},
	})
	if err != nil {
		return fmt.Errorf("failing %q: %w", reference, err)
	}
	if res.MatchedCount == 0 {
		return transitionError(ctx, coll, reference)
	}
	return nil
}

func complete(ctx context.Context, coll *mongo.Collection, reference string) error {
	res, err := coll.DeleteOne(ctx, pendingFilter(reference))
	if err != nil {
		return fmt.Errorf("completing %q: %w", reference, err)
	}
	if res.DeletedCount == 0 {
		return transitionError(ctx, coll, reference)
	}
	return nil
}

// findSorted decodes up to limit documents matching filter, oldest first.
func findSorted(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int, out any) error {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limit))
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}
