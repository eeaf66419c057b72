package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

var _ seller.Repository = (*SellerRepository)(nil)

// SellerRepository implements seller.Repository on the sellers collection.
// Emails are stored lower-cased.
type SellerRepository struct {
	coll *mongo.Collection
}

func (r *SellerRepository) Create(ctx context.Context, s *seller.Seller) error {
	doc := sellerDoc{
		ID:              s.ID,
		Email:           strings.ToLower(strings.TrimSpace(s.Application.Email)),
		Application:     applicationDoc(s.Application),
		RegistrationFee: toDecimal128(s.RegistrationFee),
		TransactionID:   s.TransactionID,
		PaymentID:       s.PaymentID,
		Reference:       s.Reference,
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return seller.ErrAlreadyRegistered
		}
		return fmt.Errorf("creating seller %q: %w", s.ID, err)
	}
	return nil
}

func (r *SellerRepository) FindByEmail(ctx context.Context, email string) (*seller.Seller, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (r *SellerRepository) FindByReference(ctx context.Context, reference string) (*seller.Seller, error) {
	return r.findOne(ctx, bson.M{"reference": reference})
}

func (r *SellerRepository) findOne(ctx context.Context, filter bson.M) (*seller.Seller, error) {
	var doc sellerDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, seller.ErrNotFound
		}
		return nil, fmt.Errorf("getting seller: %w", err)
	}
	return doc.seller(), nil
}

const tokenID = "bkash"

// TokenStore implements bkash.TokenStore with a single document.
type TokenStore struct {
	coll *mongo.Collection
}

func (r *TokenStore) Load(ctx context.Context) (*bkash.Token, error) {
	var doc tokenDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bkash.ErrNoToken
		}
		return nil, fmt.Errorf("loading gateway token: %w", err)
	}
	return &bkash.Token{
		IDToken:      doc.IDToken,
		RefreshToken: doc.RefreshToken,
		ExpiresIn:    time.Duration(doc.ExpiresIn) * time.Second,
		ObtainedAt:   doc.ObtainedAt,
	}, nil
}

func (r *TokenStore) Save(ctx context.Context, t bkash.Token) error {
	doc := tokenDoc{
		ID:           tokenID,
		IDToken:      t.IDToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    int64(t.ExpiresIn / time.Second),
		ObtainedAt:   t.ObtainedAt,
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": tokenID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving gateway token: %w", err)
	}
	return nil
}
