package mongodb

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// emailCollation compares emails case-insensitively.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

// Money is stored as Decimal128 so documents stay exact and sortable.

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// decimal.String never produces input ParseDecimal128 rejects for
		// amounts within Decimal128 range.
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type customerDoc struct {
	Name     string `bson:"name"`
	Email    string `bson:"email"`
	Phone    string `bson:"phone"`
	Address  string `bson:"address"`
	City     string `bson:"city,omitempty"`
	District string `bson:"district,omitempty"`
	Area     string `bson:"area,omitempty"`
}

func newCustomerDoc(c payment.Customer) customerDoc {
	return customerDoc(c)
}

func (d customerDoc) customer() payment.Customer {
	return payment.Customer(d)
}

type itemDoc struct {
	ProductID  string               `bson:"productId"`
	Title      string               `bson:"title"`
	Image      string               `bson:"image,omitempty"`
	Price      primitive.Decimal128 `bson:"price"`
	Quantity   int                  `bson:"quantity"`
	Variations map[string]string    `bson:"variations,omitempty"`
}

func newItemDocs(items []payment.CartItem) []itemDoc {
	docs := make([]itemDoc, len(items))
	for i, it := range items {
		docs[i] = itemDoc{
			ProductID:  it.ProductID,
			Title:      it.Title,
			Image:      it.Image,
			Price:      toDecimal128(it.Price),
			Quantity:   it.Quantity,
			Variations: it.Variations,
		}
	}
	return docs
}

func cartItems(docs []itemDoc) []payment.CartItem {
	items := make([]payment.CartItem, len(docs))
	for i, d := range docs {
		items[i] = payment.CartItem{
			ProductID:  d.ProductID,
			Title:      d.Title,
			Image:      d.Image,
			Price:      fromDecimal128(d.Price),
			Quantity:   d.Quantity,
			Variations: d.Variations,
		}
	}
	return items
}

type pendingDoc struct {
	Reference     string               `bson:"_id"`
	Customer      customerDoc          `bson:"customer"`
	Items         []itemDoc            `bson:"cartItems"`
	Note          string               `bson:"note,omitempty"`
	Shipping      primitive.Decimal128 `bson:"shipping"`
	Subtotal      primitive.Decimal128 `bson:"subtotal"`
	Total         primitive.Decimal128 `bson:"total"`
	Method        string               `bson:"paymentMethod"`
	UserEmail     string               `bson:"userEmail"`
	Status        string               `bson:"status"`
	PaymentID     string               `bson:"paymentID,omitempty"`
	TransactionID string               `bson:"trxID,omitempty"`
	FailureReason string               `bson:"failureReason,omitempty"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

func newPendingDoc(p *payment.Pending) pendingDoc {
	return pendingDoc{
		Reference:     p.Reference,
		Customer:      newCustomerDoc(p.Customer),
		Items:         newItemDocs(p.Items),
		Note:          p.Note,
		Shipping:      toDecimal128(p.Shipping),
		Subtotal:      toDecimal128(p.Subtotal),
		Total:         toDecimal128(p.Total),
		Method:        string(p.Method),
		UserEmail:     p.UserEmail,
		Status:        string(p.Status),
		PaymentID:     p.PaymentID,
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (d *pendingDoc) pending() *payment.Pending {
	return &payment.Pending{
		Reference:     d.Reference,
		Customer:      d.Customer.customer(),
		Items:         cartItems(d.Items),
		Note:          d.Note,
		Shipping:      fromDecimal128(d.Shipping),
		Subtotal:      fromDecimal128(d.Subtotal),
		Total:         fromDecimal128(d.Total),
		Method:        payment.Method(d.Method),
		UserEmail:     d.UserEmail,
		Status:        payment.Status(d.Status),
		PaymentID:     d.PaymentID,
		TransactionID: d.TransactionID,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type applicationDoc struct {
	Name          string `bson:"name"`
	ShopName      string `bson:"shopName"`
	Email         string `bson:"email"`
	Phone         string `bson:"phone"`
	Address       string `bson:"address"`
	NID           string `bson:"nid,omitempty"`
	PayoutMethod  string `bson:"payoutMethod,omitempty"`
	PayoutAccount string `bson:"payoutAccount,omitempty"`
}

type registrationDoc struct {
	Reference     string               `bson:"_id"`
	Applicant     applicationDoc       `bson:"applicant"`
	Fee           primitive.Decimal128 `bson:"fee"`
	Status        string               `bson:"status"`
	PaymentID     string               `bson:"paymentID,omitempty"`
	TransactionID string               `bson:"trxID,omitempty"`
	FailureReason string               `bson:"failureReason,omitempty"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

func newRegistrationDoc(p *payment.PendingRegistration) registrationDoc {
	return registrationDoc{
		Reference:     p.Reference,
		Applicant:     applicationDoc(p.Applicant),
		Fee:           toDecimal128(p.Fee),
		Status:        string(p.Status),
		PaymentID:     p.PaymentID,
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (d *registrationDoc) registration() *payment.PendingRegistration {
	return &payment.PendingRegistration{
		Reference:     d.Reference,
		Applicant:     seller.Application(d.Applicant),
		Fee:           fromDecimal128(d.Fee),
		Status:        payment.Status(d.Status),
		PaymentID:     d.PaymentID,
		TransactionID: d.TransactionID,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type orderDoc struct {
	ID                string               `bson:"_id"`
	Reference         string               `bson:"reference"`
	Email             string               `bson:"email"`
	Customer          customerDoc          `bson:"customer"`
	Items             []itemDoc            `bson:"items"`
	Note              string               `bson:"note,omitempty"`
	Shipping          primitive.Decimal128 `bson:"shipping"`
	Subtotal          primitive.Decimal128 `bson:"subtotal"`
	TotalAmount       primitive.Decimal128 `bson:"totalAmount"`
	AdvancePaid       primitive.Decimal128 `bson:"advancePaid"`
	DueAmount         primitive.Decimal128 `bson:"dueAmount"`
	TransactionID     string               `bson:"transactionId"`
	PaymentID         string               `bson:"paymentId"`
	PaymentMethod     string               `bson:"paymentMethod"`
	PaymentStatus     string               `bson:"paymentStatus"`
	Status            string               `bson:"status"`
	CourierName       string               `bson:"courierName,omitempty"`
	TrackingID        string               `bson:"trackingId,omitempty"`
	ShippedAt         *time.Time           `bson:"shippedAt,omitempty"`
	RefundRequested   bool                 `bson:"refundRequested"`
	RefundReason      string               `bson:"refundReason,omitempty"`
	RefundRequestedAt *time.Time           `bson:"refundRequestedAt,omitempty"`
	CreatedAt         time.Time            `bson:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt"`
}

func newOrderDoc(o *order.Order) orderDoc {
	return orderDoc{
		ID:                o.ID,
		Reference:         o.Reference,
		Email:             o.Email,
		Customer:          newCustomerDoc(o.Customer),
		Items:             newItemDocs(o.Items),
		Note:              o.Note,
		Shipping:          toDecimal128(o.Shipping),
		Subtotal:          toDecimal128(o.Subtotal),
		TotalAmount:       toDecimal128(o.TotalAmount),
		AdvancePaid:       toDecimal128(o.AdvancePaid),
		DueAmount:         toDecimal128(o.DueAmount),
		TransactionID:     o.TransactionID,
		PaymentID:         o.PaymentID,
		PaymentMethod:     string(o.PaymentMethod),
		PaymentStatus:     string(o.PaymentStatus),
		Status:            string(o.Status),
		CourierName:       o.Shipment.CourierName,
		TrackingID:        o.Shipment.TrackingID,
		ShippedAt:         o.Shipment.ShippedAt,
		RefundRequested:   o.Refund.Requested,
		RefundReason:      o.Refund.Reason,
		RefundRequestedAt: o.Refund.RequestedAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func (d *orderDoc) order() order.Order {
	return order.Order{
		ID:            d.ID,
		Reference:     d.Reference,
		Email:         d.Email,
		Customer:      d.Customer.customer(),
		Items:         cartItems(d.Items),
		Note:          d.Note,
		Shipping:      fromDecimal128(d.Shipping),
		Subtotal:      fromDecimal128(d.Subtotal),
		TotalAmount:   fromDecimal128(d.TotalAmount),
		AdvancePaid:   fromDecimal128(d.AdvancePaid),
		DueAmount:     fromDecimal128(d.DueAmount),
		TransactionID: d.TransactionID,
		PaymentID:     d.PaymentID,
		PaymentMethod: payment.Method(d.PaymentMethod),
		PaymentStatus: order.PaymentStatus(d.PaymentStatus),
		Status:        order.Status(d.Status),
		Shipment: order.Shipment{
			CourierName: d.CourierName,
			TrackingID:  d.TrackingID,
			ShippedAt:   d.ShippedAt,
		},
		Refund: order.Refund{
			Requested:   d.RefundRequested,
			Reason:      d.RefundReason,
			RequestedAt: d.RefundRequestedAt,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type sellerDoc struct {
	ID              string               `bson:"_id"`
	Email           string               `bson:"email"`
	Application     applicationDoc       `bson:"application"`
	RegistrationFee primitive.Decimal128 `bson:"registrationFee"`
	TransactionID   string               `bson:"transactionId"`
	PaymentID       string               `bson:"paymentId"`
	Reference       string               `bson:"reference"`
	Status          string               `bson:"status"`
	CreatedAt       time.Time            `bson:"createdAt"`
}

func (d *sellerDoc) seller() *seller.Seller {
	return &seller.Seller{
		ID:              d.ID,
		Application:     seller.Application(d.Application),
		RegistrationFee: fromDecimal128(d.RegistrationFee),
		TransactionID:   d.TransactionID,
		PaymentID:       d.PaymentID,
		Reference:       d.Reference,
		Status:          seller.Status(d.Status),
		CreatedAt:       d.CreatedAt,
	}
}

type productDoc struct {
	ID    string               `bson:"_id"`
	Title string               `bson:"title"`
	Price primitive.Decimal128 `bson:"price"`
	Stock string               `bson:"stock"`
	Image string               `bson:"image,omitempty"`
}

type tokenDoc struct {
	ID           string    `bson:"_id"`
	IDToken      string    `bson:"idToken"`
	RefreshToken string    `bson:"refreshToken,omitempty"`
	ExpiresIn    int64     `bson:"expiresIn"`
	ObtainedAt   time.Time `bson:"obtainedAt"`
}
