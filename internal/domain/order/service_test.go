package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-pay/internal/domain/payment"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders map[string]*Order

	updateErr error
	updates   []Status
	shipments []Shipment
	refunds   []Refund
}

func newMockOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if _, ok := m.orders[o.ID]; ok {
		return ErrDuplicatePayment
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) FindByReference(context.Context, string) (*Order, error) {
	return nil, ErrNotFound
}

func (m *mockOrderRepo) FindByPaymentID(context.Context, string) (*Order, error) {
	return nil, ErrNotFound
}

func (m *mockOrderRepo) ListByEmail(_ context.Context, email string) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.Email == email {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.orders[id].Status != from {
		return ErrStaleStatus
	}
	m.orders[id].Status = to
	m.updates = append(m.updates, to)
	return nil
}

func (m *mockOrderRepo) SetShipment(_ context.Context, id string, s Shipment) error {
	m.orders[id].Shipment = s
	m.shipments = append(m.shipments, s)
	return nil
}

func (m *mockOrderRepo) SetRefund(_ context.Context, id string, r Refund) error {
	m.orders[id].Refund = r
	m.refunds = append(m.refunds, r)
	return nil
}

// --- Helpers ---

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return fixedNow }
	return s
}

func testOrder(status Status) *Order {
	return &Order{ID: "ORD-1", Email: "rahim@example.com", Status: status}
}

// --- Tests ---

func TestService_Get(t *testing.T) {
	svc := newTestService(newMockOrderRepo(testOrder(StatusPending)))

	o, err := svc.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "rahim@example.com", o.Email)

	_, err = svc.Get(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListForBuyer(t *testing.T) {
	svc := newTestService(newMockOrderRepo(testOrder(StatusPending)))

	orders, err := svc.ListForBuyer(context.Background(), "  rahim@example.com ")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, err = svc.ListForBuyer(context.Background(), " ")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestService_Transition(t *testing.T) {
	tests := []struct {
		name      string
		from      Status
		to        Status
		updateErr error
		wantErr   error
		wantTrans bool
	}{
		{name: "confirm pending", from: StatusPending, to: StatusConfirmed},
		{name: "cancel confirmed", from: StatusConfirmed, to: StatusCancelled},
		{name: "deliver shipped", from: StatusShipped, to: StatusDelivered},
		{name: "return delivered", from: StatusDelivered, to: StatusReturned},
		{name: "skip to delivered", from: StatusPending, to: StatusDelivered, wantTrans: true},
		{name: "revive cancelled", from: StatusCancelled, to: StatusPending, wantTrans: true},
		{name: "concurrent change", from: StatusPending, to: StatusConfirmed, updateErr: ErrStaleStatus, wantErr: ErrStaleStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockOrderRepo(testOrder(tt.from))
			repo.updateErr = tt.updateErr
			svc := newTestService(repo)

			o, err := svc.Transition(context.Background(), "ORD-1", tt.to)
			switch {
			case tt.wantTrans:
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.from, te.From)
				assert.Equal(t, tt.to, te.To)
				assert.Empty(t, repo.updates)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.to, o.Status)
				assert.Equal(t, fixedNow, o.UpdatedAt)
				assert.Equal(t, []Status{tt.to}, repo.updates)
			}
		})
	}
}

func TestService_Ship(t *testing.T) {
	t.Run("records shipment", func(t *testing.T) {
		repo := newMockOrderRepo(testOrder(StatusConfirmed))
		o, err := newTestService(repo).Ship(context.Background(), "ORD-1", "Pathao", "PTH-42")
		require.NoError(t, err)

		assert.Equal(t, StatusShipped, o.Status)
		assert.Equal(t, "PTH-42", o.Shipment.TrackingID)
		require.NotNil(t, o.Shipment.ShippedAt)
		assert.Equal(t, fixedNow, *o.Shipment.ShippedAt)
		assert.Len(t, repo.shipments, 1)
	})

	t.Run("tracking id required", func(t *testing.T) {
		repo := newMockOrderRepo(testOrder(StatusConfirmed))
		_, err := newTestService(repo).Ship(context.Background(), "ORD-1", "Pathao", " ")
		require.ErrorIs(t, err, ErrMissingTrackingID)
		assert.Empty(t, repo.shipments)
	})

	t.Run("pending order cannot ship", func(t *testing.T) {
		repo := newMockOrderRepo(testOrder(StatusPending))
		_, err := newTestService(repo).Ship(context.Background(), "ORD-1", "Pathao", "PTH-42")
		var te *TransitionError
		require.ErrorAs(t, err, &te)
		assert.Empty(t, repo.shipments)
	})
}

func TestService_RequestRefund(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		requested bool
		email     string
		wantErr   error
	}{
		{name: "cancelled", status: StatusCancelled, email: "rahim@example.com"},
		{name: "delivered case-insensitive email", status: StatusDelivered, email: " RAHIM@example.com"},
		{name: "returned", status: StatusReturned, email: "rahim@example.com"},
		{name: "other buyer", status: StatusDelivered, email: "karim@example.com", wantErr: ErrNotOwner},
		{name: "shipped", status: StatusShipped, email: "rahim@example.com", wantErr: ErrRefundNotAllowed},
		{name: "pending", status: StatusPending, email: "rahim@example.com", wantErr: ErrRefundNotAllowed},
		{name: "twice", status: StatusDelivered, requested: true, email: "rahim@example.com", wantErr: ErrRefundRequested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder(tt.status)
			o.Refund.Requested = tt.requested
			repo := newMockOrderRepo(o)

			got, err := newTestService(repo).RequestRefund(context.Background(), "ORD-1", tt.email, " damaged ")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, repo.refunds)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Refund.Requested)
			assert.Equal(t, "damaged", got.Refund.Reason)
			assert.Equal(t, tt.status, got.Status)
			assert.Len(t, repo.refunds, 1)
		})
	}
}

func TestNewFromPayment(t *testing.T) {
	p := &payment.Pending{
		Reference: "user_1",
		UserEmail: "rahim@example.com",
		Items:     []payment.CartItem{{ProductID: "p1", Price: decimal.NewFromInt(450), Quantity: 2}},
		Shipping:  decimal.NewFromInt(60),
		Subtotal:  decimal.NewFromInt(900),
		Total:     decimal.NewFromInt(960),
		Method:    payment.MethodCOD,
	}

	tests := []struct {
		name       string
		amount     string
		wantErr    error
		wantDue    string
		wantStatus PaymentStatus
	}{
		{name: "advance", amount: "100", wantDue: "860", wantStatus: PaymentPartial},
		{name: "full", amount: "960", wantDue: "0", wantStatus: PaymentPaid},
		{name: "overpaid floors due", amount: "1000", wantDue: "0", wantStatus: PaymentPaid},
		{name: "rounded", amount: "100.004", wantDue: "860", wantStatus: PaymentPartial},
		{name: "zero", amount: "0", wantErr: ErrInvalidAmount},
		{name: "negative", amount: "-5", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewFromPayment(p, Confirmation{
				PaymentID:     "PAY1",
				TransactionID: "TRX1",
				Amount:        decimal.RequireFromString(tt.amount),
			}, fixedNow)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantDue).Equal(o.DueAmount), "due %s", o.DueAmount)
			assert.Equal(t, tt.wantStatus, o.PaymentStatus)
			assert.Equal(t, StatusPending, o.Status)
			assert.Equal(t, "user_1", o.Reference)
			assert.Equal(t, "TRX1", o.TransactionID)
			assert.Regexp(t, `^ORD-20260504-[0-9A-F]{6}$`, o.ID)
		})
	}
}
