package checkout

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/domain/cart"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// --- Mock implementations ---

type cartRow struct {
	email     string
	productID string
}

// memState is the data of memStore. It is copied whole to emulate
// transaction rollback.
type memState struct {
	pending       map[string]payment.Pending
	registrations map[string]payment.PendingRegistration
	orders        map[string]order.Order
	carts         []cartRow
	stock         map[string]string
	sellers       map[string]seller.Seller
}

func (s memState) clone() memState {
	return memState{
		pending:       maps.Clone(s.pending),
		registrations: maps.Clone(s.registrations),
		orders:        maps.Clone(s.orders),
		carts:         append([]cartRow(nil), s.carts...),
		stock:         maps.Clone(s.stock),
		sellers:       maps.Clone(s.sellers),
	}
}

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState

	// failOn makes the named write fail inside transactions.
	failOn string
	txs    atomic.Int32
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{st: memState{
		pending:       map[string]payment.Pending{},
		registrations: map[string]payment.PendingRegistration{},
		orders:        map[string]order.Order{},
		stock:         map[string]string{},
		sellers:       map[string]seller.Seller{},
	}}
}

func (m *memStore) Payments() payment.PendingRepository           { return (*memPayments)(m) }
func (m *memStore) Registrations() payment.RegistrationRepository { return (*memRegistrations)(m) }
func (m *memStore) Orders() order.Repository                      { return (*memOrders)(m) }
func (m *memStore) Carts() cart.Repository                        { return (*memCarts)(m) }
func (m *memStore) Products() product.Repository                  { return (*memProducts)(m) }
func (m *memStore) Sellers() seller.Repository                    { return (*memSellers)(m) }

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.txs.Add(1)

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) fail(op string) error {
	if m.failOn == op {
		return errors.Errorf("%s: injected failure", op)
	}
	return nil
}

func (m *memStore) pendingByRef(ref string) (payment.Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.pending[ref]
	return p, ok
}

func (m *memStore) orderList() []order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]order.Order, 0, len(m.st.orders))
	for _, o := range m.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) stockOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.stock[id]
}

func (m *memStore) cartRows(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.st.carts {
		if r.email == email {
			n++
		}
	}
	return n
}

type memPayments memStore

func (r *memPayments) Create(_ context.Context, p *payment.Pending) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.pending[p.Reference]; ok {
		return payment.ErrDuplicateReference
	}
	m.st.pending[p.Reference] = *p
	return nil
}

func (r *memPayments) FindByReference(_ context.Context, ref string) (*payment.Pending, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.pending[ref]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &p, nil
}

func (r *memPayments) SetPaymentID(_ context.Context, ref, paymentID string) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.pending[ref]
	if !ok {
		return payment.ErrNotFound
	}
	p.PaymentID = paymentID
	m.st.pending[ref] = p
	return nil
}

func (r *memPayments) MarkFailed(_ context.Context, ref string, f payment.Failure) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.pending[ref]
	if !ok {
		return payment.ErrNotFound
	}
	next, err := p.Status.Transition(payment.StatusFailed)
	if err != nil {
		return err
	}
	p.Status = next
	p.FailureReason = f.Reason
	if f.PaymentID != "" {
		p.PaymentID = f.PaymentID
	}
	p.TransactionID = f.TransactionID
	m.st.pending[ref] = p
	return nil
}

func (r *memPayments) Complete(_ context.Context, ref string) error {
	m := (*memStore)(r)
	if err := m.fail("complete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.pending[ref]
	if !ok {
		return payment.ErrNotFound
	}
	if _, err := p.Status.Transition(payment.StatusCompleted); err != nil {
		return err
	}
	delete(m.st.pending, ref)
	return nil
}

func (r *memPayments) ListStale(_ context.Context, olderThan time.Time, limit int) ([]payment.Pending, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Pending
	for _, p := range m.st.pending {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPayments) ListByStatus(_ context.Context, status payment.Status, limit int) ([]payment.Pending, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Pending
	for _, p := range m.st.pending {
		if p.Status == status && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memRegistrations memStore

func (r *memRegistrations) Create(_ context.Context, p *payment.PendingRegistration) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.registrations[p.Reference]; ok {
		return payment.ErrDuplicateReference
	}
	m.st.registrations[p.Reference] = *p
	return nil
}

func (r *memRegistrations) FindByReference(_ context.Context, ref string) (*payment.PendingRegistration, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.registrations[ref]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &p, nil
}

func (r *memRegistrations) SetPaymentID(_ context.Context, ref, paymentID string) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.registrations[ref]
	if !ok {
		return payment.ErrNotFound
	}
	p.PaymentID = paymentID
	m.st.registrations[ref] = p
	return nil
}

func (r *memRegistrations) MarkFailed(_ context.Context, ref string, f payment.Failure) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.registrations[ref]
	if !ok {
		return payment.ErrNotFound
	}
	next, err := p.Status.Transition(payment.StatusFailed)
	if err != nil {
		return err
	}
	p.Status = next
	p.FailureReason = f.Reason
	p.TransactionID = f.TransactionID
	m.st.registrations[ref] = p
	return nil
}

func (r *memRegistrations) Complete(_ context.Context, ref string) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.registrations[ref]
	if !ok {
		return payment.ErrNotFound
	}
	if _, err := p.Status.Transition(payment.StatusCompleted); err != nil {
		return err
	}
	delete(m.st.registrations, ref)
	return nil
}

func (r *memRegistrations) ListStale(_ context.Context, olderThan time.Time, limit int) ([]payment.PendingRegistration, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.PendingRegistration
	for _, p := range m.st.registrations {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRegistrations) ListByStatus(_ context.Context, status payment.Status, limit int) ([]payment.PendingRegistration, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.PendingRegistration
	for _, p := range m.st.registrations {
		if p.Status == status && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memOrders memStore

func (r *memOrders) Create(_ context.Context, o *order.Order) error {
	m := (*memStore)(r)
	if err := m.fail("order"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.st.orders {
		if existing.Reference == o.Reference || existing.PaymentID == o.PaymentID {
			return order.ErrDuplicatePayment
		}
	}
	m.st.orders[o.ID] = *o
	return nil
}

func (r *memOrders) find(match func(order.Order) bool) (*order.Order, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.st.orders {
		if match(o) {
			return &o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (r *memOrders) FindByID(_ context.Context, id string) (*order.Order, error) {
	return r.find(func(o order.Order) bool { return o.ID == id })
}

func (r *memOrders) FindByReference(_ context.Context, ref string) (*order.Order, error) {
	return r.find(func(o order.Order) bool { return o.Reference == ref })
}

func (r *memOrders) FindByPaymentID(_ context.Context, id string) (*order.Order, error) {
	return r.find(func(o order.Order) bool { return o.PaymentID == id })
}

func (r *memOrders) ListByEmail(_ context.Context, email string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range (*memStore)(r).orderList() {
		if o.Email == email {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOrders) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStaleStatus
	}
	o.Status = to
	m.st.orders[id] = o
	return nil
}

func (r *memOrders) SetShipment(_ context.Context, id string, s order.Shipment) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Shipment = s
	m.st.orders[id] = o
	return nil
}

func (r *memOrders) SetRefund(_ context.Context, id string, rf order.Refund) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Refund = rf
	m.st.orders[id] = o
	return nil
}

type memCarts memStore

func (r *memCarts) ClearByEmail(_ context.Context, email string) (int64, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.st.carts[:0]
	var n int64
	for _, row := range m.st.carts {
		if row.email == email {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.st.carts = kept
	return n, nil
}

type memProducts memStore

func (r *memProducts) List(_ context.Context, _ int) ([]product.Product, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for id, stock := range m.st.stock {
		out = append(out, product.Product{ID: id, Stock: stock})
	}
	return out, nil
}

func (r *memProducts) DecrementStock(_ context.Context, id string, qty int) error {
	m := (*memStore)(r)
	if err := m.fail("stock"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.st.stock[id]
	if !ok {
		return product.ErrNotFound
	}
	m.st.stock[id] = product.DecrementStock(stock, qty)
	return nil
}

func (r *memProducts) Upsert(_ context.Context, p product.Product) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.stock[p.ID] = p.Stock
	return nil
}

type memSellers memStore

func (r *memSellers) Create(_ context.Context, s *seller.Seller) error {
	m := (*memStore)(r)
	if err := m.fail("seller"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.st.sellers {
		if existing.Application.Email == s.Application.Email || existing.PaymentID == s.PaymentID {
			return seller.ErrAlreadyRegistered
		}
	}
	m.st.sellers[s.ID] = *s
	return nil
}

func (r *memSellers) FindByEmail(_ context.Context, email string) (*seller.Seller, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sellers {
		if s.Application.Email == email {
			return &s, nil
		}
	}
	return nil, seller.ErrNotFound
}

func (r *memSellers) FindByReference(_ context.Context, ref string) (*seller.Seller, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sellers {
		if s.Reference == ref {
			return &s, nil
		}
	}
	return nil, seller.ErrNotFound
}

// fakeGateway records gateway calls and answers with canned responses.
type fakeGateway struct {
	mu        sync.Mutex
	creates   []bkash.CreateRequest
	createErr error
	executes  map[string]int

	execResp *bkash.ExecuteResponse
	execErr  error
	// execHook runs inside ExecutePayment before it answers.
	execHook func()
}

func newFakeGateway(amount string) *fakeGateway {
	return &fakeGateway{
		executes: map[string]int{},
		execResp: &bkash.ExecuteResponse{StatusCode: bkash.StatusOK, TrxID: "TRX1", Amount: amount},
	}
}

func (g *fakeGateway) CreatePayment(_ context.Context, req bkash.CreateRequest) (*bkash.CreateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &bkash.CreateResponse{
		StatusCode: bkash.StatusOK,
		PaymentID:  "PAY-" + req.MerchantInvoiceNumber,
		BkashURL:   "https://gateway.example/pay/" + req.MerchantInvoiceNumber,
	}, nil
}

func (g *fakeGateway) ExecutePayment(_ context.Context, paymentID string) (*bkash.ExecuteResponse, error) {
	if g.execHook != nil {
		g.execHook()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executes[paymentID]++
	if g.execErr != nil {
		return nil, g.execErr
	}
	resp := *g.execResp
	resp.PaymentID = paymentID
	return &resp, nil
}

func (g *fakeGateway) executeCount(paymentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executes[paymentID]
}

// --- Helpers ---

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		SiteURL:         "https://shop.example",
		PublicURL:       "https://api.shop.example",
		CODAdvance:      decimal.NewFromInt(200),
		RegistrationFee: decimal.NewFromInt(500),
		LockTTL:         time.Minute,
	}
}

func newTestService(store *memStore, gw *fakeGateway) *Service {
	svc, err := NewService(testConfig(), store, gw, NewMemoryLocker(), Options{
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		panic(err)
	}
	return svc
}

func checkoutRequest(ref, method string) Request {
	return Request{
		Reference: ref,
		Customer: payment.Customer{
			Name:    "Rahim Uddin",
			Email:   "rahim@example.com",
			Phone:   "01700000000",
			Address: "House 1, Road 2",
			City:    "Dhaka",
		},
		Items: []payment.CartItem{
			{ProductID: "p1", Title: "Kurta", Price: decimal.NewFromInt(150), Quantity: 2},
			{ProductID: "p2", Title: "Scarf", Price: decimal.NewFromInt(200), Quantity: 1},
		},
		Shipping:  decimal.NewFromInt(110),
		Subtotal:  decimal.NewFromInt(500),
		Total:     decimal.NewFromInt(610),
		Method:    method,
		UserEmail: "rahim@example.com",
	}
}

// seedCheckout stores products and a cart for the test buyer and initiates a
// checkout for ref.
func seedCheckout(store *memStore, svc *Service, ref, method string) *InitiateResult {
	store.mu.Lock()
	store.st.stock["p1"] = "3"
	store.st.stock["p2"] = "10"
	store.st.carts = append(store.st.carts,
		cartRow{email: "rahim@example.com", productID: "p1"},
		cartRow{email: "rahim@example.com", productID: "p2"},
		cartRow{email: "other@example.com", productID: "p1"},
	)
	store.mu.Unlock()

	res, err := svc.Initiate(context.Background(), checkoutRequest(ref, method))
	if err != nil {
		panic(err)
	}
	return res
}
