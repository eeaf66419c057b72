package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/product"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// --- Mock implementations ---

type mockCheckout struct {
	lastRequest      checkout.Request
	lastRegistration checkout.RegistrationRequest
	lastParams       checkout.CallbackParams
	result           *checkout.InitiateResult
	err              error
	outcome          checkout.Outcome
}

func (m *mockCheckout) Initiate(_ context.Context, req checkout.Request) (*checkout.InitiateResult, error) {
	m.lastRequest = req
	return m.result, m.err
}

func (m *mockCheckout) HandleCallback(_ context.Context, p checkout.CallbackParams) checkout.Outcome {
	m.lastParams = p
	return m.outcome
}

func (m *mockCheckout) InitiateRegistration(_ context.Context, req checkout.RegistrationRequest) (*checkout.InitiateResult, error) {
	m.lastRegistration = req
	return m.result, m.err
}

func (m *mockCheckout) HandleRegistrationCallback(_ context.Context, p checkout.CallbackParams) checkout.Outcome {
	m.lastParams = p
	return m.outcome
}

type mockOrders struct {
	order  *order.Order
	orders []order.Order
	err    error
	next   order.Status
}

func (m *mockOrders) Get(context.Context, string) (*order.Order, error) { return m.order, m.err }

func (m *mockOrders) ListForBuyer(context.Context, string) ([]order.Order, error) {
	return m.orders, m.err
}

func (m *mockOrders) Transition(_ context.Context, _ string, next order.Status) (*order.Order, error) {
	m.next = next
	return m.order, m.err
}

func (m *mockOrders) Ship(context.Context, string, string, string) (*order.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) RequestRefund(context.Context, string, string, string) (*order.Order, error) {
	return m.order, m.err
}

type mockProducts struct {
	products []product.Product
}

func (m *mockProducts) List(context.Context, int) ([]product.Product, error) { return m.products, nil }

func (m *mockProducts) DecrementStock(context.Context, string, int) error { return nil }

func (m *mockProducts) Upsert(context.Context, product.Product) error { return nil }

// --- Helpers ---

func newTestHandler(co *mockCheckout, orders *mockOrders, products *mockProducts) http.Handler {
	gin.SetMode(gin.TestMode)
	h := New(Config{ProductsAPIKey: "products-key", AdminAPIKey: "admin-key"}, co, orders, products)
	return h.Engine()
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

const checkoutBody = `{
	"customerInfo": {"name": "Rahim", "phone": "01700000000", "email": "rahim@example.com", "address": "Dhaka"},
	"cartItems": [{"productId": "p1", "title": "Kurta", "price": 150, "quantity": 2, "variations": {"size": "M"}}],
	"shipping": 110,
	"subtotal": "300",
	"total": 410,
	"paymentMethod": "bkash",
	"userEmail": "rahim@example.com"
}`

func TestInitiateCheckout(t *testing.T) {
	co := &mockCheckout{result: &checkout.InitiateResult{
		Reference:   "user_1",
		PaymentID:   "PAY1",
		RedirectURL: "https://gateway.example/pay",
		Amount:      decimal.NewFromInt(410),
	}}
	h := newTestHandler(co, &mockOrders{}, &mockProducts{})

	w := do(t, h, http.MethodPost, "/api/checkout/bkash", checkoutBody)
	require.Equal(t, http.StatusOK, w.Code)

	var body initiateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "user_1", body.Reference)
	assert.Equal(t, "https://gateway.example/pay", body.BkashURL)
	assert.Equal(t, "410.00", body.Amount)

	req := co.lastRequest
	assert.Equal(t, "bkash", req.Method)
	assert.Equal(t, "Rahim", req.Customer.Name)
	require.Len(t, req.Items, 1)
	assert.True(t, decimal.NewFromInt(150).Equal(req.Items[0].Price))
	assert.Equal(t, "M", req.Items[0].Variations["size"])
	assert.True(t, decimal.NewFromInt(300).Equal(req.Subtotal))
	assert.True(t, decimal.NewFromInt(410).Equal(req.Total))
}

func TestInitiateCheckout_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		wantCode  int
		wantField string
	}{
		{
			name:      "malformed body",
			body:      `{"cartItems":`,
			wantCode:  http.StatusBadRequest,
			wantField: "body",
		},
		{
			name:      "validation",
			body:      checkoutBody,
			err:       &payment.ValidationError{Field: "total", Reason: "must equal subtotal plus shipping"},
			wantCode:  http.StatusBadRequest,
			wantField: "total",
		},
		{
			name:     "duplicate reference",
			body:     checkoutBody,
			err:      errors.Wrap(payment.ErrDuplicateReference, "create pending payment"),
			wantCode: http.StatusConflict,
		},
		{
			name:     "gateway failure",
			body:     checkoutBody,
			err:      &checkout.GatewayError{Err: errors.New("connection refused")},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "unexpected",
			body:     checkoutBody,
			err:      errors.New("disk on fire"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockCheckout{err: tt.err}, &mockOrders{}, &mockProducts{})

			w := do(t, h, http.MethodPost, "/api/checkout/bkash", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantField, body.Field)
			if tt.wantCode == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Message)
			}
		})
	}
}

func TestCallbacks_AlwaysRedirect(t *testing.T) {
	tests := []struct {
		name   string
		target string
		out    checkout.Outcome
	}{
		{
			name:   "checkout completed",
			target: "/api/checkout/bkash/callback?paymentID=PAY1&status=success&reference=user_1",
			out: checkout.Outcome{
				RedirectURL: "https://shop.example/order-confirmation/ORD-1",
				Result:      checkout.ResultCompleted,
			},
		},
		{
			name:   "checkout cancelled",
			target: "/api/checkout/bkash/callback?paymentID=PAY1&status=cancel&reference=user_1",
			out: checkout.Outcome{
				RedirectURL: "https://shop.example/checkout?payment=failed&reason=cancelled",
				Result:      checkout.ResultFailed,
				Reason:      checkout.ReasonCancelled,
			},
		},
		{
			name:   "registration",
			target: "/api/seller/register/bkash/callback?paymentID=PAY2&status=success&reference=seller_1",
			out: checkout.Outcome{
				RedirectURL: "https://shop.example/seller/register/success",
				Result:      checkout.ResultCompleted,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := &mockCheckout{outcome: tt.out}
			h := newTestHandler(co, &mockOrders{}, &mockProducts{})

			w := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusSeeOther, w.Code)
			assert.Equal(t, tt.out.RedirectURL, w.Header().Get("Location"))
			assert.NotEmpty(t, co.lastParams.Reference)
			assert.NotEmpty(t, co.lastParams.PaymentID)
			assert.NotEmpty(t, co.lastParams.Status)
		})
	}
}

func TestInitiateRegistration(t *testing.T) {
	co := &mockCheckout{result: &checkout.InitiateResult{
		Reference:   "seller_1",
		RedirectURL: "https://gateway.example/pay",
		Amount:      decimal.NewFromInt(500),
	}}
	h := newTestHandler(co, &mockOrders{}, &mockProducts{})

	w := do(t, h, http.MethodPost, "/api/seller/register/bkash",
		`{"application": {"name": "Karim", "shopName": "Crafts", "email": "k@example.com", "phone": "018"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Crafts", co.lastRegistration.Application.ShopName)

	co.err = seller.ErrAlreadyRegistered
	w = do(t, h, http.MethodPost, "/api/seller/register/bkash", `{"application": {}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListProducts_RequiresAPIKey(t *testing.T) {
	products := &mockProducts{products: []product.Product{
		{ID: "p1", Title: "Kurta", Price: decimal.NewFromInt(150), Stock: "7"},
		{ID: "p2", Title: "Scarf", Price: decimal.RequireFromString("99.5"), Stock: "n/a"},
	}}
	h := newTestHandler(&mockCheckout{}, &mockOrders{}, products)

	tests := []struct {
		name     string
		headers  []string
		wantCode int
	}{
		{name: "missing key", wantCode: http.StatusUnauthorized},
		{name: "wrong key", headers: []string{APIKeyHeader, "nope"}, wantCode: http.StatusUnauthorized},
		{name: "admin key", headers: []string{APIKeyHeader, "admin-key"}, wantCode: http.StatusUnauthorized},
		{name: "valid key", headers: []string{APIKeyHeader, "products-key"}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/products", "", tt.headers...)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	w := do(t, h, http.MethodGet, "/api/products", "", APIKeyHeader, "products-key")
	var body []productResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body, 2)
	assert.Equal(t, 7, body[0].Stock)
	assert.Equal(t, 0, body[1].Stock)
	assert.Equal(t, "99.50", body[1].Price)
}

func TestRequireAPIKey_EmptyKeyRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.GET("/", RequireAPIKey(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(t, e, http.MethodGet, "/", "", APIKeyHeader, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrders(t *testing.T) {
	o := &order.Order{
		ID:            "ORD-1",
		Email:         "rahim@example.com",
		TotalAmount:   decimal.NewFromInt(610),
		AdvancePaid:   decimal.NewFromInt(200),
		DueAmount:     decimal.NewFromInt(410),
		PaymentMethod: payment.MethodCOD,
		PaymentStatus: order.PaymentPartial,
		Status:        order.StatusPending,
	}

	t.Run("get", func(t *testing.T) {
		h := newTestHandler(&mockCheckout{}, &mockOrders{order: o}, &mockProducts{})
		w := do(t, h, http.MethodGet, "/api/orders/ORD-1", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body orderResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ORD-1", body.OrderID)
		assert.Equal(t, "200.00", body.AdvancePaid)
		assert.Equal(t, "410.00", body.DueAmount)
		assert.Equal(t, "partial", body.PaymentStatus)
	})

	t.Run("list requires email", func(t *testing.T) {
		h := newTestHandler(&mockCheckout{}, &mockOrders{}, &mockProducts{})
		w := do(t, h, http.MethodGet, "/api/orders", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		h := newTestHandler(&mockCheckout{}, &mockOrders{orders: []order.Order{*o}}, &mockProducts{})
		w := do(t, h, http.MethodGet, "/api/orders?email=rahim@example.com", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body []orderResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Len(t, body, 1)
	})

	t.Run("not found", func(t *testing.T) {
		h := newTestHandler(&mockCheckout{}, &mockOrders{err: errors.Wrap(order.ErrNotFound, "get order")}, &mockProducts{})
		w := do(t, h, http.MethodGet, "/api/orders/ORD-404", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminOrders(t *testing.T) {
	o := &order.Order{ID: "ORD-1", Status: order.StatusConfirmed}

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		key      string
		err      error
		wantCode int
	}{
		{
			name:     "missing admin key",
			method:   http.MethodPatch,
			target:   "/api/admin/orders/ORD-1/status",
			body:     `{"status": "Confirmed"}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "status update",
			method:   http.MethodPatch,
			target:   "/api/admin/orders/ORD-1/status",
			body:     `{"status": "Confirmed"}`,
			key:      "admin-key",
			wantCode: http.StatusOK,
		},
		{
			name:     "unknown status",
			method:   http.MethodPatch,
			target:   "/api/admin/orders/ORD-1/status",
			body:     `{"status": "Lost"}`,
			key:      "admin-key",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "illegal transition",
			method:   http.MethodPatch,
			target:   "/api/admin/orders/ORD-1/status",
			body:     `{"status": "Delivered"}`,
			key:      "admin-key",
			err:      &order.TransitionError{From: order.StatusPending, To: order.StatusDelivered},
			wantCode: http.StatusConflict,
		},
		{
			name:     "ship without tracking",
			method:   http.MethodPut,
			target:   "/api/admin/orders/ORD-1/shipping",
			body:     `{"courierName": "Pathao"}`,
			key:      "admin-key",
			err:      order.ErrMissingTrackingID,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "ship",
			method:   http.MethodPut,
			target:   "/api/admin/orders/ORD-1/shipping",
			body:     `{"courierName": "Pathao", "trackingId": "T1"}`,
			key:      "admin-key",
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrders{order: o, err: tt.err}
			h := newTestHandler(&mockCheckout{}, orders, &mockProducts{})

			var headers []string
			if tt.key != "" {
				headers = []string{APIKeyHeader, tt.key}
			}
			w := do(t, h, tt.method, tt.target, tt.body, headers...)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRequestRefund(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "accepted", wantCode: http.StatusOK},
		{name: "not owner", err: order.ErrNotOwner, wantCode: http.StatusForbidden},
		{name: "not allowed", err: order.ErrRefundNotAllowed, wantCode: http.StatusConflict},
		{name: "already requested", err: order.ErrRefundRequested, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrders{order: &order.Order{ID: "ORD-1"}, err: tt.err}
			h := newTestHandler(&mockCheckout{}, orders, &mockProducts{})

			w := do(t, h, http.MethodPost, "/api/orders/ORD-1/refund",
				`{"email": "rahim@example.com", "reason": "damaged"}`)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}
