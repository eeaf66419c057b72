package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

type cartItemJSON struct {
	ProductID  string            `json:"productId"`
	Title      string            `json:"title"`
	Image      string            `json:"image"`
	Price      decimal.Decimal   `json:"price"`
	Quantity   int               `json:"quantity"`
	Variations map[string]string `json:"variations"`
}

type checkoutRequest struct {
	Reference     string           `json:"reference"`
	Customer      payment.Customer `json:"customerInfo"`
	CartItems     []cartItemJSON   `json:"cartItems"`
	Note          string           `json:"note"`
	Shipping      decimal.Decimal  `json:"shipping"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Total         decimal.Decimal  `json:"total"`
	PaymentMethod string           `json:"paymentMethod"`
	UserEmail     string           `json:"userEmail"`
}

type initiateResponse struct {
	Reference string `json:"reference"`
	PaymentID string `json:"paymentID"`
	BkashURL  string `json:"bkashURL"`
	Amount    string `json:"amount"`
}

func newInitiateResponse(r *checkout.InitiateResult) initiateResponse {
	return initiateResponse{
		Reference: r.Reference,
		PaymentID: r.PaymentID,
		BkashURL:  r.RedirectURL,
		Amount:    r.Amount.StringFixed(2),
	}
}

// InitiateCheckout handles POST /api/checkout/bkash.
func (h *Handler) InitiateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &payment.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	items := make([]payment.CartItem, len(req.CartItems))
	for i, it := range req.CartItems {
		items[i] = payment.CartItem(it)
	}

	res, err := h.checkout.Initiate(c.Request.Context(), checkout.Request{
		Reference: req.Reference,
		Customer:  req.Customer,
		Items:     items,
		Note:      req.Note,
		Shipping:  req.Shipping,
		Subtotal:  req.Subtotal,
		Total:     req.Total,
		Method:    req.PaymentMethod,
		UserEmail: req.UserEmail,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInitiateResponse(res))
}

// CheckoutCallback handles the gateway redirect for checkouts. The buyer is
// always redirected; failures carry a reason in the target URL.
func (h *Handler) CheckoutCallback(c *gin.Context) {
	out := h.checkout.HandleCallback(c.Request.Context(), callbackParams(c))
	redirect(c, out)
}

type registrationRequest struct {
	Reference   string             `json:"reference"`
	Application seller.Application `json:"application"`
}

// InitiateRegistration handles POST /api/seller/register/bkash.
func (h *Handler) InitiateRegistration(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &payment.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	res, err := h.checkout.InitiateRegistration(c.Request.Context(), checkout.RegistrationRequest{
		Reference:   req.Reference,
		Application: req.Application,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInitiateResponse(res))
}

// RegistrationCallback handles the gateway redirect for seller
// registrations.
func (h *Handler) RegistrationCallback(c *gin.Context) {
	out := h.checkout.HandleRegistrationCallback(c.Request.Context(), callbackParams(c))
	redirect(c, out)
}

func callbackParams(c *gin.Context) checkout.CallbackParams {
	return checkout.CallbackParams{
		Reference: c.Query("reference"),
		PaymentID: c.Query("paymentID"),
		Status:    c.Query("status"),
	}
}

func redirect(c *gin.Context, out checkout.Outcome) {
	zctx.From(c.Request.Context()).Info("Callback handled",
		zap.String("result", string(out.Result)),
		zap.String("reason", out.Reason),
		zap.String("reference", c.Query("reference")),
	)
	c.Redirect(http.StatusSeeOther, out.RedirectURL)
}
