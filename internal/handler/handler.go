// Package handler exposes the checkout, seller registration, order and
// catalog operations over HTTP.
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/product"
)

// Checkout is the payment saga used by the handlers.
type Checkout interface {
	Initiate(ctx context.Context, req checkout.Request) (*checkout.InitiateResult, error)
	HandleCallback(ctx context.Context, p checkout.CallbackParams) checkout.Outcome
	InitiateRegistration(ctx context.Context, req checkout.RegistrationRequest) (*checkout.InitiateResult, error)
	HandleRegistrationCallback(ctx context.Context, p checkout.CallbackParams) checkout.Outcome
}

var (
	_ Checkout = (*checkout.Service)(nil)
	_ Orders   = (*order.Service)(nil)
)

// Orders is the post-payment order management used by the handlers.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	ListForBuyer(ctx context.Context, email string) ([]order.Order, error)
	Transition(ctx context.Context, id string, next order.Status) (*order.Order, error)
	Ship(ctx context.Context, id, courier, trackingID string) (*order.Order, error)
	RequestRefund(ctx context.Context, id, email, reason string) (*order.Order, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ProductsAPIKey guards the catalog listing.
	ProductsAPIKey string
	// AdminAPIKey guards order administration.
	AdminAPIKey string
	// ProductPageSize caps the catalog listing.
	ProductPageSize int
}

// Handler serves the HTTP API.
type Handler struct {
	checkout Checkout
	orders   Orders
	products product.Repository
	cfg      Config
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, co Checkout, orders Orders, products product.Repository) *Handler {
	if cfg.ProductPageSize <= 0 {
		cfg.ProductPageSize = 100
	}
	return &Handler{
		checkout: co,
		orders:   orders,
		products: products,
		cfg:      cfg,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.POST("/checkout/bkash", h.InitiateCheckout)
	api.GET("/checkout/bkash/callback", h.CheckoutCallback)
	api.POST("/seller/register/bkash", h.InitiateRegistration)
	api.GET("/seller/register/bkash/callback", h.RegistrationCallback)

	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:orderId", h.GetOrder)
	api.POST("/orders/:orderId/refund", h.RequestRefund)

	api.GET("/products", RequireAPIKey(h.cfg.ProductsAPIKey), h.ListProducts)

	admin := api.Group("/admin", RequireAPIKey(h.cfg.AdminAPIKey))
	admin.PATCH("/orders/:orderId/status", h.UpdateOrderStatus)
	admin.PUT("/orders/:orderId/shipping", h.ShipOrder)
}

// Engine returns a gin engine with the routes mounted. Logging and
// recovery are left to the surrounding net/http middleware.
func (h *Handler) Engine() *gin.Engine {
	e := gin.New()
	e.HandleMethodNotAllowed = true
	h.Register(e)
	return e
}
