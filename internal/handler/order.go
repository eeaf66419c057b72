package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
)

type orderResponse struct {
	OrderID         string             `json:"orderId"`
	Reference       string             `json:"reference"`
	Email           string             `json:"email"`
	Customer        payment.Customer   `json:"customer"`
	Products        []payment.CartItem `json:"products"`
	Note            string             `json:"note,omitempty"`
	Shipping        string             `json:"shipping"`
	Subtotal        string             `json:"subtotal"`
	TotalAmount     string             `json:"totalAmount"`
	AdvancePaid     string             `json:"advancePaid"`
	DueAmount       string             `json:"dueAmount"`
	TransactionID   string             `json:"transactionId"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentStatus   string             `json:"paymentStatus"`
	OrderStatus     string             `json:"orderStatus"`
	CourierName     string             `json:"courierName,omitempty"`
	TrackingID      string             `json:"trackingId,omitempty"`
	ShippedAt       *time.Time         `json:"shippedAt,omitempty"`
	RefundRequested bool               `json:"refundRequested"`
	RefundReason    string             `json:"refundReason,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		OrderID:         o.ID,
		Reference:       o.Reference,
		Email:           o.Email,
		Customer:        o.Customer,
		Products:        o.Items,
		Note:            o.Note,
		Shipping:        o.Shipping.StringFixed(2),
		Subtotal:        o.Subtotal.StringFixed(2),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		AdvancePaid:     o.AdvancePaid.StringFixed(2),
		DueAmount:       o.DueAmount.StringFixed(2),
		TransactionID:   o.TransactionID,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		OrderStatus:     string(o.Status),
		CourierName:     o.Shipment.CourierName,
		TrackingID:      o.Shipment.TrackingID,
		ShippedAt:       o.Shipment.ShippedAt,
		RefundRequested: o.Refund.Requested,
		RefundReason:    o.Refund.Reason,
		CreatedAt:       o.CreatedAt,
	}
}

// ListOrders handles GET /api/orders?email=.
func (h *Handler) ListOrders(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		writeError(c, &payment.ValidationError{Field: "email", Reason: "required"})
		return
	}
	orders, err := h.orders.ListForBuyer(c.Request.Context(), email)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = newOrderResponse(&orders[i])
	}
	c.JSON(http.StatusOK, out)
}

// GetOrder handles GET /api/orders/:orderId.
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus handles PATCH /api/admin/orders/:orderId/status.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &payment.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	next, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(c, &payment.ValidationError{Field: "status", Reason: err.Error()})
		return
	}
	o, err := h.orders.Transition(c.Request.Context(), c.Param("orderId"), next)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

type shippingRequest struct {
	CourierName string `json:"courierName"`
	TrackingID  string `json:"trackingId"`
}

// ShipOrder handles PUT /api/admin/orders/:orderId/shipping.
func (h *Handler) ShipOrder(c *gin.Context) {
	var req shippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &payment.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	o, err := h.orders.Ship(c.Request.Context(), c.Param("orderId"), req.CourierName, req.TrackingID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

type refundRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// RequestRefund handles POST /api/orders/:orderId/refund.
func (h *Handler) RequestRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &payment.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	o, err := h.orders.RequestRefund(c.Request.Context(), c.Param("orderId"), req.Email, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}
