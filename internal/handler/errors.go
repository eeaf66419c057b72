package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/domain/payment"
	"github.com/xenking/storefront-pay/internal/domain/seller"
)

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, errorResponse{Code: code, Message: msg})
}

// writeError maps domain errors to HTTP responses. Unexpected errors are
// logged and reported as 500 without details.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *payment.ValidationError
		transitionErr *order.TransitionError
	)
	switch {
	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: validationErr.Error(),
			Field:   validationErr.Field,
		})
	case errors.Is(err, payment.ErrDuplicateReference):
		abort(c, http.StatusConflict, "payment reference already used")
	case errors.Is(err, seller.ErrAlreadyRegistered):
		abort(c, http.StatusConflict, "seller already registered")
	case errors.Is(err, checkout.ErrGateway):
		abort(c, http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, order.ErrNotFound):
		abort(c, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrNotOwner):
		abort(c, http.StatusForbidden, err.Error())
	case errors.As(err, &transitionErr):
		abort(c, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, order.ErrStaleStatus),
		errors.Is(err, order.ErrRefundNotAllowed),
		errors.Is(err, order.ErrRefundRequested):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrMissingTrackingID):
		abort(c, http.StatusBadRequest, err.Error())
	default:
		zctx.From(c.Request.Context()).Error("Request failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, "internal error")
	}
}
