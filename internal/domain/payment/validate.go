package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed checkout payload field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks that the payload is complete and internally consistent.
// The total must equal subtotal plus shipping and the subtotal must match the
// cart lines.
func (p *Pending) Validate() error {
	if err := ValidateReference(p.Reference); err != nil {
		return &ValidationError{Field: "reference", Reason: err.Error()}
	}
	if strings.TrimSpace(p.UserEmail) == "" {
		return &ValidationError{Field: "userEmail", Reason: "required"}
	}
	if strings.TrimSpace(p.Customer.Name) == "" {
		return &ValidationError{Field: "customer.name", Reason: "required"}
	}
	if strings.TrimSpace(p.Customer.Phone) == "" {
		return &ValidationError{Field: "customer.phone", Reason: "required"}
	}
	if len(p.Items) == 0 {
		return &ValidationError{Field: "cartItems", Reason: "at least one item required"}
	}
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return &ValidationError{Field: "paymentMethod", Reason: err.Error()}
	}

	lines := decimal.Zero
	for i, item := range p.Items {
		if item.ProductID == "" {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].productId", i), Reason: "required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].quantity", i), Reason: "must be greater than 0"}
		}
		if item.Price.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].price", i), Reason: "must not be negative"}
		}
		lines = lines.Add(item.LineTotal())
	}

	if p.Shipping.IsNegative() {
		return &ValidationError{Field: "shipping", Reason: "must not be negative"}
	}
	if !p.Subtotal.IsPositive() {
		return &ValidationError{Field: "subtotal", Reason: "must be greater than 0"}
	}
	if !p.Subtotal.Equal(lines) {
		return &ValidationError{Field: "subtotal", Reason: "does not match cart items"}
	}
	if !p.Total.Equal(p.Subtotal.Add(p.Shipping)) {
		return &ValidationError{Field: "total", Reason: "must equal subtotal plus shipping"}
	}
	return nil
}
