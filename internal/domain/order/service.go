package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for buyer and admin operations.
var (
	ErrNotOwner          = errors.New("order belongs to another buyer")
	ErrRefundNotAllowed  = errors.New("refund cannot be requested for this order")
	ErrRefundRequested   = errors.New("refund already requested")
	ErrMissingTrackingID = errors.New("tracking id required")
)

// Service encapsulates post-payment order operations performed by buyers and
// admins. Orders themselves are only created by the checkout flow.
type Service struct {
	orders Repository
	now    func() time.Time
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{orders: orders, now: time.Now}
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListForBuyer returns the orders placed with the given email.
func (s *Service) ListForBuyer(ctx context.Context, email string) ([]Order, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	orders, err := s.orders.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Transition moves an order to next when the state machine allows it.
func (s *Service) Transition(ctx context.Context, id string, next Status) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !o.Status.CanTransition(next) {
		return nil, &TransitionError{From: o.Status, To: next}
	}
	if err := s.orders.UpdateStatus(ctx, id, o.Status, next); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	o.Status = next
	o.UpdatedAt = s.now()
	return o, nil
}

// Ship records courier details and moves a confirmed order to Shipped.
func (s *Service) Ship(ctx context.Context, id, courier, trackingID string) (*Order, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, ErrMissingTrackingID
	}

	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !o.Status.CanTransition(StatusShipped) {
		return nil, &TransitionError{From: o.Status, To: StatusShipped}
	}

	now := s.now()
	shipment := Shipment{CourierName: courier, TrackingID: trackingID, ShippedAt: &now}
	if err := s.orders.SetShipment(ctx, id, shipment); err != nil {
		return nil, fmt.Errorf("set shipment: %w", err)
	}
	if err := s.orders.UpdateStatus(ctx, id, o.Status, StatusShipped); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	o.Shipment = shipment
	o.Status = StatusShipped
	o.UpdatedAt = now
	return o, nil
}

// RequestRefund records a buyer refund request. Only the buyer who placed the
// order may ask, and only once the order was cancelled, delivered or
// returned.
func (s *Service) RequestRefund(ctx context.Context, id, email, reason string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !strings.EqualFold(o.Email, strings.TrimSpace(email)) {
		return nil, ErrNotOwner
	}
	if o.Refund.Requested {
		return nil, ErrRefundRequested
	}
	switch o.Status {
	case StatusCancelled, StatusDelivered, StatusReturned:
	default:
		return nil, ErrRefundNotAllowed
	}

	now := s.now()
	refund := Refund{Requested: true, Reason: strings.TrimSpace(reason), RequestedAt: &now}
	if err := s.orders.SetRefund(ctx, id, refund); err != nil {
		return nil, fmt.Errorf("set refund: %w", err)
	}
	o.Refund = refund
	o.UpdatedAt = now
	return o, nil
}
