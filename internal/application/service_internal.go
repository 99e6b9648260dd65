package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// VerifySessionToken checks a token issued for orderID against the order's current
// binding. Tokens from is-valid are signed without the email and are accepted too.
func (s *Service) VerifySessionToken(ctx context.Context, orderID, token string) (ports.SessionClaims, error) {
	id, err := required("order_id", orderID)
	if err != nil {
		return ports.SessionClaims{}, err
	}
	if strings.TrimSpace(token) == "" {
		return ports.SessionClaims{}, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return ports.SessionClaims{}, err
	}

	claims, err := s.tokens.Parse(token, domain.SessionKeyFor(order, true))
	if err != nil {
		claims, err = s.tokens.Parse(token, domain.SessionKeyFor(order, false))
	}
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("%w: invalid session token", domain.ErrUnauthorized)
	}
	if claims.OrderID != order.OrderID || claims.DeviceHash != order.DeviceHash {
		return ports.SessionClaims{}, fmt.Errorf("%w: token does not match order binding", domain.ErrUnauthorized)
	}
	return claims, nil
}

func (s *Service) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	id, err := required("order_id", orderID)
	if err != nil {
		return OrderStatus{}, err
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return OrderStatus{}, err
	}
	return s.toOrderStatus(order), nil
}

// ExtendSubscription marks the order as subscribed until the given time.
func (s *Service) ExtendSubscription(ctx context.Context, req ExtendSubscriptionRequest) (OrderStatus, error) {
	id, err := required("order_id", req.OrderID)
	if err != nil {
		return OrderStatus{}, err
	}
	now := s.nowFn()
	if !req.ExpireTime.After(now) {
		return OrderStatus{}, fmt.Errorf("%w: expire_time must be in the future", domain.ErrInvalidInput)
	}
	expireTime := req.ExpireTime.UTC()
	event := s.newEvent(domain.EventSubscriptionExtended, id, map[string]any{
		"order_id":    id,
		"expire_time": expireTime,
	})
	order, err := s.orders.ExtendSubscription(ctx, ports.ExtendSubscriptionParams{
		OrderID:    id,
		ExpireTime: expireTime,
		PaidStatus: domain.PaidStatusSubscribed,
		UpdatedAt:  now,
	}, event)
	if err != nil {
		return OrderStatus{}, err
	}
	return s.toOrderStatus(order), nil
}

func (s *Service) toOrderStatus(order domain.Order) OrderStatus {
	return OrderStatus{
		OrderID:        order.OrderID,
		ToolCode:       order.ToolCode,
		Email:          order.Email,
		PaidStatus:     order.PaidStatus.String(),
		Active:         order.IsActive(s.nowFn()),
		TOTPEnabled:    order.TOTPEnabled,
		ExpireTime:     order.ExpireTime,
		LastRebindTime: order.LastRebindTime,
	}
}
