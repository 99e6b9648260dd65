package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Store keeps orders, tools and outbox rows in process memory with the same
// uniqueness and guarded-update rules as the Postgres schema.
type Store struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	tools  map[string]domain.Tool
	outbox *Outbox
}

func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		tools:  make(map[string]domain.Tool),
		outbox: NewOutbox(),
	}
}

// Outbox exposes the events written alongside order mutations.
func (s *Store) Outbox() *Outbox { return s.outbox }

func (s *Store) Create(_ context.Context, order domain.Order, event ports.OutboxEvent) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.OrderID]; ok {
		return domain.Order{}, domain.ErrConflict
	}
	if err := s.checkUniqueLocked(order); err != nil {
		return domain.Order{}, err
	}
	s.orders[order.OrderID] = order
	s.outbox.append(event)
	return order, nil
}

func (s *Store) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (s *Store) GetByToolDevice(_ context.Context, toolCode, deviceHash string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.ToolCode == toolCode && order.DeviceHash == deviceHash {
			return order, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *Store) GetByToolEmail(_ context.Context, toolCode, email string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Email != "" && order.ToolCode == toolCode && order.Email == email {
			return order, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *Store) SetPendingTOTPSecret(_ context.Context, orderID, secret string, at time.Time) error {
	return s.update(orderID, func(o *domain.Order) error {
		o.PendingTOTPSecret = secret
		o.UpdatedAt = at
		return nil
	})
}

func (s *Store) ConfirmTOTP(_ context.Context, params ports.ConfirmTOTPParams, event ports.OutboxEvent) (domain.Order, error) {
	var out domain.Order
	err := s.update(params.OrderID, func(o *domain.Order) error {
		if o.PendingTOTPSecret != params.Secret || params.Step <= o.TOTPLastStep {
			return domain.ErrConflict
		}
		candidate := *o
		candidate.Email = params.Email
		if err := s.checkUniqueLocked(candidate); err != nil {
			return err
		}
		o.Email = params.Email
		o.TOTPSecret = params.Secret
		o.PendingTOTPSecret = ""
		o.TOTPEnabled = true
		o.TOTPLastStep = params.Step
		o.UpdatedAt = params.ConfirmedAt
		out = *o
		s.outbox.append(event)
		return nil
	})
	return out, err
}

func (s *Store) ConsumeTOTPStep(_ context.Context, orderID string, step int64, at time.Time) error {
	return s.update(orderID, func(o *domain.Order) error {
		if step <= o.TOTPLastStep {
			return domain.ErrConflict
		}
		o.TOTPLastStep = step
		o.UpdatedAt = at
		return nil
	})
}

func (s *Store) SetEmailCode(_ context.Context, orderID, codeHash string, expiresAt, at time.Time) error {
	return s.update(orderID, func(o *domain.Order) error {
		o.EmailCodeHash = codeHash
		o.EmailCodeExpire = &expiresAt
		o.UpdatedAt = at
		return nil
	})
}

func (s *Store) ConsumeEmailCode(_ context.Context, orderID, codeHash string, at time.Time) error {
	return s.update(orderID, func(o *domain.Order) error {
		if o.EmailCodeHash == "" || o.EmailCodeHash != codeHash {
			return domain.ErrConflict
		}
		o.EmailCodeHash = ""
		o.EmailCodeExpire = nil
		o.UpdatedAt = at
		return nil
	})
}

func (s *Store) StartTrial(_ context.Context, orderID string, expireTime, at time.Time) (domain.Order, error) {
	var out domain.Order
	err := s.update(orderID, func(o *domain.Order) error {
		if o.ExpireTime != nil {
			return domain.ErrConflict
		}
		o.ExpireTime = &expireTime
		o.UpdatedAt = at
		out = *o
		return nil
	})
	return out, err
}

func (s *Store) ExtendSubscription(_ context.Context, params ports.ExtendSubscriptionParams, event ports.OutboxEvent) (domain.Order, error) {
	var out domain.Order
	err := s.update(params.OrderID, func(o *domain.Order) error {
		expireTime := params.ExpireTime
		o.ExpireTime = &expireTime
		o.PaidStatus = params.PaidStatus
		o.UpdatedAt = params.UpdatedAt
		out = *o
		s.outbox.append(event)
		return nil
	})
	return out, err
}

// Rebind drops any other order already holding (tool, new device) and moves the
// order there, provided no rebind ran after the cooldown cutoff.
func (s *Store) Rebind(_ context.Context, params ports.RebindParams, event ports.OutboxEvent) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[params.OrderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if order.ToolCode != params.ToolCode {
		return domain.Order{}, fmt.Errorf("%w: tool mismatch", domain.ErrConflict)
	}
	if order.LastRebindTime != nil && order.LastRebindTime.After(params.CooldownCutoff) {
		return domain.Order{}, domain.ErrConflict
	}

	for id, other := range s.orders {
		if id != order.OrderID && other.ToolCode == params.ToolCode && other.DeviceHash == params.NewDeviceHash {
			delete(s.orders, id)
		}
	}
	reboundAt := params.ReboundAt
	order.DeviceHash = params.NewDeviceHash
	order.LastRebindTime = &reboundAt
	order.UpdatedAt = reboundAt
	s.orders[order.OrderID] = order
	s.outbox.append(event)
	return order, nil
}

func (s *Store) update(orderID string, mutate func(*domain.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := mutate(&order); err != nil {
		return err
	}
	s.orders[orderID] = order
	return nil
}

func (s *Store) checkUniqueLocked(candidate domain.Order) error {
	for id, other := range s.orders {
		if id == candidate.OrderID || other.ToolCode != candidate.ToolCode {
			continue
		}
		if candidate.DeviceHash != "" && other.DeviceHash == candidate.DeviceHash {
			return fmt.Errorf("%w: device already bound for tool", domain.ErrConflict)
		}
		if candidate.Email != "" && other.Email == candidate.Email {
			return fmt.Errorf("%w: email already bound for tool", domain.ErrConflict)
		}
	}
	return nil
}

func (s *Store) GetByCode(_ context.Context, code string) (domain.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tool, ok := s.tools[code]
	if !ok {
		return domain.Tool{}, domain.ErrNotFound
	}
	return tool, nil
}

func (s *Store) Upsert(_ context.Context, tool domain.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tools[tool.Code]; ok && tool.CreatedAt.IsZero() {
		tool.CreatedAt = existing.CreatedAt
	}
	s.tools[tool.Code] = tool
	return nil
}
