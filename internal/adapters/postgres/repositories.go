package postgres

import (
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Orders ports.OrderRepository
	Tools  ports.ToolRepository
	Outbox ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Orders: &orderRepository{db: db},
		Tools:  &toolRepository{db: db},
		Outbox: &outboxRepository{db: db},
	}
}
