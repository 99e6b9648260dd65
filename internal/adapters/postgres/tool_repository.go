package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type toolRepository struct {
	db *gorm.DB
}

func (r *toolRepository) GetByCode(ctx context.Context, code string) (domain.Tool, error) {
	var row toolModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		return domain.Tool{}, mapError(err)
	}
	return domain.Tool{Code: row.Code, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

// Upsert inserts the tool or refreshes its display name.
func (r *toolRepository) Upsert(ctx context.Context, tool domain.Tool) error {
	row := toolModel{Code: tool.Code, Name: tool.Name, CreatedAt: tool.CreatedAt}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&row).Error
}
