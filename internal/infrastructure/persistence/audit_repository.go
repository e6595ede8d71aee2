package persistence

import (
	"context"
	"fmt"

	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAuditRepository stores allocation commit attempts
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Record inserts one audit row
func (r *GormAuditRepository) Record(ctx context.Context, entry appallocation.AuditEntry) error {
	model, err := models.NewLotAllocationAuditModel(entry)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert allocation audit: %w", err)
	}
	return nil
}

// ListByDetail returns up to limit rows for a detail line, newest first
func (r *GormAuditRepository) ListByDetail(ctx context.Context, detailID string, limit int) ([]appallocation.AuditRecord, error) {
	var rows []models.LotAllocationAuditModel
	if err := r.db.WithContext(ctx).
		Where("detail_id = ?", detailID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]appallocation.AuditRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

var (
	_ appallocation.AuditRecorder = (*GormAuditRepository)(nil)
	_ appallocation.AuditReader   = (*GormAuditRepository)(nil)
)
