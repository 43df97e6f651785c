package repository

import (
	"time"

	"mailflow-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EngagementRepository defines persistence for derived per-sender metrics.
type EngagementRepository interface {
	Upsert(stat *domain.EngagementStat) error
	ListByAccount(accountID string) ([]*domain.EngagementStat, error)
	ListRecommended(accountID string) ([]*domain.EngagementStat, error)
}

// engagementRepository implements EngagementRepository interface
type engagementRepository struct {
	db *gorm.DB
}

// NewEngagementRepository creates a new instance of engagementRepository
func NewEngagementRepository(db *gorm.DB) EngagementRepository {
	return &engagementRepository{db: db}
}

func (r *engagementRepository) Upsert(stat *domain.EngagementStat) error {
	var existing domain.EngagementStat
	err := r.db.Where("account_id = ? AND sender_address = ?", stat.AccountID, stat.SenderAddress).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		stat.ID = uuid.New().String()
		stat.ComputedAt = time.Now()
		return r.db.Create(stat).Error
	}
	if err != nil {
		return err
	}

	existing.ReceivedCount = stat.ReceivedCount
	existing.RecommendUnsubscribe = stat.RecommendUnsubscribe
	existing.ComputedAt = time.Now()
	return r.db.Save(&existing).Error
}

func (r *engagementRepository) ListByAccount(accountID string) ([]*domain.EngagementStat, error) {
	var stats []*domain.EngagementStat
	err := r.db.Where("account_id = ?", accountID).
		Order("received_count DESC").
		Find(&stats).Error
	return stats, err
}

func (r *engagementRepository) ListRecommended(accountID string) ([]*domain.EngagementStat, error) {
	var stats []*domain.EngagementStat
	err := r.db.Where("account_id = ? AND recommend_unsubscribe = ?", accountID, true).
		Order("received_count DESC").
		Find(&stats).Error
	return stats, err
}
