package repository

import (
	"errors"
	"time"

	"mailflow-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// messageRepository implements MessageRepository interface
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new instance of messageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(msg *domain.CanonicalMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.IngestedAt.IsZero() {
		msg.IngestedAt = time.Now()
	}
	if msg.EnrichmentStatus == "" {
		msg.EnrichmentStatus = domain.EnrichmentPending
	}
	err := r.db.Create(msg).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	return err
}

func (r *messageRepository) Exists(accountID, providerMessageID string) (bool, error) {
	var count int64
	err := r.db.Model(&domain.CanonicalMessage{}).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *messageRepository) FindByProviderID(accountID, providerMessageID string) (*domain.CanonicalMessage, error) {
	var msg domain.CanonicalMessage
	err := r.db.Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListUnenriched(limit, maxRetries int) ([]*domain.CanonicalMessage, error) {
	var msgs []*domain.CanonicalMessage
	err := r.db.
		Where("enrichment_status IN ?", []string{domain.EnrichmentPending, domain.EnrichmentFailed}).
		Where("enrichment_retries < ?", maxRetries).
		Order("ingested_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) MarkEnriched(id, summary, category string) error {
	now := time.Now()
	return r.db.Model(&domain.CanonicalMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enrichment_status": domain.EnrichmentDone,
			"summary":           summary,
			"category":          category,
			"enriched_at":       now,
		}).Error
}

func (r *messageRepository) MarkEnrichmentFailed(id string) error {
	return r.db.Model(&domain.CanonicalMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enrichment_status":  domain.EnrichmentFailed,
			"enrichment_retries": gorm.Expr("enrichment_retries + 1"),
		}).Error
}

func (r *messageRepository) MarkEnrichmentSkipped(id string) error {
	return r.db.Model(&domain.CanonicalMessage{}).
		Where("id = ?", id).
		Update("enrichment_status", domain.EnrichmentSkipped).Error
}

func (r *messageRepository) ListSenderCounts(accountID string, since time.Time) ([]SenderCount, error) {
	var counts []SenderCount
	err := r.db.Model(&domain.CanonicalMessage{}).
		Select("from_address AS sender_address, COUNT(*) AS count").
		Where("account_id = ? AND received_at >= ?", accountID, since).
		Group("from_address").
		Order("count DESC").
		Scan(&counts).Error
	return counts, err
}

func (r *messageRepository) AccountIDsWithActivitySince(since time.Time) ([]string, error) {
	var ids []string
	err := r.db.Model(&domain.CanonicalMessage{}).
		Distinct("account_id").
		Where("ingested_at >= ?", since).
		Pluck("account_id", &ids).Error
	return ids, err
}

func (r *messageRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("received_at < ?", cutoff).Delete(&domain.CanonicalMessage{})
	return result.RowsAffected, result.Error
}
