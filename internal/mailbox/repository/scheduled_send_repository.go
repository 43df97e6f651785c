package repository

import (
	"time"

	"mailflow-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// scheduledSendRepository implements ScheduledSendRepository interface
type scheduledSendRepository struct {
	db *gorm.DB
}

// NewScheduledSendRepository creates a new instance of scheduledSendRepository
func NewScheduledSendRepository(db *gorm.DB) ScheduledSendRepository {
	return &scheduledSendRepository{db: db}
}

func (r *scheduledSendRepository) Create(send *domain.ScheduledSend) error {
	if send.ID == "" {
		send.ID = uuid.New().String()
	}
	if send.Status == "" {
		send.Status = domain.SendPending
	}
	return r.db.Create(send).Error
}

func (r *scheduledSendRepository) FindByID(id string) (*domain.ScheduledSend, error) {
	var send domain.ScheduledSend
	err := r.db.Where("id = ?", id).First(&send).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &send, nil
}

func (r *scheduledSendRepository) ClaimDue(now time.Time, recoveryWindow time.Duration) ([]*domain.ScheduledSend, error) {
	var claimed []*domain.ScheduledSend
	stuckBefore := now.Add(-recoveryWindow)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var due []*domain.ScheduledSend
		if err := tx.
			Where("(status = ? AND send_at <= ?) OR (status = ? AND processing_at < ?)",
				domain.SendPending, now, domain.SendProcessing, stuckBefore).
			Order("send_at ASC").
			Find(&due).Error; err != nil {
			return err
		}

		for _, send := range due {
			result := tx.Model(&domain.ScheduledSend{}).
				Where("id = ? AND status = ?", send.ID, send.Status).
				Updates(map[string]interface{}{
					"status":        domain.SendProcessing,
					"processing_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			// Another tick claimed it between the select and the update.
			if result.RowsAffected == 0 {
				continue
			}
			send.Status = domain.SendProcessing
			send.ProcessingAt = &now
			claimed = append(claimed, send)
		}
		return nil
	})

	return claimed, err
}

func (r *scheduledSendRepository) MarkSent(id string) error {
	now := time.Now()
	return r.db.Model(&domain.ScheduledSend{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.SendSent,
			"sent_at":      now,
			"error_reason": "",
		}).Error
}

func (r *scheduledSendRepository) MarkFailed(id, reason string) error {
	return r.db.Model(&domain.ScheduledSend{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.SendFailed,
			"error_reason": reason,
		}).Error
}

func (r *scheduledSendRepository) Cancel(id string) error {
	result := r.db.Model(&domain.ScheduledSend{}).
		Where("id = ? AND status = ?", id, domain.SendPending).
		Update("status", domain.SendCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotCancellable
	}
	return nil
}

func (r *scheduledSendRepository) DeleteTerminalOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("status IN ?", []string{domain.SendSent, domain.SendFailed, domain.SendCancelled}).
		Where("updated_at < ?", cutoff).
		Delete(&domain.ScheduledSend{})
	return result.RowsAffected, result.Error
}
