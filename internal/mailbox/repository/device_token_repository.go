package repository

import (
	"mailflow-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceTokenRepository defines persistence for push notification tokens.
type DeviceTokenRepository interface {
	Save(userID, token string) error
	GetTokensByUserID(userID string) ([]string, error)
	DeleteToken(token string) error
}

// deviceTokenRepository implements DeviceTokenRepository interface
type deviceTokenRepository struct {
	db *gorm.DB
}

// NewDeviceTokenRepository creates a new instance of deviceTokenRepository
func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// Save registers a token for a user. Re-registering an existing token moves
// it to the new user rather than duplicating it.
func (r *deviceTokenRepository) Save(userID, token string) error {
	var existing domain.DeviceToken
	err := r.db.Where("token = ?", token).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.Create(&domain.DeviceToken{
			ID:     uuid.New().String(),
			UserID: userID,
			Token:  token,
		}).Error
	}
	if err != nil {
		return err
	}

	existing.UserID = userID
	return r.db.Save(&existing).Error
}

func (r *deviceTokenRepository) GetTokensByUserID(userID string) ([]string, error) {
	var tokens []string
	err := r.db.Model(&domain.DeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	return tokens, err
}

func (r *deviceTokenRepository) DeleteToken(token string) error {
	return r.db.Where("token = ?", token).Delete(&domain.DeviceToken{}).Error
}
