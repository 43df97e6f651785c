package repository

import (
	"time"

	"mailflow-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// accountRepository implements AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *domain.MailboxAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.db.Create(account).Error
}

func (r *accountRepository) FindByID(id string) (*domain.MailboxAccount, error) {
	var account domain.MailboxAccount
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByEmail(email string) (*domain.MailboxAccount, error) {
	var account domain.MailboxAccount
	err := r.db.Where("email = ?", email).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Update(account *domain.MailboxAccount) error {
	return r.db.Save(account).Error
}

func (r *accountRepository) ListWatchExpiring(before time.Time) ([]*domain.MailboxAccount, error) {
	var accounts []*domain.MailboxAccount
	err := r.db.
		Where("disconnected = ?", false).
		Where("last_sync_error = ?", "").
		Where("watch_expiry IS NULL OR watch_expiry < ?", before).
		Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) ListNeedingReconciliation(staleBefore time.Time) ([]*domain.MailboxAccount, error) {
	var accounts []*domain.MailboxAccount
	err := r.db.
		Where("disconnected = ?", false).
		Where("needs_full_sync = ? OR last_sync_at IS NULL OR last_sync_at < ?", true, staleBefore).
		Find(&accounts).Error
	return accounts, err
}

// AdvanceCursor is a compare-and-swap on the stored cursor. Two concurrent
// resolutions of overlapping ranges cannot both win, which keeps the cursor
// monotonic without a table lock.
func (r *accountRepository) AdvanceCursor(accountID, from, to string) (bool, error) {
	result := r.db.Model(&domain.MailboxAccount{}).
		Where("id = ? AND cursor = ?", accountID, from).
		Update("cursor", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *accountRepository) SetWatch(accountID, cursor string, expiry time.Time) error {
	updates := map[string]interface{}{
		"watch_expiry": expiry,
	}
	if cursor != "" {
		updates["cursor"] = cursor
	}
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}

func (r *accountRepository) FlagFullSync(accountID string, flag bool) error {
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Update("needs_full_sync", flag).Error
}

func (r *accountRepository) RecordSyncError(accountID, message string) error {
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Update("last_sync_error", message).Error
}

func (r *accountRepository) RecordSyncSuccess(accountID string) error {
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_sync_at":    time.Now(),
			"last_sync_error": "",
		}).Error
}

func (r *accountRepository) MarkDisconnected(accountID string) error {
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"disconnected": true,
			"watch_expiry": nil,
		}).Error
}

func (r *accountRepository) SaveTokens(accountID, accessToken, refreshToken string) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&domain.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}
