package repository

import (
	"time"

	"mailflow-backend/internal/mailbox/domain"
)

// AccountRepository defines persistence for connected mailbox accounts.
type AccountRepository interface {
	Create(account *domain.MailboxAccount) error
	FindByID(id string) (*domain.MailboxAccount, error)
	// FindByEmail resolves the provider-reported identity of a push event.
	// Returns (nil, nil) when no account matches.
	FindByEmail(email string) (*domain.MailboxAccount, error)
	Update(account *domain.MailboxAccount) error

	// ListWatchExpiring returns connected, syncable accounts whose watch
	// expires before the given time (or was never established).
	ListWatchExpiring(before time.Time) ([]*domain.MailboxAccount, error)

	// ListNeedingReconciliation returns accounts flagged for a full sync or
	// whose last successful sync is older than staleBefore.
	ListNeedingReconciliation(staleBefore time.Time) ([]*domain.MailboxAccount, error)

	// AdvanceCursor moves the stored cursor from 'from' to 'to'. The update
	// only applies while the stored cursor still equals 'from'; returns false
	// when a concurrent resolution advanced it first.
	AdvanceCursor(accountID, from, to string) (bool, error)

	SetWatch(accountID, cursor string, expiry time.Time) error
	FlagFullSync(accountID string, flag bool) error
	RecordSyncError(accountID, message string) error
	RecordSyncSuccess(accountID string) error
	MarkDisconnected(accountID string) error
	SaveTokens(accountID, accessToken, refreshToken string) error
}
