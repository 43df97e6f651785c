package repository

import (
	"errors"
	"time"

	"mailflow-backend/internal/mailbox/domain"
)

// ErrNotCancellable reports a cancel attempt on a send that already left the
// pending state.
var ErrNotCancellable = errors.New("scheduled send is no longer pending")

// ScheduledSendRepository defines persistence for deferred sends.
type ScheduledSendRepository interface {
	Create(send *domain.ScheduledSend) error
	FindByID(id string) (*domain.ScheduledSend, error)

	// ClaimDue atomically transitions due pending rows to processing and
	// returns them. Rows stuck in processing longer than recoveryWindow are
	// reclaimed too: a crash mid-delivery must not leave them ambiguous.
	ClaimDue(now time.Time, recoveryWindow time.Duration) ([]*domain.ScheduledSend, error)

	MarkSent(id string) error
	MarkFailed(id, reason string) error

	// Cancel moves a pending send to cancelled. Returns ErrNotCancellable if
	// delivery already started.
	Cancel(id string) error

	DeleteTerminalOlderThan(cutoff time.Time) (int64, error)
}
