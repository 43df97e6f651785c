package repository

import (
	"errors"
	"time"

	"mailflow-backend/internal/mailbox/domain"
)

// ErrDuplicateMessage reports that a message with the same
// (account_id, provider_message_id) already exists. Callers treat it as
// success: idempotent ingestion is a designed property, not a failure.
var ErrDuplicateMessage = errors.New("message already ingested")

// SenderCount is one row of the per-sender volume aggregation.
type SenderCount struct {
	SenderAddress string
	Count         int
}

// MessageRepository defines persistence for canonical messages.
type MessageRepository interface {
	// Create inserts a message, returning ErrDuplicateMessage when the
	// uniqueness constraint rejects it.
	Create(msg *domain.CanonicalMessage) error
	Exists(accountID, providerMessageID string) (bool, error)
	FindByProviderID(accountID, providerMessageID string) (*domain.CanonicalMessage, error)

	// ListUnenriched returns a bounded batch of messages still awaiting
	// enrichment, oldest first, excluding ones retried past maxRetries.
	ListUnenriched(limit, maxRetries int) ([]*domain.CanonicalMessage, error)
	MarkEnriched(id, summary, category string) error
	MarkEnrichmentFailed(id string) error
	MarkEnrichmentSkipped(id string) error

	// ListSenderCounts aggregates received-message volume per sender for one
	// account since the given time.
	ListSenderCounts(accountID string, since time.Time) ([]SenderCount, error)
	// AccountIDsWithActivitySince returns accounts that ingested messages
	// after the given time.
	AccountIDsWithActivitySince(since time.Time) ([]string, error)

	DeleteOlderThan(cutoff time.Time) (int64, error)
}
