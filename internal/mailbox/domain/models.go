package domain

import "time"

// Provider types for connected accounts
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// MailboxAccount is one connected provider account. Cursor is the opaque
// provider position marker (Gmail history id, IMAP uidvalidity:uidnext) and
// is only ever advanced, never rewound.
type MailboxAccount struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	UserID        string     `json:"user_id" gorm:"index;not null"`
	Provider      string     `json:"provider" gorm:"not null"`
	Email         string     `json:"email" gorm:"uniqueIndex;not null"`
	AccessToken   string     `json:"-"`
	RefreshToken  string     `json:"-"`
	IMAPHost      string     `json:"-"`
	IMAPPassword  string     `json:"-"`
	Cursor        string     `json:"cursor"`
	WatchExpiry   *time.Time `json:"watch_expiry"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	LastSyncError string     `json:"last_sync_error"`
	NeedsFullSync bool       `json:"needs_full_sync" gorm:"default:false"`
	Disconnected  bool       `json:"disconnected" gorm:"default:false"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// InboundChangeEvent is a decoded push notification. It lives only for the
// duration of one resolution pass and is never persisted.
type InboundChangeEvent struct {
	EmailAddress string
	Cursor       string
	ReceivedAt   time.Time
}

// Enrichment status values for CanonicalMessage
const (
	EnrichmentPending = "pending"
	EnrichmentDone    = "done"
	EnrichmentFailed  = "failed"
	EnrichmentSkipped = "skipped"
)

// CanonicalMessage is the durable email record. The composite unique index on
// (account_id, provider_message_id) is what makes ingestion idempotent: the
// push path and the poll backstop can both try to insert the same message and
// the second attempt is treated as success.
type CanonicalMessage struct {
	ID                string     `json:"id" gorm:"primaryKey"`
	UserID            string     `json:"user_id" gorm:"index;not null"`
	AccountID         string     `json:"account_id" gorm:"uniqueIndex:idx_account_provider_msg;not null"`
	ProviderMessageID string     `json:"provider_message_id" gorm:"uniqueIndex:idx_account_provider_msg;not null"`
	ThreadID          string     `json:"thread_id" gorm:"index"`
	FromAddress       string     `json:"from_address"`
	ToAddresses       string     `json:"to_addresses"`
	CcAddresses       string     `json:"cc_addresses"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	ReceivedAt        time.Time  `json:"received_at"`
	EnrichmentStatus  string     `json:"enrichment_status" gorm:"default:pending;index"`
	EnrichmentRetries int        `json:"enrichment_retries" gorm:"default:0"`
	Summary           string     `json:"summary"`
	Category          string     `json:"category"`
	EnrichedAt        *time.Time `json:"enriched_at"`
	IngestedAt        time.Time  `json:"ingested_at"`
}

// ScheduledSend states
const (
	SendPending    = "pending"
	SendProcessing = "processing"
	SendSent       = "sent"
	SendFailed     = "failed"
	SendCancelled  = "cancelled"
)

// ScheduledSend is a send request with a deferred commit window. Legal
// transitions: pending -> processing -> sent|failed, pending -> cancelled.
// ProcessingAt supports crash recovery: a row stuck in processing past the
// recovery window is reclaimed by the next delivery tick.
type ScheduledSend struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	AccountID    string     `json:"account_id" gorm:"index;not null"`
	ToAddresses  string     `json:"to_addresses"`
	CcAddresses  string     `json:"cc_addresses"`
	BccAddresses string     `json:"bcc_addresses"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	SendAt       time.Time  `json:"send_at" gorm:"index;not null"`
	Status       string     `json:"status" gorm:"default:pending;index"`
	ErrorReason  string     `json:"error_reason"`
	ProcessingAt *time.Time `json:"processing_at"`
	SentAt       *time.Time `json:"sent_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EngagementStat is a per-sender derived metric recomputed by the engagement
// refresh task. High-volume senders the user never engages with get flagged
// as unsubscribe candidates.
type EngagementStat struct {
	ID                   string    `json:"id" gorm:"primaryKey"`
	AccountID            string    `json:"account_id" gorm:"uniqueIndex:idx_account_sender;not null"`
	SenderAddress        string    `json:"sender_address" gorm:"uniqueIndex:idx_account_sender;not null"`
	ReceivedCount        int       `json:"received_count"`
	RecommendUnsubscribe bool      `json:"recommend_unsubscribe" gorm:"default:false"`
	ComputedAt           time.Time `json:"computed_at"`
}

// DeviceToken maps a user to one of their registered push targets.
type DeviceToken struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Token     string    `json:"token" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
