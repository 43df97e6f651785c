package provider

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy for provider calls. Callers branch on these to pick the
// recovery path: stale cursor -> full reconciliation, expired auth -> one
// token refresh then re-auth flag, permanent -> account marked unsyncable.
var (
	ErrStaleCursor = errors.New("provider: cursor older than retention horizon")
	ErrAuthExpired = errors.New("provider: authorization expired")
	ErrPermanent   = errors.New("provider: permanent failure")
	ErrNotFound    = errors.New("provider: resource not found")
)

// Credentials carries the per-account tokens a gateway call needs.
type Credentials struct {
	Email        string
	AccessToken  string
	RefreshToken string

	// IMAP accounts authenticate with a host/password pair instead.
	Host     string
	Password string
}

// TokenUpdateFunc is invoked when a gateway call refreshed the access token,
// so the caller can persist the new token.
type TokenUpdateFunc func(accessToken, refreshToken string) error

// Message is the full content of one remote message.
type Message struct {
	ProviderID string
	ThreadID   string
	From       string
	To         []string
	Cc         []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// OutgoingMessage is a message to deliver on behalf of the account.
type OutgoingMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// Gateway abstracts a remote mail provider. Gmail, Outlook and IMAP backends
// are interchangeable implementations of this interface.
type Gateway interface {
	// FetchMessage retrieves full message content by provider message id.
	FetchMessage(ctx context.Context, creds Credentials, id string, onTokenRefresh TokenUpdateFunc) (*Message, error)

	// ListHistorySince returns ids of messages added after cursor, plus the
	// provider's current cursor position. Returns ErrStaleCursor when the
	// provider no longer retains history back to cursor.
	ListHistorySince(ctx context.Context, creds Credentials, cursor string, onTokenRefresh TokenUpdateFunc) (addedIDs []string, newCursor string, err error)

	// ListRecent returns ids of the most recent messages, newest first. Used
	// by the reconciliation backstop when no usable cursor exists.
	ListRecent(ctx context.Context, creds Credentials, limit int, onTokenRefresh TokenUpdateFunc) ([]string, string, error)

	// EstablishWatch registers a push subscription and returns the cursor
	// baseline plus the subscription expiry.
	EstablishWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (cursor string, expiry time.Time, err error)

	// RenewWatch re-registers the subscription before it expires.
	RenewWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (cursor string, expiry time.Time, err error)

	// CancelWatch stops push notifications for the account.
	CancelWatch(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) error

	// SendMessage delivers an outgoing message.
	SendMessage(ctx context.Context, creds Credentials, msg *OutgoingMessage, onTokenRefresh TokenUpdateFunc) error
}
