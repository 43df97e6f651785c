package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/pkg/provider"
)

// fakeGateway is a scriptable provider.Gateway for tests.
type fakeGateway struct {
	historyIDs    []string
	historyCursor string
	historyErr    error
	historyCalls  int

	recentIDs    []string
	recentCursor string
	recentErr    error
	recentCalls  int

	messages map[string]*provider.Message
	fetchErr error

	watchCursor string
	watchExpiry time.Time
	watchErr    error

	sent    []*provider.OutgoingMessage
	sendErr error

	cancelCalls int

	// When set, fetch and listing calls hang until their context is
	// cancelled, mimicking a provider that stops responding mid-call.
	blockUntilCancel bool
}

func (f *fakeGateway) FetchMessage(ctx context.Context, creds provider.Credentials, id string, onTokenRefresh provider.TokenUpdateFunc) (*provider.Message, error) {
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return msg, nil
}

func (f *fakeGateway) ListHistorySince(ctx context.Context, creds provider.Credentials, cursor string, onTokenRefresh provider.TokenUpdateFunc) ([]string, string, error) {
	f.historyCalls++
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if f.historyErr != nil {
		return nil, "", f.historyErr
	}
	return f.historyIDs, f.historyCursor, nil
}

func (f *fakeGateway) ListRecent(ctx context.Context, creds provider.Credentials, limit int, onTokenRefresh provider.TokenUpdateFunc) ([]string, string, error) {
	f.recentCalls++
	if f.recentErr != nil {
		return nil, "", f.recentErr
	}
	return f.recentIDs, f.recentCursor, nil
}

func (f *fakeGateway) EstablishWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) (string, time.Time, error) {
	if f.watchErr != nil {
		return "", time.Time{}, f.watchErr
	}
	return f.watchCursor, f.watchExpiry, nil
}

func (f *fakeGateway) RenewWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) (string, time.Time, error) {
	return f.EstablishWatch(ctx, creds, onTokenRefresh)
}

func (f *fakeGateway) CancelWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) error {
	f.cancelCalls++
	return nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, creds provider.Credentials, msg *provider.OutgoingMessage, onTokenRefresh provider.TokenUpdateFunc) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.MailboxAccount{}, &domain.CanonicalMessage{}))
	return db
}

func seedAccount(t *testing.T, accountRepo repository.AccountRepository, email, cursor string) *domain.MailboxAccount {
	t.Helper()
	account := &domain.MailboxAccount{
		UserID:   "user-1",
		Provider: domain.ProviderGmail,
		Email:    email,
		Cursor:   cursor,
	}
	require.NoError(t, accountRepo.Create(account))
	return account
}
