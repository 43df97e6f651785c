package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/internal/mailbox/usecase"
	"mailflow-backend/internal/realtime"
	"mailflow-backend/pkg/provider"
)

type fixedGateway struct {
	historyIDs    []string
	historyCursor string
	messages      map[string]*provider.Message
}

func (g *fixedGateway) FetchMessage(ctx context.Context, creds provider.Credentials, id string, onTokenRefresh provider.TokenUpdateFunc) (*provider.Message, error) {
	msg, ok := g.messages[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return msg, nil
}

func (g *fixedGateway) ListHistorySince(ctx context.Context, creds provider.Credentials, cursor string, onTokenRefresh provider.TokenUpdateFunc) ([]string, string, error) {
	return g.historyIDs, g.historyCursor, nil
}

func (g *fixedGateway) ListRecent(ctx context.Context, creds provider.Credentials, limit int, onTokenRefresh provider.TokenUpdateFunc) ([]string, string, error) {
	return nil, "", nil
}

func (g *fixedGateway) EstablishWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) (string, time.Time, error) {
	return "1", time.Now().Add(24 * time.Hour), nil
}

func (g *fixedGateway) RenewWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) (string, time.Time, error) {
	return g.EstablishWatch(ctx, creds, onTokenRefresh)
}

func (g *fixedGateway) CancelWatch(ctx context.Context, creds provider.Credentials, onTokenRefresh provider.TokenUpdateFunc) error {
	return nil
}

func (g *fixedGateway) SendMessage(ctx context.Context, creds provider.Credentials, msg *provider.OutgoingMessage, onTokenRefresh provider.TokenUpdateFunc) error {
	return nil
}

func newServiceFixture(t *testing.T, gw *fixedGateway) (*Service, repository.AccountRepository, repository.MessageRepository, *realtime.Hub) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.MailboxAccount{}, &domain.CanonicalMessage{}))

	accountRepo := repository.NewAccountRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	gateways := usecase.Gateways{domain.ProviderGmail: gw}
	resolver := usecase.NewHistoryResolver(accountRepo, gateways, time.Second)
	pipeline := usecase.NewIngestionPipeline(accountRepo, messageRepo, gateways, nil, time.Second, time.Second)
	hub := realtime.NewHub()

	svc := &Service{
		resolver: resolver,
		pipeline: pipeline,
		hub:      hub,
	}
	return svc, accountRepo, messageRepo, hub
}

func pushPayload(t *testing.T, email string, historyID uint64) []byte {
	t.Helper()
	data, err := json.Marshal(PushNotification{EmailAddress: email, HistoryID: historyID})
	require.NoError(t, err)
	return data
}

func TestHandleWebhook_IngestsAndAdvancesCursor(t *testing.T) {
	gw := &fixedGateway{
		historyIDs:    []string{"m1"},
		historyCursor: "105",
		messages: map[string]*provider.Message{
			"m1": {ProviderID: "m1", From: "x@example.com", Subject: "hi", ReceivedAt: time.Now()},
		},
	}
	svc, accountRepo, messageRepo, _ := newServiceFixture(t, gw)

	account := &domain.MailboxAccount{
		UserID:   "user-1",
		Provider: domain.ProviderGmail,
		Email:    "a@example.com",
		Cursor:   "100",
	}
	require.NoError(t, accountRepo.Create(account))

	svc.HandleWebhook(pushPayload(t, "a@example.com", 105))

	exists, err := messageRepo.Exists(account.ID, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	reloaded, err := accountRepo.FindByID(account.ID)
	require.NoError(t, err)
	assert.Equal(t, "105", reloaded.Cursor)
}

func TestHandleWebhook_UnknownIdentitySilentlyDropped(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t, &fixedGateway{})
	svc.HandleWebhook(pushPayload(t, "stranger@example.com", 50))
}

func TestHandleWebhook_MalformedPayloadIgnored(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t, &fixedGateway{})
	svc.HandleWebhook([]byte("not json"))
	svc.HandleWebhook([]byte(`{"historyId": 5}`))
}

func TestHandleWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	gw := &fixedGateway{
		historyIDs:    []string{"m1"},
		historyCursor: "105",
		messages: map[string]*provider.Message{
			"m1": {ProviderID: "m1", From: "x@example.com", ReceivedAt: time.Now()},
		},
	}
	svc, accountRepo, messageRepo, _ := newServiceFixture(t, gw)

	account := &domain.MailboxAccount{
		UserID:   "user-1",
		Provider: domain.ProviderGmail,
		Email:    "a@example.com",
		Cursor:   "100",
	}
	require.NoError(t, accountRepo.Create(account))

	payload := pushPayload(t, "a@example.com", 105)
	svc.HandleWebhook(payload)
	svc.HandleWebhook(payload)

	exists, err := messageRepo.Exists(account.ID, "m1")
	require.NoError(t, err)
	assert.True(t, exists)
}
