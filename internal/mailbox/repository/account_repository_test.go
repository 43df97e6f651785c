package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow-backend/internal/mailbox/domain"
)

type AccountRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo AccountRepository
}

func (s *AccountRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(s.T(), err)

	err = db.AutoMigrate(&domain.MailboxAccount{})
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewAccountRepository(db)
}

func (s *AccountRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func (s *AccountRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM mailbox_accounts")
}

func TestAccountRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(AccountRepositoryTestSuite))
}

func (s *AccountRepositoryTestSuite) createAccount(email, cursor string) *domain.MailboxAccount {
	account := &domain.MailboxAccount{
		UserID:   "user-1",
		Provider: domain.ProviderGmail,
		Email:    email,
		Cursor:   cursor,
	}
	err := s.repo.Create(account)
	require.NoError(s.T(), err)
	return account
}

func (s *AccountRepositoryTestSuite) TestFindByEmail_NotFound() {
	account, err := s.repo.FindByEmail("nobody@example.com")
	assert.NoError(s.T(), err)
	assert.Nil(s.T(), account)
}

func (s *AccountRepositoryTestSuite) TestAdvanceCursor_Success() {
	account := s.createAccount("a@example.com", "100")

	advanced, err := s.repo.AdvanceCursor(account.ID, "100", "105")
	assert.NoError(s.T(), err)
	assert.True(s.T(), advanced)

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "105", reloaded.Cursor)
}

func (s *AccountRepositoryTestSuite) TestAdvanceCursor_LostRace() {
	account := s.createAccount("a@example.com", "100")

	// A concurrent resolution already moved the cursor.
	advanced, err := s.repo.AdvanceCursor(account.ID, "100", "110")
	require.NoError(s.T(), err)
	require.True(s.T(), advanced)

	advanced, err = s.repo.AdvanceCursor(account.ID, "100", "105")
	assert.NoError(s.T(), err)
	assert.False(s.T(), advanced)

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "110", reloaded.Cursor)
}

func (s *AccountRepositoryTestSuite) TestSetWatch_EmptyCursorPreservesExisting() {
	account := s.createAccount("a@example.com", "200")

	expiry := time.Now().Add(24 * time.Hour)
	err := s.repo.SetWatch(account.ID, "", expiry)
	assert.NoError(s.T(), err)

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "200", reloaded.Cursor)
	require.NotNil(s.T(), reloaded.WatchExpiry)
	assert.WithinDuration(s.T(), expiry, *reloaded.WatchExpiry, time.Second)
}

func (s *AccountRepositoryTestSuite) TestSetWatch_AdoptsBaselineCursor() {
	account := s.createAccount("a@example.com", "")

	err := s.repo.SetWatch(account.ID, "500", time.Now().Add(24*time.Hour))
	assert.NoError(s.T(), err)

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "500", reloaded.Cursor)
}

func (s *AccountRepositoryTestSuite) TestListWatchExpiring() {
	soon := s.createAccount("soon@example.com", "1")
	expiry := time.Now().Add(1 * time.Hour)
	require.NoError(s.T(), s.repo.SetWatch(soon.ID, "", expiry))

	later := s.createAccount("later@example.com", "1")
	require.NoError(s.T(), s.repo.SetWatch(later.ID, "", time.Now().Add(72*time.Hour)))

	// Never watched: expiry is NULL, still due.
	never := s.createAccount("never@example.com", "1")

	// Disconnected accounts are excluded.
	gone := s.createAccount("gone@example.com", "1")
	require.NoError(s.T(), s.repo.SetWatch(gone.ID, "", expiry))
	require.NoError(s.T(), s.repo.MarkDisconnected(gone.ID))

	due, err := s.repo.ListWatchExpiring(time.Now().Add(24 * time.Hour))
	assert.NoError(s.T(), err)

	ids := make(map[string]bool)
	for _, a := range due {
		ids[a.ID] = true
	}
	assert.True(s.T(), ids[soon.ID])
	assert.True(s.T(), ids[never.ID])
	assert.False(s.T(), ids[later.ID])
	assert.False(s.T(), ids[gone.ID])
}

func (s *AccountRepositoryTestSuite) TestListWatchExpiring_ExcludesSyncErrors() {
	broken := s.createAccount("broken@example.com", "1")
	require.NoError(s.T(), s.repo.RecordSyncError(broken.ID, "invalid_grant"))

	due, err := s.repo.ListWatchExpiring(time.Now().Add(24 * time.Hour))
	assert.NoError(s.T(), err)
	for _, a := range due {
		assert.NotEqual(s.T(), broken.ID, a.ID)
	}
}

func (s *AccountRepositoryTestSuite) TestListNeedingReconciliation() {
	flagged := s.createAccount("flagged@example.com", "1")
	require.NoError(s.T(), s.repo.FlagFullSync(flagged.ID, true))

	// Recently synced and unflagged: not due.
	fresh := s.createAccount("fresh@example.com", "1")
	require.NoError(s.T(), s.repo.RecordSyncSuccess(fresh.ID))

	due, err := s.repo.ListNeedingReconciliation(time.Now().Add(-1 * time.Hour))
	assert.NoError(s.T(), err)

	ids := make(map[string]bool)
	for _, a := range due {
		ids[a.ID] = true
	}
	assert.True(s.T(), ids[flagged.ID])
	assert.False(s.T(), ids[fresh.ID])
}

func (s *AccountRepositoryTestSuite) TestRecordSyncSuccess_ClearsError() {
	account := s.createAccount("a@example.com", "1")
	require.NoError(s.T(), s.repo.RecordSyncError(account.ID, "boom"))

	require.NoError(s.T(), s.repo.RecordSyncSuccess(account.ID))

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), reloaded.LastSyncError)
	assert.NotNil(s.T(), reloaded.LastSyncAt)
}

func (s *AccountRepositoryTestSuite) TestSaveTokens() {
	account := s.createAccount("a@example.com", "1")

	err := s.repo.SaveTokens(account.ID, "new-access", "new-refresh")
	assert.NoError(s.T(), err)

	reloaded, err := s.repo.FindByID(account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "new-access", reloaded.AccessToken)
	assert.Equal(s.T(), "new-refresh", reloaded.RefreshToken)
}
