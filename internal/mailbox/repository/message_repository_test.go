package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow-backend/internal/mailbox/domain"
)

type MessageRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo MessageRepository
}

func (s *MessageRepositoryTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(s.T(), err)

	err = db.AutoMigrate(&domain.CanonicalMessage{})
	require.NoError(s.T(), err)

	s.db = db
	s.repo = NewMessageRepository(db)
}

func (s *MessageRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func (s *MessageRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM canonical_messages")
}

func TestMessageRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(MessageRepositoryTestSuite))
}

func (s *MessageRepositoryTestSuite) newMessage(accountID, providerID string) *domain.CanonicalMessage {
	return &domain.CanonicalMessage{
		ID:                uuid.New().String(),
		UserID:            "user-1",
		AccountID:         accountID,
		ProviderMessageID: providerID,
		FromAddress:       "sender@example.com",
		Subject:           "hello",
		Body:              "body",
		ReceivedAt:        time.Now(),
		EnrichmentStatus:  domain.EnrichmentPending,
		IngestedAt:        time.Now(),
	}
}

func (s *MessageRepositoryTestSuite) TestCreate_DuplicateReturnsSentinel() {
	msg := s.newMessage("acct-1", "msg-1")
	require.NoError(s.T(), s.repo.Create(msg))

	dup := s.newMessage("acct-1", "msg-1")
	err := s.repo.Create(dup)
	assert.ErrorIs(s.T(), err, ErrDuplicateMessage)
}

func (s *MessageRepositoryTestSuite) TestCreate_SameProviderIDDifferentAccount() {
	require.NoError(s.T(), s.repo.Create(s.newMessage("acct-1", "msg-1")))

	// Provider message ids are only unique within one account.
	err := s.repo.Create(s.newMessage("acct-2", "msg-1"))
	assert.NoError(s.T(), err)
}

func (s *MessageRepositoryTestSuite) TestExists() {
	require.NoError(s.T(), s.repo.Create(s.newMessage("acct-1", "msg-1")))

	exists, err := s.repo.Exists("acct-1", "msg-1")
	assert.NoError(s.T(), err)
	assert.True(s.T(), exists)

	exists, err = s.repo.Exists("acct-1", "msg-2")
	assert.NoError(s.T(), err)
	assert.False(s.T(), exists)
}

func (s *MessageRepositoryTestSuite) TestListUnenriched_RespectsRetryCap() {
	pending := s.newMessage("acct-1", "msg-1")
	require.NoError(s.T(), s.repo.Create(pending))

	failed := s.newMessage("acct-1", "msg-2")
	failed.EnrichmentStatus = domain.EnrichmentFailed
	failed.EnrichmentRetries = 1
	require.NoError(s.T(), s.repo.Create(failed))

	exhausted := s.newMessage("acct-1", "msg-3")
	exhausted.EnrichmentStatus = domain.EnrichmentFailed
	exhausted.EnrichmentRetries = 3
	require.NoError(s.T(), s.repo.Create(exhausted))

	done := s.newMessage("acct-1", "msg-4")
	done.EnrichmentStatus = domain.EnrichmentDone
	require.NoError(s.T(), s.repo.Create(done))

	msgs, err := s.repo.ListUnenriched(10, 3)
	assert.NoError(s.T(), err)
	require.Len(s.T(), msgs, 2)

	ids := []string{msgs[0].ProviderMessageID, msgs[1].ProviderMessageID}
	assert.Contains(s.T(), ids, "msg-1")
	assert.Contains(s.T(), ids, "msg-2")
}

func (s *MessageRepositoryTestSuite) TestMarkEnriched() {
	msg := s.newMessage("acct-1", "msg-1")
	require.NoError(s.T(), s.repo.Create(msg))

	err := s.repo.MarkEnriched(msg.ID, "a short summary", "newsletter")
	assert.NoError(s.T(), err)

	reloaded, err := s.repo.FindByProviderID("acct-1", "msg-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.EnrichmentDone, reloaded.EnrichmentStatus)
	assert.Equal(s.T(), "a short summary", reloaded.Summary)
	assert.Equal(s.T(), "newsletter", reloaded.Category)
	assert.NotNil(s.T(), reloaded.EnrichedAt)
}

func (s *MessageRepositoryTestSuite) TestMarkEnrichmentFailed_IncrementsRetries() {
	msg := s.newMessage("acct-1", "msg-1")
	require.NoError(s.T(), s.repo.Create(msg))

	require.NoError(s.T(), s.repo.MarkEnrichmentFailed(msg.ID))
	require.NoError(s.T(), s.repo.MarkEnrichmentFailed(msg.ID))

	reloaded, err := s.repo.FindByProviderID("acct-1", "msg-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.EnrichmentFailed, reloaded.EnrichmentStatus)
	assert.Equal(s.T(), 2, reloaded.EnrichmentRetries)
}

func (s *MessageRepositoryTestSuite) TestListSenderCounts() {
	for i := 0; i < 3; i++ {
		msg := s.newMessage("acct-1", uuid.New().String())
		msg.FromAddress = "bulk@example.com"
		require.NoError(s.T(), s.repo.Create(msg))
	}
	one := s.newMessage("acct-1", "solo")
	one.FromAddress = "friend@example.com"
	require.NoError(s.T(), s.repo.Create(one))

	counts, err := s.repo.ListSenderCounts("acct-1", time.Now().Add(-time.Hour))
	assert.NoError(s.T(), err)
	require.Len(s.T(), counts, 2)
	assert.Equal(s.T(), "bulk@example.com", counts[0].SenderAddress)
	assert.Equal(s.T(), 3, counts[0].Count)
}

func (s *MessageRepositoryTestSuite) TestDeleteOlderThan() {
	old := s.newMessage("acct-1", "old")
	old.ReceivedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(s.T(), s.repo.Create(old))

	recent := s.newMessage("acct-1", "recent")
	require.NoError(s.T(), s.repo.Create(recent))

	deleted, err := s.repo.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), deleted)

	exists, err := s.repo.Exists("acct-1", "recent")
	require.NoError(s.T(), err)
	assert.True(s.T(), exists)
}
