package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/pkg/provider"
)

// WatchManager owns the lifecycle of provider push subscriptions: establish,
// proactive renewal before expiry, and cancellation on disconnect.
type WatchManager struct {
	accountRepo repository.AccountRepository
	gateways    Gateways
	callTimeout time.Duration
}

func NewWatchManager(accountRepo repository.AccountRepository, gateways Gateways, callTimeout time.Duration) *WatchManager {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &WatchManager{
		accountRepo: accountRepo,
		gateways:    gateways,
		callTimeout: callTimeout,
	}
}

// EstablishWatch registers a push subscription for the account. The cursor
// returned by the provider becomes the account's sync baseline; history from
// before that point is only reachable through a full reconciliation, so a
// first-time account is flagged for one immediately.
func (m *WatchManager) EstablishWatch(ctx context.Context, account *domain.MailboxAccount) error {
	gw, err := m.gateways.For(account)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	cursor, expiry, err := gw.EstablishWatch(watchCtx, credentialsFor(account), tokenUpdateCallback(m.accountRepo, account.ID))
	cancel()
	if err != nil {
		m.recordWatchFailure(account, err)
		return fmt.Errorf("establish watch for %s: %w", account.Email, err)
	}

	firstWatch := account.Cursor == ""
	if !firstWatch {
		// Only a never-synced account adopts the watch baseline; an existing
		// cursor must not move backwards.
		cursor = ""
	}
	if err := m.accountRepo.SetWatch(account.ID, cursor, expiry); err != nil {
		return err
	}
	if firstWatch {
		// Pre-baseline history is invisible to push; bootstrap via the
		// reconciliation backstop on its next tick.
		if err := m.accountRepo.FlagFullSync(account.ID, true); err != nil {
			return err
		}
	}

	log.Printf("[Watch] Established watch for %s (expires %s)", account.Email, expiry.Format(time.RFC3339))
	return nil
}

// RenewIfExpiring renews subscriptions whose expiry falls within leadTime.
// Each account is independent: one failed renewal is logged and retried on
// the next tick, never escalated.
func (m *WatchManager) RenewIfExpiring(ctx context.Context, leadTime time.Duration) (renewed, failed int) {
	accounts, err := m.accountRepo.ListWatchExpiring(time.Now().Add(leadTime))
	if err != nil {
		log.Printf("[Watch] Error listing expiring watches: %v", err)
		return 0, 0
	}

	for _, account := range accounts {
		gw, err := m.gateways.For(account)
		if err != nil {
			log.Printf("[Watch] Skipping %s: %v", account.Email, err)
			failed++
			continue
		}

		// Per-account bound: one unresponsive provider must not stall the
		// rest of the sweep or hold the renewal task's guard.
		renewCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		cursor, expiry, err := gw.RenewWatch(renewCtx, credentialsFor(account), tokenUpdateCallback(m.accountRepo, account.ID))
		cancel()
		if err != nil {
			log.Printf("[Watch] Renewal failed for %s: %v", account.Email, err)
			m.recordWatchFailure(account, err)
			failed++
			continue
		}

		// Renewal must never rewind an already-advanced cursor; only a
		// never-synced account adopts the new baseline.
		if account.Cursor != "" {
			cursor = ""
		}
		if err := m.accountRepo.SetWatch(account.ID, cursor, expiry); err != nil {
			log.Printf("[Watch] Failed to persist renewal for %s: %v", account.Email, err)
			failed++
			continue
		}
		renewed++
	}

	if renewed > 0 || failed > 0 {
		log.Printf("[Watch] Renewal sweep: %d renewed, %d failed", renewed, failed)
	}
	return renewed, failed
}

// Cancel stops the provider subscription. The account's messages remain
// valid historical data; only the watch and cursor become inactive.
func (m *WatchManager) Cancel(ctx context.Context, account *domain.MailboxAccount) error {
	gw, err := m.gateways.For(account)
	if err != nil {
		return err
	}

	cancelCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := gw.CancelWatch(cancelCtx, credentialsFor(account), tokenUpdateCallback(m.accountRepo, account.ID)); err != nil {
		// Cancellation is best effort; the subscription expires on its own.
		log.Printf("[Watch] Cancel failed for %s: %v", account.Email, err)
	}

	return m.accountRepo.MarkDisconnected(account.ID)
}

// recordWatchFailure marks the account unsyncable on permanent failures so
// the renewal sweep stops retrying until the user re-authenticates.
func (m *WatchManager) recordWatchFailure(account *domain.MailboxAccount, err error) {
	if errors.Is(err, provider.ErrPermanent) || errors.Is(err, provider.ErrAuthExpired) {
		if recErr := m.accountRepo.RecordSyncError(account.ID, err.Error()); recErr != nil {
			log.Printf("[Watch] Failed to record sync error for %s: %v", account.Email, recErr)
		}
	}
}
