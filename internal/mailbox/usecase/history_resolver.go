package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/pkg/provider"
)

// HistoryResolver turns push notifications into concrete new-message ids.
// Resolution for one account is serialized; different accounts resolve in
// parallel.
type HistoryResolver struct {
	accountRepo repository.AccountRepository
	gateways    Gateways
	callTimeout time.Duration

	// Per-account locks. Entries are never removed; the map grows with the
	// number of accounts seen by this process, which is bounded.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

func NewHistoryResolver(accountRepo repository.AccountRepository, gateways Gateways, callTimeout time.Duration) *HistoryResolver {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &HistoryResolver{
		accountRepo: accountRepo,
		gateways:    gateways,
		callTimeout: callTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (r *HistoryResolver) accountLock(accountID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[accountID] = mu
	}
	return mu
}

// Resolve looks up the account behind the event, lists provider history since
// the stored cursor and advances the cursor before returning the added ids.
// A duplicate or overlapping event therefore resolves to an empty delta: the
// cursor has already moved past it.
//
// Unknown identities resolve to (nil, nil, nil) - stale webhooks for accounts
// we no longer track are not errors. A stale cursor flags the account for the
// reconciliation backstop and also resolves empty.
func (r *HistoryResolver) Resolve(ctx context.Context, event domain.InboundChangeEvent) ([]string, *domain.MailboxAccount, error) {
	account, err := r.accountRepo.FindByEmail(event.EmailAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("account lookup for %s: %w", event.EmailAddress, err)
	}
	if account == nil || account.Disconnected {
		return nil, nil, nil
	}

	mu := r.accountLock(account.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; a previous resolution may have advanced the
	// cursor while we waited.
	account, err = r.accountRepo.FindByID(account.ID)
	if err != nil || account == nil {
		return nil, nil, err
	}

	if account.Cursor == "" {
		// No baseline yet: nothing before the first watch is resolvable via
		// history. Leave it to the bootstrap reconciliation.
		if err := r.accountRepo.FlagFullSync(account.ID, true); err != nil {
			return nil, nil, err
		}
		return nil, account, nil
	}

	if !cursorAfter(event.Cursor, account.Cursor) {
		// Duplicate or late delivery for a range already resolved.
		return nil, account, nil
	}

	gw, err := r.gateways.For(account)
	if err != nil {
		return nil, nil, err
	}

	// A hung provider call here would wedge this account's lock and, on the
	// backstop path, the task's single-flight guard. Bound it.
	listCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	ids, newCursor, err := gw.ListHistorySince(listCtx, credentialsFor(account), account.Cursor, tokenUpdateCallback(r.accountRepo, account.ID))
	cancel()
	if err != nil {
		if errors.Is(err, provider.ErrStaleCursor) {
			// History beyond the provider's retention horizon. Not fatal:
			// flag for full reconciliation and advance the baseline so the
			// next event resolves normally.
			log.Printf("[Resolver] Cursor too old for %s, flagging full reconciliation", account.Email)
			if flagErr := r.accountRepo.FlagFullSync(account.ID, true); flagErr != nil {
				return nil, nil, flagErr
			}
			if _, advErr := r.accountRepo.AdvanceCursor(account.ID, account.Cursor, event.Cursor); advErr != nil {
				return nil, nil, advErr
			}
			return nil, account, nil
		}
		if errors.Is(err, provider.ErrPermanent) || errors.Is(err, provider.ErrAuthExpired) {
			if recErr := r.accountRepo.RecordSyncError(account.ID, err.Error()); recErr != nil {
				log.Printf("[Resolver] Failed to record sync error for %s: %v", account.Email, recErr)
			}
		}
		return nil, nil, fmt.Errorf("history listing for %s: %w", account.Email, err)
	}

	// The provider may report a position past the event's. Advance to
	// whichever is further so the cursor never regresses.
	target := event.Cursor
	if cursorAfter(newCursor, target) {
		target = newCursor
	}

	advanced, err := r.accountRepo.AdvanceCursor(account.ID, account.Cursor, target)
	if err != nil {
		return nil, nil, err
	}
	if !advanced {
		// Lost a race we should not be able to lose given the per-account
		// lock; treat the range as already handled rather than re-deliver.
		log.Printf("[Resolver] Cursor for %s moved underneath resolution, dropping %d ids", account.Email, len(ids))
		return nil, account, nil
	}

	if err := r.accountRepo.RecordSyncSuccess(account.ID); err != nil {
		log.Printf("[Resolver] Failed to record sync success for %s: %v", account.Email, err)
	}

	return ids, account, nil
}

// Reconcile is the poll-based backstop for one account: it re-derives the
// set of new messages when the push path cannot (expired cursor, missed
// webhook, first-time bootstrap). It shares the per-account lock with
// Resolve so the two paths never race cursor advancement.
func (r *HistoryResolver) Reconcile(ctx context.Context, accountID string, recentLimit int) ([]string, *domain.MailboxAccount, error) {
	mu := r.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	account, err := r.accountRepo.FindByID(accountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil || account.Disconnected {
		return nil, nil, nil
	}

	gw, err := r.gateways.For(account)
	if err != nil {
		return nil, nil, err
	}

	creds := credentialsFor(account)
	onRefresh := tokenUpdateCallback(r.accountRepo, account.ID)

	var ids []string
	var newCursor string

	// One timeout covers the listing plus its stale-cursor fallback; the
	// reconciliation tick must never block past it.
	listCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if account.Cursor == "" {
		ids, newCursor, err = gw.ListRecent(listCtx, creds, recentLimit, onRefresh)
	} else {
		ids, newCursor, err = gw.ListHistorySince(listCtx, creds, account.Cursor, onRefresh)
		if errors.Is(err, provider.ErrStaleCursor) {
			// Retention horizon passed; a bounded recent listing is the best
			// recovery available. The dedup check in ingestion absorbs the
			// overlap with already-stored messages.
			ids, newCursor, err = gw.ListRecent(listCtx, creds, recentLimit, onRefresh)
		}
	}
	if err != nil {
		if errors.Is(err, provider.ErrPermanent) || errors.Is(err, provider.ErrAuthExpired) {
			if recErr := r.accountRepo.RecordSyncError(account.ID, err.Error()); recErr != nil {
				log.Printf("[Resolver] Failed to record sync error for %s: %v", account.Email, recErr)
			}
		}
		return nil, nil, fmt.Errorf("reconciliation listing for %s: %w", account.Email, err)
	}

	if newCursor != "" && newCursor != account.Cursor {
		if _, err := r.accountRepo.AdvanceCursor(account.ID, account.Cursor, newCursor); err != nil {
			return nil, nil, err
		}
	}
	if err := r.accountRepo.FlagFullSync(account.ID, false); err != nil {
		return nil, nil, err
	}
	if err := r.accountRepo.RecordSyncSuccess(account.ID); err != nil {
		log.Printf("[Resolver] Failed to record sync success for %s: %v", account.Email, err)
	}

	return ids, account, nil
}

// cursorAfter reports whether a is strictly past b. Plain integers (Gmail
// history ids) compare numerically. "validity:next" pairs compare on next
// within the same validity; a validity change voids all stored offsets, so
// the new cursor counts as past regardless of its next value. Anything else
// falls back to inequality, which still suppresses exact duplicates.
func cursorAfter(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na > nb
	}

	av, an, okA := splitCompositeCursor(a)
	bv, bn, okB := splitCompositeCursor(b)
	if okA && okB {
		if av != bv {
			return true
		}
		return an > bn
	}

	return a != b
}

func splitCompositeCursor(cursor string) (validity, next uint64, ok bool) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return v, n, true
}
