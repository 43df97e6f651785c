package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/internal/mailbox/usecase"
	"mailflow-backend/internal/realtime"
	"mailflow-backend/pkg/ai"
	"mailflow-backend/pkg/provider"
)

// Task names, used for guard lookup and logging.
const (
	TaskWatchRenewal      = "watch_renewal"
	TaskBacklogEnrichment = "backlog_enrichment"
	TaskScheduledSend     = "scheduled_send"
	TaskBackstop          = "backstop_reconciliation"
	TaskEngagement        = "engagement_refresh"
	TaskRetention         = "retention_cleanup"
)

const (
	maxEnrichmentRetries = 3
	backstopRecentLimit  = 500
	// Senders above this volume with no engagement get an unsubscribe
	// recommendation.
	unsubscribeVolumeThreshold = 10
	engagementWindow           = 90 * 24 * time.Hour
)

// Tasks bundles the dependencies of the periodic task bodies. Each body is a
// TaskFunc registered on the Scheduler; all of them share the rule that one
// item's failure is logged and skipped, never aborts the batch.
type Tasks struct {
	accountRepo    repository.AccountRepository
	messageRepo    repository.MessageRepository
	sendRepo       repository.ScheduledSendRepository
	engagementRepo repository.EngagementRepository
	resolver       *usecase.HistoryResolver
	pipeline       *usecase.IngestionPipeline
	watchManager   *usecase.WatchManager
	gateways       usecase.Gateways
	enricher       ai.Enricher
	hub            *realtime.Hub

	enrichmentTimeout  time.Duration
	providerTimeout    time.Duration
	enrichmentBatch    int
	watchRenewalLead   time.Duration
	sendRecoveryWindow time.Duration
	retentionAge       time.Duration
	backstopStaleAfter time.Duration
}

type TasksConfig struct {
	EnrichmentTimeout  time.Duration
	ProviderTimeout    time.Duration
	EnrichmentBatch    int
	WatchRenewalLead   time.Duration
	SendRecoveryWindow time.Duration
	RetentionAge       time.Duration
	BackstopStaleAfter time.Duration
}

func NewTasks(
	accountRepo repository.AccountRepository,
	messageRepo repository.MessageRepository,
	sendRepo repository.ScheduledSendRepository,
	engagementRepo repository.EngagementRepository,
	resolver *usecase.HistoryResolver,
	pipeline *usecase.IngestionPipeline,
	watchManager *usecase.WatchManager,
	gateways usecase.Gateways,
	enricher ai.Enricher,
	hub *realtime.Hub,
	cfg TasksConfig,
) *Tasks {
	if cfg.EnrichmentBatch <= 0 {
		cfg.EnrichmentBatch = 50
	}
	if cfg.EnrichmentTimeout <= 0 {
		cfg.EnrichmentTimeout = 30 * time.Second
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.BackstopStaleAfter <= 0 {
		cfg.BackstopStaleAfter = time.Hour
	}
	return &Tasks{
		accountRepo:        accountRepo,
		messageRepo:        messageRepo,
		sendRepo:           sendRepo,
		engagementRepo:     engagementRepo,
		resolver:           resolver,
		pipeline:           pipeline,
		watchManager:       watchManager,
		gateways:           gateways,
		enricher:           enricher,
		hub:                hub,
		enrichmentTimeout:  cfg.EnrichmentTimeout,
		providerTimeout:    cfg.ProviderTimeout,
		enrichmentBatch:    cfg.EnrichmentBatch,
		watchRenewalLead:   cfg.WatchRenewalLead,
		sendRecoveryWindow: cfg.SendRecoveryWindow,
		retentionAge:       cfg.RetentionAge,
		backstopStaleAfter: cfg.BackstopStaleAfter,
	}
}

// WatchRenewal sweeps accounts whose subscription expires within the lead
// window and renews each independently.
func (t *Tasks) WatchRenewal(ctx context.Context) RunStats {
	renewed, failed := t.watchManager.RenewIfExpiring(ctx, t.watchRenewalLead)
	return RunStats{Processed: renewed, Failed: failed}
}

// BacklogEnrichment re-runs AI enrichment over messages the ingest path
// could not annotate. Items that keep failing are marked irrecoverable so
// they are not retried forever.
func (t *Tasks) BacklogEnrichment(ctx context.Context) RunStats {
	if t.enricher == nil {
		return RunStats{}
	}

	msgs, err := t.messageRepo.ListUnenriched(t.enrichmentBatch, maxEnrichmentRetries)
	if err != nil {
		return RunStats{Err: fmt.Errorf("listing un-enriched messages: %w", err)}
	}

	var stats RunStats
	for _, msg := range msgs {
		enrichCtx, cancel := context.WithTimeout(ctx, t.enrichmentTimeout)
		result, err := t.enricher.Enrich(enrichCtx, msg.Subject, msg.Body)
		cancel()

		if err != nil {
			stats.Failed++
			if msg.EnrichmentRetries+1 >= maxEnrichmentRetries {
				log.Printf("[Enrichment] Giving up on message %s after %d attempts: %v", msg.ID, msg.EnrichmentRetries+1, err)
				if markErr := t.messageRepo.MarkEnrichmentSkipped(msg.ID); markErr != nil {
					log.Printf("[Enrichment] Failed to mark message %s skipped: %v", msg.ID, markErr)
				}
			} else if markErr := t.messageRepo.MarkEnrichmentFailed(msg.ID); markErr != nil {
				log.Printf("[Enrichment] Failed to record failure for %s: %v", msg.ID, markErr)
			}
			continue
		}

		if err := t.messageRepo.MarkEnriched(msg.ID, result.Summary, result.Category); err != nil {
			log.Printf("[Enrichment] Failed to persist enrichment for %s: %v", msg.ID, err)
			stats.Failed++
			continue
		}
		stats.Processed++
	}
	return stats
}

// ScheduledSendDelivery claims due sends (including rows a crashed process
// left in processing) and delivers each through the account's gateway. A
// claimed row always ends the tick as sent or failed, never processing.
func (t *Tasks) ScheduledSendDelivery(ctx context.Context) RunStats {
	due, err := t.sendRepo.ClaimDue(time.Now(), t.sendRecoveryWindow)
	if err != nil {
		return RunStats{Err: fmt.Errorf("claiming due sends: %w", err)}
	}

	var stats RunStats
	for _, send := range due {
		if err := t.deliver(ctx, send); err != nil {
			stats.Failed++
			if markErr := t.sendRepo.MarkFailed(send.ID, err.Error()); markErr != nil {
				log.Printf("[Send] Failed to mark send %s failed: %v", send.ID, markErr)
			}
			continue
		}
		if err := t.sendRepo.MarkSent(send.ID); err != nil {
			log.Printf("[Send] Delivered but failed to mark send %s sent: %v", send.ID, err)
		}
		stats.Processed++
	}
	return stats
}

func (t *Tasks) deliver(ctx context.Context, send *domain.ScheduledSend) error {
	account, err := t.accountRepo.FindByID(send.AccountID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		return errors.New("account no longer exists")
	}
	if account.Disconnected {
		return errors.New("account disconnected")
	}

	gw, err := t.gateways.For(account)
	if err != nil {
		return err
	}

	msg := &provider.OutgoingMessage{
		To:      splitAddresses(send.ToAddresses),
		Cc:      splitAddresses(send.CcAddresses),
		Bcc:     splitAddresses(send.BccAddresses),
		Subject: send.Subject,
		Body:    send.Body,
	}

	creds := provider.Credentials{
		Email:        account.Email,
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Host:         account.IMAPHost,
		Password:     account.IMAPPassword,
	}

	// Bound the delivery so a hung provider fails this row instead of
	// holding the task's single-flight guard across ticks.
	sendCtx, cancel := context.WithTimeout(ctx, t.providerTimeout)
	defer cancel()
	return gw.SendMessage(sendCtx, creds, msg, func(accessToken, refreshToken string) error {
		return t.accountRepo.SaveTokens(account.ID, accessToken, refreshToken)
	})
}

// BackstopReconciliation re-derives correct state for accounts the push path
// could not keep current: flagged for full sync or quiet past the staleness
// threshold. Newly discovered messages flow through the same pipeline and
// fan-out as the push path.
func (t *Tasks) BackstopReconciliation(ctx context.Context) RunStats {
	accounts, err := t.accountRepo.ListNeedingReconciliation(time.Now().Add(-t.backstopStaleAfter))
	if err != nil {
		return RunStats{Err: fmt.Errorf("listing accounts for reconciliation: %w", err)}
	}

	var stats RunStats
	for _, account := range accounts {
		ids, acc, err := t.resolver.Reconcile(ctx, account.ID, backstopRecentLimit)
		if err != nil {
			log.Printf("[Backstop] Reconciliation failed for %s: %v", account.Email, err)
			stats.Failed++
			continue
		}
		if acc == nil {
			continue
		}

		ingested := t.pipeline.Ingest(ctx, acc, ids)
		if len(ingested) > 0 && t.hub != nil {
			msgIDs := make([]string, len(ingested))
			for i, m := range ingested {
				msgIDs[i] = m.ProviderMessageID
			}
			t.hub.Broadcast(acc.UserID, realtime.NewMessagesEvent{
				AccountEmail: acc.Email,
				MessageIDs:   msgIDs,
			})
		}
		stats.Processed++
	}
	return stats
}

// EngagementRefresh recomputes per-sender volume stats for accounts with
// recent activity and flags unsubscribe candidates.
func (t *Tasks) EngagementRefresh(ctx context.Context) RunStats {
	accountIDs, err := t.messageRepo.AccountIDsWithActivitySince(time.Now().Add(-engagementWindow))
	if err != nil {
		return RunStats{Err: fmt.Errorf("listing active accounts: %w", err)}
	}

	var stats RunStats
	for _, accountID := range accountIDs {
		counts, err := t.messageRepo.ListSenderCounts(accountID, time.Now().Add(-engagementWindow))
		if err != nil {
			log.Printf("[Engagement] Aggregation failed for account %s: %v", accountID, err)
			stats.Failed++
			continue
		}

		failed := false
		for _, sc := range counts {
			stat := &domain.EngagementStat{
				AccountID:            accountID,
				SenderAddress:        sc.SenderAddress,
				ReceivedCount:        sc.Count,
				RecommendUnsubscribe: sc.Count >= unsubscribeVolumeThreshold,
			}
			if err := t.engagementRepo.Upsert(stat); err != nil {
				log.Printf("[Engagement] Upsert failed for %s/%s: %v", accountID, sc.SenderAddress, err)
				failed = true
			}
		}
		if failed {
			stats.Failed++
		} else {
			stats.Processed++
		}
	}
	return stats
}

// RetentionCleanup deletes messages and terminal sends past the retention
// age. Purely mechanical.
func (t *Tasks) RetentionCleanup(ctx context.Context) RunStats {
	cutoff := time.Now().Add(-t.retentionAge)

	var stats RunStats
	deleted, err := t.messageRepo.DeleteOlderThan(cutoff)
	if err != nil {
		return RunStats{Err: fmt.Errorf("deleting old messages: %w", err)}
	}
	stats.Processed += int(deleted)

	deletedSends, err := t.sendRepo.DeleteTerminalOlderThan(cutoff)
	if err != nil {
		stats.Err = fmt.Errorf("deleting old sends: %w", err)
		return stats
	}
	stats.Processed += int(deletedSends)
	return stats
}

func splitAddresses(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
