package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/pkg/ai"
	"mailflow-backend/pkg/provider"
)

// IngestionPipeline fetches, enriches and persists messages exactly once.
// Both the push path and the poll backstop feed it, so the dedup check runs
// even when the resolver already avoided re-delivering a range.
type IngestionPipeline struct {
	accountRepo  repository.AccountRepository
	messageRepo  repository.MessageRepository
	gateways     Gateways
	enricher     ai.Enricher
	enrichBound  time.Duration
	fetchTimeout time.Duration
}

func NewIngestionPipeline(
	accountRepo repository.AccountRepository,
	messageRepo repository.MessageRepository,
	gateways Gateways,
	enricher ai.Enricher,
	enrichmentTimeout time.Duration,
	fetchTimeout time.Duration,
) *IngestionPipeline {
	if enrichmentTimeout <= 0 {
		enrichmentTimeout = 30 * time.Second
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &IngestionPipeline{
		accountRepo:  accountRepo,
		messageRepo:  messageRepo,
		gateways:     gateways,
		enricher:     enricher,
		enrichBound:  enrichmentTimeout,
		fetchTimeout: fetchTimeout,
	}
}

// Ingest processes the given provider message ids for one account and
// returns the messages that were newly persisted. Per-message failures are
// logged and skipped; one bad message never aborts the batch.
func (p *IngestionPipeline) Ingest(ctx context.Context, account *domain.MailboxAccount, ids []string) []*domain.CanonicalMessage {
	if len(ids) == 0 {
		return nil
	}

	gw, err := p.gateways.For(account)
	if err != nil {
		log.Printf("[Ingest] No gateway for account %s: %v", account.Email, err)
		return nil
	}

	creds := credentialsFor(account)
	onRefresh := tokenUpdateCallback(p.accountRepo, account.ID)

	var ingested []*domain.CanonicalMessage
	for _, id := range ids {
		exists, err := p.messageRepo.Exists(account.ID, id)
		if err != nil {
			log.Printf("[Ingest] Dedup check failed for %s/%s: %v", account.Email, id, err)
			continue
		}
		if exists {
			continue
		}

		// Each fetch gets its own bound; one hung provider call must cost
		// one item, not the whole batch and the caller's goroutine.
		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		remote, err := gw.FetchMessage(fetchCtx, creds, id, onRefresh)
		cancel()
		if err != nil {
			if errors.Is(err, provider.ErrNotFound) {
				// Deleted upstream between notification and fetch.
				continue
			}
			log.Printf("[Ingest] Fetch failed for %s/%s: %v", account.Email, id, err)
			continue
		}

		msg := &domain.CanonicalMessage{
			UserID:            account.UserID,
			AccountID:         account.ID,
			ProviderMessageID: remote.ProviderID,
			ThreadID:          remote.ThreadID,
			FromAddress:       remote.From,
			ToAddresses:       strings.Join(remote.To, ", "),
			CcAddresses:       strings.Join(remote.Cc, ", "),
			Subject:           remote.Subject,
			Body:              remote.Body,
			ReceivedAt:        remote.ReceivedAt,
		}

		p.enrich(ctx, msg)

		if err := p.messageRepo.Create(msg); err != nil {
			if errors.Is(err, repository.ErrDuplicateMessage) {
				// The backstop and the push path raced; the row exists, which
				// is the outcome we wanted.
				continue
			}
			log.Printf("[Ingest] Persist failed for %s/%s: %v", account.Email, id, err)
			continue
		}

		ingested = append(ingested, msg)
	}

	if len(ingested) > 0 {
		log.Printf("[Ingest] Ingested %d/%d messages for %s", len(ingested), len(ids), account.Email)
	}
	return ingested
}

// enrich annotates the message in place. Enrichment failure is non-fatal:
// the message persists as enrichment-failed and the backlog task retries it.
func (p *IngestionPipeline) enrich(ctx context.Context, msg *domain.CanonicalMessage) {
	if p.enricher == nil {
		msg.EnrichmentStatus = domain.EnrichmentSkipped
		return
	}

	enrichCtx, cancel := context.WithTimeout(ctx, p.enrichBound)
	defer cancel()

	result, err := p.enricher.Enrich(enrichCtx, msg.Subject, msg.Body)
	if err != nil {
		log.Printf("[Ingest] Enrichment failed for %s: %v", msg.ProviderMessageID, err)
		msg.EnrichmentStatus = domain.EnrichmentFailed
		msg.EnrichmentRetries = 1
		return
	}

	now := time.Now()
	msg.EnrichmentStatus = domain.EnrichmentDone
	msg.Summary = result.Summary
	msg.Category = result.Category
	msg.EnrichedAt = &now
}
