package main

import (
	"context"
	"log"
	"strings"
	"time"

	api "mailflow-backend/cmd/api"
	"mailflow-backend/internal/mailbox/domain"
	"mailflow-backend/internal/mailbox/repository"
	"mailflow-backend/internal/mailbox/usecase"
	"mailflow-backend/internal/notification"
	"mailflow-backend/internal/realtime"
	"mailflow-backend/internal/scheduler"
	"mailflow-backend/pkg/ai"
	"mailflow-backend/pkg/config"
	"mailflow-backend/pkg/database"
	"mailflow-backend/pkg/fcm"
	"mailflow-backend/pkg/provider"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&domain.MailboxAccount{},
		&domain.CanonicalMessage{},
		&domain.ScheduledSend{},
		&domain.EngagementStat{},
		&domain.DeviceToken{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	accountRepo := repository.NewAccountRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	sendRepo := repository.NewScheduledSendRepository(db)
	engagementRepo := repository.NewEngagementRepository(db)
	deviceTokenRepo := repository.NewDeviceTokenRepository(db)

	// Extract short topic name from full resource name if necessary
	topicName := cfg.GooglePubSubTopic
	if parts := strings.Split(topicName, "/"); len(parts) > 1 {
		topicName = parts[len(parts)-1]
	}
	if topicName == "" {
		topicName = "gmail-updates"
	}

	// Provider gateways
	gateways := usecase.Gateways{
		domain.ProviderGmail: provider.NewGmailGateway(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GooglePubSubTopic),
		domain.ProviderIMAP:  provider.NewIMAPGateway(7 * 24 * time.Hour),
	}

	// AI enrichment service
	enricher, err := ai.NewEnricher(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		log.Printf("[WARN] AI enrichment disabled: %v", err)
	} else {
		log.Printf("AI enrichment initialized with provider: %s", cfg.AIProvider)
	}

	// Realtime fan-out hub
	hub := realtime.NewHub()

	// Sync engine
	resolver := usecase.NewHistoryResolver(accountRepo, gateways, cfg.ProviderTimeout)
	pipeline := usecase.NewIngestionPipeline(accountRepo, messageRepo, gateways, enricher, cfg.EnrichmentTimeout, cfg.ProviderTimeout)
	watchManager := usecase.NewWatchManager(accountRepo, gateways, cfg.ProviderTimeout)

	// FCM client (optional, notification service works without it)
	var fcmClient *fcm.Client
	if cfg.FirebaseCredentials != "" {
		fcmClient, err = fcm.NewClient(cfg.FirebaseCredentials, deviceTokenRepo)
		if err != nil {
			log.Printf("[WARN] Failed to initialize FCM client (push notifications disabled): %v", err)
		}
	} else {
		log.Printf("[WARN] No Firebase credentials configured, FCM disabled")
	}

	// Notification service (Pub/Sub pull subscription)
	var notifService *notification.Service
	if cfg.GoogleProjectID != "" {
		notifService, err = notification.NewService(cfg.GoogleProjectID, topicName, resolver, pipeline, hub, fcmClient, cfg.GoogleCredentials)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, notification service disabled")
	}

	// Background job scheduler
	tasks := scheduler.NewTasks(accountRepo, messageRepo, sendRepo, engagementRepo, resolver, pipeline, watchManager, gateways, enricher, hub, scheduler.TasksConfig{
		EnrichmentTimeout:  cfg.EnrichmentTimeout,
		ProviderTimeout:    cfg.ProviderTimeout,
		EnrichmentBatch:    cfg.EnrichmentBatchSize,
		WatchRenewalLead:   cfg.WatchRenewalLead,
		SendRecoveryWindow: cfg.SendRecoveryWindow,
		RetentionAge:       cfg.RetentionAge,
		BackstopStaleAfter: cfg.BackstopInterval * 4,
	})

	sched := scheduler.NewScheduler()
	sched.Register(scheduler.TaskWatchRenewal, cfg.WatchRenewalInterval, tasks.WatchRenewal)
	sched.Register(scheduler.TaskBacklogEnrichment, cfg.EnrichmentInterval, tasks.BacklogEnrichment)
	sched.Register(scheduler.TaskScheduledSend, cfg.SendInterval, tasks.ScheduledSendDelivery)
	sched.Register(scheduler.TaskBackstop, cfg.BackstopInterval, tasks.BackstopReconciliation)
	sched.Register(scheduler.TaskEngagement, cfg.EngagementInterval, tasks.EngagementRefresh)
	sched.Register(scheduler.TaskRetention, cfg.CleanupInterval, tasks.RetentionCleanup)
	sched.Start()
	defer sched.Stop()

	// HTTP transport
	handler := api.NewHandler(accountRepo, sendRepo, deviceTokenRepo, watchManager, notifService, hub, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
