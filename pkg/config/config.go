package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DatabaseURL         string
	JWTSecret           string
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleProjectID     string
	GooglePubSubTopic   string
	GoogleCredentials   string
	FirebaseCredentials string

	// AI enrichment
	AIProvider        string
	GeminiAPIKey      string
	OllamaBaseURL     string
	OllamaModel       string
	EnrichmentTimeout time.Duration

	// Sync engine
	ProviderTimeout      time.Duration
	WatchRenewalInterval time.Duration
	WatchRenewalLead     time.Duration
	BackstopInterval     time.Duration
	SendInterval         time.Duration
	SendRecoveryWindow   time.Duration
	EnrichmentInterval   time.Duration
	EnrichmentBatchSize  int
	EngagementInterval   time.Duration
	CleanupInterval      time.Duration
	RetentionAge         time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mailflow port=5432 sslmode=disable"),
		JWTSecret:           getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-updates"),
		GoogleCredentials:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		AIProvider:        getEnv("AI_PROVIDER", "auto"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3"),
		EnrichmentTimeout: getDuration("ENRICHMENT_TIMEOUT", 30*time.Second),

		ProviderTimeout:      getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		WatchRenewalInterval: getDuration("WATCH_RENEWAL_INTERVAL", 4*time.Hour),
		WatchRenewalLead:     getDuration("WATCH_RENEWAL_LEAD", 24*time.Hour),
		BackstopInterval:     getDuration("BACKSTOP_INTERVAL", 15*time.Minute),
		SendInterval:         getDuration("SCHEDULED_SEND_INTERVAL", 1*time.Minute),
		SendRecoveryWindow:   getDuration("SCHEDULED_SEND_RECOVERY_WINDOW", 10*time.Minute),
		EnrichmentInterval:   getDuration("ENRICHMENT_INTERVAL", 5*time.Minute),
		EnrichmentBatchSize:  getInt("ENRICHMENT_BATCH_SIZE", 50),
		EngagementInterval:   getDuration("ENGAGEMENT_INTERVAL", 1*time.Hour),
		CleanupInterval:      getDuration("CLEANUP_INTERVAL", 24*time.Hour),
		RetentionAge:         getDuration("RETENTION_AGE", 365*24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
