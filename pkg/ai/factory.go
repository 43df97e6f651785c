package ai

import (
	"context"
	"fmt"

	"mailflow-backend/pkg/gemini"
)

// geminiEnricher adapts the Gemini client to the Enricher interface.
type geminiEnricher struct {
	svc *gemini.GeminiService
}

func (g *geminiEnricher) Enrich(ctx context.Context, subject, body string) (*EnrichmentResult, error) {
	summary, category, err := g.svc.AnnotateEmail(ctx, subject, body)
	if err != nil {
		return nil, err
	}
	return &EnrichmentResult{
		Summary:  summary,
		Category: NormalizeCategory(category),
	}, nil
}

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	// Gemini config
	GeminiAPIKey string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"
}

// NewEnricher creates an Enricher based on the config.
// This is the factory function - switch AI provider by changing config.Provider
func NewEnricher(cfg Config) (Enricher, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return &geminiEnricher{svc: gemini.NewGeminiService(cfg.GeminiAPIKey)}, nil

	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	default:
		// Auto: both providers behind the fallback router when possible
		ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
		if cfg.GeminiAPIKey != "" {
			return NewFallbackService(&geminiEnricher{svc: gemini.NewGeminiService(cfg.GeminiAPIKey)}, ollama), nil
		}
		return ollama, nil
	}
}
