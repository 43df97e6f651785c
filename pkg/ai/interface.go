package ai

import "context"

// EnrichmentResult is the AI-derived annotation for one email.
type EnrichmentResult struct {
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// Known categories. The model is prompted to pick one of these; anything
// else is normalized to "other".
var KnownCategories = []string{"personal", "work", "promotions", "social", "updates", "other"}

// Enricher is the interface for AI email enrichment.
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
// Implementations must be safe for concurrent use and must honor ctx deadlines.
type Enricher interface {
	Enrich(ctx context.Context, subject, body string) (*EnrichmentResult, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)

// NormalizeCategory maps free-form model output onto a known category.
func NormalizeCategory(category string) string {
	for _, known := range KnownCategories {
		if category == known {
			return category
		}
	}
	return "other"
}
