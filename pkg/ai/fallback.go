package ai

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackService routes enrichment across providers:
// Ollama first (local, free), fallback to Gemini, and one Ollama retry when
// Gemini reports quota exhaustion.
type FallbackService struct {
	gemini Enricher
	ollama *OllamaService
}

// NewFallbackService creates a new fallback service with both providers
func NewFallbackService(gemini Enricher, ollama *OllamaService) *FallbackService {
	return &FallbackService{
		gemini: gemini,
		ollama: ollama,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}

	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}

	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// Enrich tries Ollama first (free, local), falls back to Gemini on failure.
func (f *FallbackService) Enrich(ctx context.Context, subject, body string) (*EnrichmentResult, error) {
	if f.ollama != nil {
		result, err := f.ollama.Enrich(ctx, subject, body)
		if err == nil {
			return result, nil
		}
		if isConnectionError(err) {
			log.Printf("[AI] Ollama connection failed: %v, falling back to Gemini", err)
		} else {
			log.Printf("[AI] Ollama error: %v, falling back to Gemini", err)
		}
	}

	if f.gemini != nil {
		result, err := f.gemini.Enrich(ctx, subject, body)
		if err == nil {
			return result, nil
		}

		// If Gemini fails with quota error, try Ollama again (might have been temp issue)
		if isQuotaError(err) && f.ollama != nil {
			log.Printf("[AI] Gemini quota exhausted: %v, retrying Ollama", err)
			return f.ollama.Enrich(ctx, subject, body)
		}

		return nil, fmt.Errorf("gemini enrichment failed: %w", err)
	}

	return nil, fmt.Errorf("no AI provider available for enrichment")
}
