package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// OllamaService implements Enricher using Ollama local LLM
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaService creates a new Ollama service
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaService{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

const enrichPrompt = `You are an email triage assistant. Analyze the email below and respond with ONLY a JSON object, no prose:

{"summary": "<one or two sentences capturing the point of the email>", "category": "<one of: personal, work, promotions, social, updates, other>"}

EMAIL:
Subject: %s

%s

JSON:`

// Enrich implements Enricher
func (o *OllamaService) Enrich(ctx context.Context, subject, body string) (*EnrichmentResult, error) {
	url := o.baseURL + "/api/generate"

	emailText := body
	// Truncate to avoid token limits
	if len(emailText) > 5000 {
		emailText = emailText[:5000]
	}

	payload := map[string]interface{}{
		"model":  o.model,
		"prompt": fmt.Sprintf(enrichPrompt, subject, emailText),
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.3,
			"num_predict": 150,
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return parseEnrichmentJSON(result.Response)
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseEnrichmentJSON extracts the JSON object from model output, which may
// be wrapped in markdown fences or chatter.
func parseEnrichmentJSON(raw string) (*EnrichmentResult, error) {
	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return nil, fmt.Errorf("no JSON object in model output: %q", truncate(raw, 120))
	}

	var result EnrichmentResult
	if err := json.Unmarshal([]byte(match), &result); err != nil {
		return nil, fmt.Errorf("malformed enrichment JSON: %w", err)
	}

	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return nil, fmt.Errorf("model returned empty summary")
	}
	result.Category = NormalizeCategory(strings.ToLower(strings.TrimSpace(result.Category)))
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
