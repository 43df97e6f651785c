package gemini

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

type GeminiService struct {
	ApiKey string
	client *http.Client
}

func NewGeminiService(apiKey string) *GeminiService {
	return &GeminiService{ApiKey: apiKey, client: &http.Client{}}
}

// AnnotateEmail asks gemini-2.5-flash for a summary and a category for the
// given email. Category is returned as the raw model output; the caller
// normalizes it.
func (g *GeminiService) AnnotateEmail(ctx context.Context, subject, body string) (summary, category string, err error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent?key=" + g.ApiKey

	emailText := body
	if len(emailText) > 5000 {
		emailText = emailText[:5000]
	}

	prompt := fmt.Sprintf(`You are an email triage assistant. Analyze the email below and respond with ONLY a JSON object, no prose:

{"summary": "<one or two sentences capturing the point of the email>", "category": "<one of: personal, work, promotions, social, updates, other>"}

EMAIL:
Subject: %s

%s

JSON:`, subject, emailText)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", "", fmt.Errorf("gemini returned no candidates")
	}

	return parseAnnotation(result.Candidates[0].Content.Parts[0].Text)
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseAnnotation(raw string) (string, string, error) {
	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return "", "", fmt.Errorf("no JSON object in gemini output")
	}

	var parsed struct {
		Summary  string `json:"summary"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return "", "", fmt.Errorf("malformed annotation JSON: %w", err)
	}

	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return "", "", fmt.Errorf("gemini returned empty summary")
	}
	return summary, strings.ToLower(strings.TrimSpace(parsed.Category)), nil
}
