// Package enhance rewrites free-text medical notes with an external language
// model. Strictly best-effort: whatever goes wrong, the caller gets the input
// back unchanged. It is a formatting aid, never a source of truth.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

const prompt = `You are a helpful medical assistant.
Analyze the following unstructured notes from an elderly patient or their caregiver:
%q

Output a clean, professional summary in Spanish suitable for emergency personnel.
Use bullet points if necessary. Keep it concise. Do not add any conversational text, just the cleaned information.`

// Service is the notes-cleanup capability. A zero-key Service is permanently
// disabled and still safe to call.
type Service struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New builds the capability once at startup. apiKey empty means the feature
// is absent, not an error.
func New(apiKey, model, endpoint string) *Service {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = fmt.Sprintf(defaultEndpoint, model)
	}
	return &Service{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether a credential is configured.
func (s *Service) Enabled() bool {
	return strings.TrimSpace(s.apiKey) != ""
}

// Enhance rewrites text. It never returns an error and never partially
// applies: the result is either the full rewritten text or the input.
func (s *Service) Enhance(ctx context.Context, text string) string {
	if !s.Enabled() || strings.TrimSpace(text) == "" {
		return text
	}

	cleaned, err := s.invoke(ctx, text)
	if err != nil {
		log.Printf("enhance: degraded, keeping original notes: %v", err)
		return text
	}
	if strings.TrimSpace(cleaned) == "" {
		return text
	}
	return cleaned
}

func (s *Service) invoke(ctx context.Context, text string) (string, error) {
	requestBody, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": fmt.Sprintf(prompt, text)}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material travels only in this header, never in errors.
	req.Header.Set("x-goog-api-key", s.apiKey)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return "", fmt.Errorf("read error body: %w", readErr)
		}
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var out strings.Builder
	for _, candidate := range payload.Candidates {
		for _, part := range candidate.Content.Parts {
			out.WriteString(part.Text)
		}
		break
	}
	return strings.TrimSpace(out.String()), nil
}
