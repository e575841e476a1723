package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Config configures the vision endpoint and HTTP behavior.
type Config struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Client calls an OpenAI-compatible vision endpoint and decodes the model's
// JSON answer into the structured extraction types. Timeouts come from the
// caller's context; the orchestrator owns the budget.
type Client struct {
	cfg Config
}

// NewClient builds an HTTP-backed extractor.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("oracle url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("oracle api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("oracle model is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}, nil
}

const identityPrompt = `You verify passport-class identity documents.
Examine the document image and the selfie. Return only JSON with keys:
document_valid, image_quality ("good"|"fair"|"unreadable"), surname, given_names,
date_of_birth (YYYY-MM-DD), expiry_date (YYYY-MM-DD), selfie_usable,
selfie_issues (array), face_match_confidence (0-100), consistency_ok, reasoning.
Report fields verbatim as printed. If a field cannot be read, use an empty
string. Never guess. Do not decide whether the submission passes.`

const grantDocumentPrompt = `You read working-with-children check grant notification documents.
Return only JSON with keys: surname, first_name, other_names, check_number,
clearance_type, expiry_date (YYYY-MM-DD), passed, reasoning.
"passed" is true only when the document is a genuine grant notification, the
check number is present, and the expiry date is in the future. Report fields
verbatim; use an empty string for anything unreadable.`

const walletScreenshotPrompt = `You read screenshots of the official working-with-children check wallet app.
Return only JSON with keys: surname, first_name, other_names, check_number,
clearance_type, expiry_date (YYYY-MM-DD), passed, reasoning.
"passed" is true only when the screenshot shows a current CLEARED clearance with
a readable check number and future expiry. Report fields verbatim; use an empty
string for anything unreadable.`

func (c *Client) ExtractIdentity(ctx context.Context, docURL, selfieURL string, submitted IdentitySubmission) (*IdentityExtraction, error) {
	userText := fmt.Sprintf(
		"Submitted surname: %s\nSubmitted given names: %s\nSubmitted date of birth: %s\nIssuing country: %s",
		submitted.Surname, submitted.GivenNames, submitted.DateOfBirth, submitted.Country)

	content := []map[string]any{
		{"type": "text", "text": userText},
		{"type": "image_url", "image_url": map[string]string{"url": docURL}},
		{"type": "image_url", "image_url": map[string]string{"url": selfieURL}},
	}

	var extraction IdentityExtraction
	if err := c.invoke(ctx, identityPrompt, content, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

func (c *Client) ExtractBackgroundCheck(ctx context.Context, docURL string, submitted WWCCSubmission) (*WWCCExtraction, error) {
	prompt := grantDocumentPrompt
	if submitted.Method == "wallet_screenshot" {
		prompt = walletScreenshotPrompt
	}
	userText := fmt.Sprintf(
		"Submitted surname: %s\nSubmitted given names: %s\nSubmitted check number: %s",
		submitted.Surname, submitted.GivenNames, submitted.CheckNumber)

	content := []map[string]any{
		{"type": "text", "text": userText},
		{"type": "image_url", "image_url": map[string]string{"url": docURL}},
	}

	var extraction WWCCExtraction
	if err := c.invoke(ctx, prompt, content, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

func (c *Client) invoke(ctx context.Context, system string, content []map[string]any, out any) error {
	requestBody, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": content},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return fmt.Errorf("marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material goes only into the Authorization header and is never
	// echoed in errors or logs.
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("oracle request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read oracle error body: %w", readErr)
		}
		return fmt.Errorf("oracle request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return fmt.Errorf("oracle response has no choices")
	}
	answer := strings.TrimSpace(payload.Choices[0].Message.Content)
	if answer == "" {
		return fmt.Errorf("oracle response missing content")
	}
	if err := json.Unmarshal([]byte(answer), out); err != nil {
		return fmt.Errorf("decode oracle extraction: %w", err)
	}
	return nil
}
