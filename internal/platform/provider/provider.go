// Package provider contains the client for the external image generation
// service. The client holds the whole per-call budget; callers decide how the
// budget composes with their own deadlines.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumagen/credit-engine/internal/config"
)

// GenerateParams describes one generation call to the provider
type GenerateParams struct {
	Prompt         string   `json:"prompt"`
	ModelID        string   `json:"model"`
	ReferenceURLs  []string `json:"reference_urls,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
	Quality        string   `json:"quality,omitempty"`
	IdempotencyKey string   `json:"-"`
}

// GenerateResult is the provider's successful response
type GenerateResult struct {
	ImageURL    string `json:"image_url"`
	ContentType string `json:"content_type"`
}

// ImageProvider is the outbound generation dependency of the orchestrator
type ImageProvider interface {
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

// Client is the HTTP implementation of ImageProvider
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(logger *slog.Logger, cfg *config.ProviderConfig) *Client {
	return &Client{
		logger:  logger,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Generate submits a generation call and blocks until the provider answers or
// the call budget elapses. Timeout and transport errors are returned as-is so
// callers can distinguish an unknown outcome from a provider rejection.
func (c *Client) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if params.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", params.IdempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Provider returned non-OK status",
			"status", resp.StatusCode,
			"model", params.ModelID,
			"elapsed", time.Since(start),
		)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if result.ImageURL == "" {
		return nil, fmt.Errorf("provider response missing image url")
	}

	c.logger.Debug("Provider call succeeded",
		"model", params.ModelID,
		"elapsed", time.Since(start),
	)
	return &result, nil
}
