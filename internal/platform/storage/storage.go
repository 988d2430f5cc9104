// Package storage contains the client for the object storage service that
// holds reference uploads and generated images.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/lumagen/credit-engine/internal/config"
)

// Uploader is the outbound storage dependency of the orchestrator
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, contentType, folder string) (string, error)

	// IngestURL asks the storage service to copy a remote object, typically
	// a short-lived provider result URL, into durable storage.
	IngestURL(ctx context.Context, sourceURL, filename, folder string) (string, error)
}

// Client is the HTTP implementation of Uploader
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
	apiKey  string
	folder  string
}

func NewClient(logger *slog.Logger, cfg *config.StorageConfig) *Client {
	return &Client{
		logger:  logger,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		folder:  cfg.Folder,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// DefaultFolder returns the configured folder for generated assets
func (c *Client) DefaultFolder() string {
	return c.folder
}

// Upload stores data under folder/filename and returns the public URL
func (c *Client) Upload(ctx context.Context, data []byte, filename, contentType, folder string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("folder", folder); err != nil {
		return "", fmt.Errorf("failed to write upload folder field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create upload form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write upload payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("storage returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode storage response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("storage response missing url")
	}

	c.logger.Debug("Uploaded object", "filename", filename, "folder", folder)
	return result.URL, nil
}

// IngestURL copies a remote object into durable storage and returns its URL
func (c *Client) IngestURL(ctx context.Context, sourceURL, filename, folder string) (string, error) {
	body, err := json.Marshal(struct {
		SourceURL string `json:"source_url"`
		Filename  string `json:"filename"`
		Folder    string `json:"folder"`
	}{
		SourceURL: sourceURL,
		Filename:  filename,
		Folder:    folder,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files/ingest", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage ingest failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("storage returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode storage response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("storage response missing url")
	}

	c.logger.Debug("Ingested remote object", "filename", filename, "folder", folder)
	return result.URL, nil
}
