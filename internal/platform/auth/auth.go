// Package auth contains the client for the identity service that resolves
// bearer tokens to account ids.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/config"
)

// ErrInvalidToken is returned when the identity service rejects a token
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenVerifier resolves a bearer token to the authenticated account id
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (uuid.UUID, error)
}

// Client is the HTTP implementation of TokenVerifier
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
}

func NewClient(logger *slog.Logger, cfg *config.AuthConfig) *Client {
	return &Client{
		logger:  logger,
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Verify asks the identity service who the token belongs to
func (c *Client) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/verify", nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token verification failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized, http.StatusForbidden:
		return uuid.Nil, ErrInvalidToken
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return uuid.Nil, fmt.Errorf("identity service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		AccountID uuid.UUID `json:"account_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if result.AccountID == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}
	return result.AccountID, nil
}
