package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/voicetodo/internal/httpc"
)

// Client fetches credentials from a voicetodo backend.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the backend at the configured server URL.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.ServerURL == "" {
		return nil, ErrMissingServerURL
	}

	return &Client{
		url:    strings.TrimSuffix(cfg.ServerURL, "/") + "/session",
		http:   httpc.Or(cfg.HTTPClient),
		logger: cfg.Logger.With("component", "broker.client"),
	}, nil
}

// Fetch requests a fresh credential.
func (c *Client) Fetch(ctx context.Context) (Credential, error) {
	req, err := httpc.NewRequest(ctx, http.MethodGet, c.url, "", "", nil)
	if err != nil {
		return Credential{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("broker: fetch credential: %w", err)
	}
	defer resp.Body.Close()

	body, err := httpc.ReadLimited(resp, maxPayload)
	if err != nil {
		return Credential{}, fmt.Errorf("broker: read credential: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Credential{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	cred, err := ParseCredential(body)
	if err != nil {
		return Credential{}, err
	}

	c.logger.Debug("credential fetched", "expires_at", cred.ExpiresAt)
	return cred, nil
}
