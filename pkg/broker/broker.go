// Package broker exchanges the server's long-lived API key for a
// short-lived Realtime session credential, and fetches that credential on
// the client side.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/voicetodo/internal/httpc"
)

// maxPayload bounds how much of an upstream reply is read.
const maxPayload = 1 << 20

// Broker issues session credentials. It is safe for concurrent use.
type Broker struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Broker. An API key is required.
func New(opts ...Option) (*Broker, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Broker{
		config: cfg,
		http:   httpc.Or(cfg.HTTPClient),
		logger: cfg.Logger.With("component", "broker"),
	}, nil
}

type sessionRequest struct {
	Model        string   `json:"model"`
	Voice        string   `json:"voice"`
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

// Issue creates a session upstream and returns its payload byte-for-byte.
// The payload is only returned when it holds a non-empty client_secret.value;
// otherwise the error wraps ErrNoClientSecret.
func (b *Broker) Issue(ctx context.Context) ([]byte, error) {
	start := time.Now()

	body, err := json.Marshal(sessionRequest{
		Model:        b.config.Model,
		Voice:        b.config.Voice,
		Modalities:   b.config.Modalities,
		Instructions: b.config.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: encode request: %w", err)
	}

	req, err := httpc.NewRequest(ctx, http.MethodPost, b.config.BaseURL+"/realtime/sessions",
		b.config.APIKey, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: create session: %w", err)
	}
	defer resp.Body.Close()

	payload, err := httpc.ReadLimited(resp, maxPayload)
	if err != nil {
		return nil, fmt.Errorf("broker: read session: %w", err)
	}

	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("broker: decode session (HTTP %d): %w", resp.StatusCode, err)
	}

	if p.ClientSecret == nil || p.ClientSecret.Value == "" {
		var apiErr *APIError
		if resp.StatusCode >= 300 || p.Error != nil {
			apiErr = &APIError{StatusCode: resp.StatusCode}
			if p.Error != nil {
				apiErr.Code, apiErr.Message = p.Error.Code, p.Error.Message
			}
		}
		return nil, missingSecret(apiErr)
	}

	b.logger.Debug("session issued",
		"session_id", p.ID,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds())

	return payload, nil
}
