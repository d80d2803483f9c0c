package broker

import (
	"log/slog"
	"net/http"

	"github.com/teslashibe/voicetodo/internal/config"
)

// Config holds configuration for the broker and its client.
type Config struct {
	// APIKey is the long-lived server secret.
	APIKey string

	// BaseURL is the provider API root, e.g. https://api.openai.com/v1.
	BaseURL string

	// Model, Voice, Modalities and Instructions describe the session to create.
	Model        string
	Voice        string
	Modalities   []string
	Instructions string

	// ServerURL is the voicetodo backend the client fetches from.
	ServerURL string

	// HTTPClient overrides the shared client.
	HTTPClient *http.Client

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the stock session settings.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      config.DefaultOpenAIURL,
		Model:        config.DefaultModel,
		Voice:        config.DefaultVoice,
		Modalities:   []string{"audio", "text"},
		Instructions: config.DefaultInstructions,
		ServerURL:    config.DefaultServerURL,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for the broker and client.
type Option func(*Config)

// WithAPIKey sets the server secret.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL sets the provider API root.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithVoice sets the response voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		if voice != "" {
			c.Voice = voice
		}
	}
}

// WithModalities sets the enabled modalities.
func WithModalities(m ...string) Option {
	return func(c *Config) {
		if len(m) > 0 {
			c.Modalities = m
		}
	}
}

// WithInstructions sets the system prompt.
func WithInstructions(s string) Option {
	return func(c *Config) {
		if s != "" {
			c.Instructions = s
		}
	}
}

// WithServerURL sets the backend the client fetches credentials from.
func WithServerURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.ServerURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
