package session

import (
	"log/slog"
	"time"

	"github.com/teslashibe/voicetodo/internal/config"
)

// Config holds Manager settings.
type Config struct {
	// ResumeDelay is how long Responding lasts before returning to Listening.
	ResumeDelay time.Duration

	// ConnectTimeout bounds one start attempt.
	ConnectTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ResumeDelay:    config.DefaultResumeDelay,
		ConnectTimeout: 30 * time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for New.
type Option func(*Config)

// WithResumeDelay sets the Responding -> Listening delay.
func WithResumeDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ResumeDelay = d
		}
	}
}

// WithConnectTimeout bounds each start attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ConnectTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
