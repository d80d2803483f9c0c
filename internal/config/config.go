// Package config loads voicetodo configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then environment variables. Command line flags are applied by the caller
// on top of the returned Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults taken from the hosted Realtime setup the app was built against.
const (
	DefaultPort         = "3000"
	DefaultPublicDir    = "public"
	DefaultOpenAIURL    = "https://api.openai.com/v1"
	DefaultModel        = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice        = "verse"
	DefaultServerURL    = "http://localhost:3000"
	DefaultResumeDelay  = 1500 * time.Millisecond
	DefaultToastTimeout = 3 * time.Second
)

// DefaultInstructions is the system prompt sent when creating a session.
const DefaultInstructions = `You are a transcriber for a to-do list app.
Convert the user's speech to text and send only final transcripts.
Avoid sending partial transcripts.`

// ErrMissingAPIKey is returned by Server.Validate when no secret is configured.
var ErrMissingAPIKey = errors.New("config: OPENAI_API_KEY is required")

// Server configures the credential broker and static file server.
type Server struct {
	Port         string   `yaml:"port"`
	PublicDir    string   `yaml:"public_dir"`
	APIKey       string   `yaml:"-"`
	OpenAIURL    string   `yaml:"openai_url"`
	Model        string   `yaml:"model"`
	Voice        string   `yaml:"voice"`
	Modalities   []string `yaml:"modalities"`
	Instructions string   `yaml:"instructions"`
	Debug        bool     `yaml:"debug"`
}

// Validate checks the fields the server cannot start without.
func (s Server) Validate() error {
	if s.APIKey == "" {
		return ErrMissingAPIKey
	}
	if s.Port == "" {
		return errors.New("config: port is required")
	}
	return nil
}

// Listener configures the terminal client.
type Listener struct {
	ServerURL    string        `yaml:"server_url"`
	RealtimeURL  string        `yaml:"realtime_url"`
	Model        string        `yaml:"model"`
	Input        string        `yaml:"input"`
	Output       string        `yaml:"output"`
	MirrorURL    string        `yaml:"mirror_url"`
	ResumeDelay  time.Duration `yaml:"resume_delay"`
	ToastTimeout time.Duration `yaml:"toast_timeout"`
}

// Config is the full configuration file.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	Server   Server   `yaml:"server"`
	Listener Listener `yaml:"listener"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Port:         DefaultPort,
			PublicDir:    DefaultPublicDir,
			OpenAIURL:    DefaultOpenAIURL,
			Model:        DefaultModel,
			Voice:        DefaultVoice,
			Modalities:   []string{"audio", "text"},
			Instructions: DefaultInstructions,
		},
		Listener: Listener{
			ServerURL:    DefaultServerURL,
			RealtimeURL:  DefaultOpenAIURL,
			Model:        DefaultModel,
			ResumeDelay:  DefaultResumeDelay,
			ToastTimeout: DefaultToastTimeout,
		},
	}
}

// Load reads path (when non-empty) over the defaults and then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.LogLevel, "LOG_LEVEL")

	c.Server.APIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))
	set(&c.Server.Port, "PORT")
	set(&c.Server.PublicDir, "PUBLIC_DIR")
	set(&c.Server.OpenAIURL, "OPENAI_BASE_URL")
	set(&c.Server.Model, "REALTIME_MODEL")
	set(&c.Server.Voice, "REALTIME_VOICE")

	set(&c.Listener.ServerURL, "VOICETODO_SERVER")
	set(&c.Listener.RealtimeURL, "OPENAI_BASE_URL")
	set(&c.Listener.Model, "REALTIME_MODEL")
}
