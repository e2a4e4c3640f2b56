// Package config loads environment variables into the typed Config the bot is
// started with. Load applies defaults so only credentials must be provided;
// Validate checks the credentials the selected transport needs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transports understood by BOT_TRANSPORT.
const (
	TransportMatrix = "matrix"
	TransportTwitch = "twitch"
)

type Config struct {
	Transport string `env:"BOT_TRANSPORT" envDefault:"matrix"`

	// Matrix
	UserID           string `env:"BOT_USER_ID" envDefault:"@virto_bot:matrix.org"`
	Password         string `env:"PASSWORD"`
	MatrixHomeserver string `env:"MATRIX_HOMESERVER"`
	MatrixDeviceName string `env:"MATRIX_DEVICE_NAME" envDefault:"reference-bot"`

	// Completion service
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4-0125-preview"`
	OpenAITimeout    time.Duration `env:"OPENAI_TIMEOUT" envDefault:"2m"`
	OpenAIMaxRetries int           `env:"OPENAI_MAX_RETRIES" envDefault:"0"`

	ReferenceDocPath string `env:"REFERENCE_DOC_PATH" envDefault:"virto.md"`

	// Twitch
	TwitchBotUsername string   `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken  string   `env:"TWITCH_OAUTH_TOKEN"`
	TwitchChannels    []string `env:"TWITCH_CHANNELS" envSeparator:","`

	// Database (optional; empty keeps sync state in memory)
	DBDsn         string `env:"DB_DSN"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// HTTP listener for health and metrics (optional; empty disables it)
	HTTPAddr string `env:"HTTP_ADDR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the environment once.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	return cfg, nil
}

// Validate checks that the selected transport has its credentials.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenAIModel) == "" {
		return errors.New("OPENAI_MODEL must not be empty")
	}
	switch c.Transport {
	case TransportMatrix:
		if c.UserID == "" {
			return errors.New("missing matrix env: require BOT_USER_ID")
		}
		if !strings.HasPrefix(c.UserID, "@") || !strings.Contains(c.UserID, ":") {
			return fmt.Errorf("BOT_USER_ID %q is not a matrix user id", c.UserID)
		}
		if c.Password == "" {
			return errors.New("missing matrix env: require PASSWORD")
		}
	case TransportTwitch:
		if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" || len(c.TwitchChannels) == 0 {
			return errors.New("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN, TWITCH_CHANNELS")
		}
	default:
		return fmt.Errorf("unknown BOT_TRANSPORT %q (want %s or %s)", c.Transport, TransportMatrix, TransportTwitch)
	}
	return nil
}
