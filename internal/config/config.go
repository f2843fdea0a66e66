// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
)

type Config struct {
	Port               string
	BackendURL         string
	MockBackend        bool
	BackendMode        string // "json" or "text", used by the mock backend
	SlackBotToken      string
	SlackSigningSecret string
	SlackStreamMode    string // "update" or "thread"
	WorkerPoolSize     int
	LogLevel           string
}

// SlackEnabled reports whether the Slack bridge should be mounted.
func (c Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackSigningSecret != ""
}

func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Config{
		Port:               os.Getenv("PORT"),
		BackendURL:         os.Getenv("BACKEND_URL"),
		BackendMode:        os.Getenv("BACKEND_MODE"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		SlackStreamMode:    os.Getenv("SLACK_STREAM_MODE"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		WorkerPoolSize:     10,
	}
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = backend.DefaultURL
	}
	if cfg.BackendMode != backend.ModeText {
		cfg.BackendMode = backend.ModeJSON
	}
	if cfg.SlackStreamMode != "thread" {
		cfg.SlackStreamMode = "update"
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackSigningSecret == "") {
		return Config{}, errors.New("SLACK_BOT_TOKEN and SLACK_SIGNING_SECRET must be set together")
	}
	if v := os.Getenv("MOCK_BACKEND"); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("MOCK_BACKEND: %w", err)
		}
		cfg.MockBackend = mock
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("WORKER_POOL_SIZE: %w", err)
		}
		if n < 1 {
			return Config{}, fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", n)
		}
		cfg.WorkerPoolSize = n
	}
	return cfg, nil
}
