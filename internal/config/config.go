package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration surface.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
}

// TelegramConfig holds the bot credentials for workflow notifications.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// UpstreamConfig points at an optional external availability service. Empty
// URL means availability is reconstructed from the local ledger.
type UpstreamConfig struct {
	AvailabilityURL string `yaml:"availability_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Load reads the yaml config at path (missing file is fine) and applies env
// overrides. A .env file is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server:   ServerConfig{Port: 9000, DBPath: "stockreq.db"},
		Telegram: TelegramConfig{BaseURL: "https://api.telegram.org"},
		Upstream: UpstreamConfig{TimeoutSeconds: 10},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if v := os.Getenv("STOCKREQ_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("STOCKREQ_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("STOCKREQ_AVAILABILITY_URL"); v != "" {
		cfg.Upstream.AvailabilityURL = v
	}
	return cfg, nil
}
