package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/unranked/internal/domain"
	"go-simpler.org/env"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StorageBackend string `env:"STORAGE_BACKEND" default:"memory"`
	RedisURL       string `env:"REDIS_URL"`
	DatabaseURL    string `env:"DATABASE_URL"`

	DiscordToken        string `env:"DISCORD_TOKEN"`
	ChannelUnrankedID   string `env:"CHANNEL_UNRANKED_ID"`
	ChannelBotStatusID  string `env:"CHANNEL_BOT_STATUS_ID"`
	AuthRoleID          string `env:"AUTH_ROLE_ID"`
	RegistrationGuildID string `env:"REGISTRATION_GUILD_ID"`
	RawOwners           string `env:"OWNERS"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"60s"`
	DiscordSendRate   float64       `env:"DISCORD_SEND_RATE" default:"5"`

	// Owners is parsed from RawOwners during Load.
	Owners []domain.UserID
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	owners, err := parseOwners(cfg.RawOwners)
	if err != nil {
		return nil, err
	}
	cfg.Owners = owners

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsOwner reports whether id is listed in OWNERS.
func (c *Config) IsOwner(id domain.UserID) bool {
	return slices.Contains(c.Owners, id)
}

func parseOwners(raw string) ([]domain.UserID, error) {
	var owners []domain.UserID
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := domain.ParseUserID(part)
		if err != nil {
			return nil, fmt.Errorf("OWNERS contains invalid user id %q: %w", part, err)
		}
		owners = append(owners, id)
	}
	return owners, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DISCORD_TOKEN", cfg.DiscordToken},
		{"CHANNEL_UNRANKED_ID", cfg.ChannelUnrankedID},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	switch cfg.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORAGE_BACKEND=redis")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, postgres, got %q", cfg.StorageBackend)
	}

	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.DiscordSendRate <= 0 {
		return errors.New("DISCORD_SEND_RATE must be positive")
	}

	return nil
}
