package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	AppModeDevelopment = "development"
	AppModeProduction  = "production"
)

// Config carries every tunable the workers need. It is loaded once in main()
// and passed down through constructors; nothing in this codebase reads the
// environment after startup.
type Config struct {
	AppMode string `validate:"oneof=development staging production"`

	// Bot throttling (events per client IP per 5 minute window).
	BotThrottleLimit int `validate:"min=1"`

	// MaximumRetentionDays caps every plan's retention period. Zero disables
	// the cap.
	MaximumRetentionDays int `validate:"min=0"`

	// EnableRepositoryNotifications controls whether entity-changed messages
	// are published at all.
	EnableRepositoryNotifications bool

	// WorkItemTimeout bounds a single handling attempt. It should stay below
	// the queue's visibility timeout so an abandoned item is not redelivered
	// while the first attempt is still running.
	WorkItemTimeout time.Duration `validate:"min=1s"`

	RetentionPageSize int           `validate:"min=1"`
	RetentionPace     time.Duration `validate:"min=0"`

	RedisAddress string `validate:"required"`

	PubSubProjectId          string
	WorkItemTopic            string `validate:"required"`
	WorkItemSubscription     string `validate:"required"`
	EntityChangedTopic       string `validate:"required"`
	WorkItemStatusTopic      string `validate:"required"`
	PubSubCreateTopics       bool
	PubSubCredentialsJSON    string
	PubSubAckDeadlineSeconds int `validate:"min=10,max=600"`

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
}

// Load reads the environment (plus .env for local dev) into a validated
// Config.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		AppMode:                       envStringDefault("APP_MODE", AppModeProduction),
		BotThrottleLimit:              envIntDefault("BOT_THROTTLE_LIMIT", 25),
		MaximumRetentionDays:          envIntDefault("MAXIMUM_RETENTION_DAYS", 0),
		EnableRepositoryNotifications: envBoolDefault("ENABLE_REPOSITORY_NOTIFICATIONS", true),
		WorkItemTimeout:               envDurationDefault("WORK_ITEM_TIMEOUT", 10*time.Minute),
		RetentionPageSize:             envIntDefault("RETENTION_PAGE_SIZE", 100),
		RetentionPace:                 envDurationDefault("RETENTION_PACE", 5*time.Second),
		RedisAddress:                  envStringDefault("REDIS_ADDRESS", "localhost:6379"),
		PubSubProjectId:               pubSubProjectId(),
		WorkItemTopic:                 envStringDefault("WORK_ITEM_TOPIC", "work-items"),
		WorkItemSubscription:          envStringDefault("WORK_ITEM_SUBSCRIPTION", "work-items-processor"),
		EntityChangedTopic:            envStringDefault("ENTITY_CHANGED_TOPIC", "entity-changed"),
		WorkItemStatusTopic:           envStringDefault("WORK_ITEM_STATUS_TOPIC", "work-item-status"),
		PubSubCreateTopics:            envBoolDefault("PUBSUB_CREATE_TOPICS", false),
		PubSubCredentialsJSON:         os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		PubSubAckDeadlineSeconds:      envIntDefault("PUBSUB_ACK_DEADLINE_SECONDS", 600),
		DBUser:                        os.Getenv("DB_USER"),
		DBPassword:                    os.Getenv("DB_PASSWORD"),
		DBHost:                        os.Getenv("DB_HOST"),
		DBPort:                        envStringDefault("DB_PORT", "3306"),
		DBName:                        os.Getenv("DB_NAME"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppMode == AppModeDevelopment
}

func pubSubProjectId() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	return os.Getenv("GCP_PROJECT")
}

func envStringDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
