package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"replyloop.app/engine/core/db"
	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/surface"
)

type Config struct {
	OTel     OTelConfig
	Redis    RedisConfig
	OpenAI   OpenAIConfig
	Engine   EngineConfig
	Surface  SurfaceConfig
	Env      string
	Port     string
	StateDir string
	DB       db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type RedisConfig struct {
	URL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EngineConfig carries the wiring knobs that are not live-tunable:
// where the source list lives and the env-level defaults for the
// engagement settings. The persisted settings blob overlays these
// between cycles.
type EngineConfig struct {
	SourcesFile string
	Defaults    model.Settings
}

// SurfaceConfig points at the bridge process that owns the rendering
// session and carries the selector bundle for the deployed platform.
type SurfaceConfig struct {
	URL       string
	Selectors surface.Selectors
}

// Load loads configuration from environment variables.
// In development it loads from a .env file first.
func Load() (Config, error) {
	if getEnv("ENGINE_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	defaults := model.DefaultSettings()
	defaults.IntervalMinSec = getEnvInt("ENGINE_INTERVAL_MIN_SEC", defaults.IntervalMinSec)
	defaults.IntervalMaxSec = getEnvInt("ENGINE_INTERVAL_MAX_SEC", defaults.IntervalMaxSec)
	defaults.SourceDelayMinSec = getEnvInt("ENGINE_SOURCE_DELAY_MIN_SEC", defaults.SourceDelayMinSec)
	defaults.SourceDelayMaxSec = getEnvInt("ENGINE_SOURCE_DELAY_MAX_SEC", defaults.SourceDelayMaxSec)
	defaults.SendDelayMinSec = getEnvInt("ENGINE_SEND_DELAY_MIN_SEC", defaults.SendDelayMinSec)
	defaults.SendDelayMaxSec = getEnvInt("ENGINE_SEND_DELAY_MAX_SEC", defaults.SendDelayMaxSec)
	defaults.FetchPageSize = getEnvInt("ENGINE_FETCH_PAGE_SIZE", defaults.FetchPageSize)
	defaults.MaxSendsPerSource = getEnvInt("ENGINE_MAX_SENDS_PER_SOURCE", defaults.MaxSendsPerSource)
	defaults.ReplyMinWords = getEnvInt("ENGINE_REPLY_MIN_WORDS", defaults.ReplyMinWords)
	defaults.ReplyMaxWords = getEnvInt("ENGINE_REPLY_MAX_WORDS", defaults.ReplyMaxWords)
	defaults.MaxItemAgeMin = getEnvInt("ENGINE_MAX_ITEM_AGE_MIN", defaults.MaxItemAgeMin)
	defaults.RetentionDays = getEnvInt("ENGINE_RETENTION_DAYS", defaults.RetentionDays)
	defaults.FailurePauseMin = getEnvInt("ENGINE_FAILURE_PAUSE_MIN", defaults.FailurePauseMin)
	defaults.CustomPrompt = getEnv("ENGINE_CUSTOM_PROMPT", "")

	cfg := Config{
		Env:      getEnv("ENGINE_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		StateDir: getEnv("ENGINE_STATE_DIR", "data"),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "engagement-engine"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Engine: EngineConfig{
			SourcesFile: getEnv("ENGINE_SOURCES_FILE", "sources.yaml"),
			Defaults:    defaults,
		},
		Surface: SurfaceConfig{
			URL: getEnv("ENGINE_SURFACE_URL", "http://localhost:9222"),
			Selectors: surface.Selectors{
				EntryPoint:      getEnv("ENGINE_SEL_ENTRY_POINT", "[data-action=reply]"),
				Composer:        getEnv("ENGINE_SEL_COMPOSER", "[data-role=composer]"),
				Input:           getEnv("ENGINE_SEL_INPUT", "[data-role=composer-input]"),
				Submit:          getEnv("ENGINE_SEL_SUBMIT", "[data-action=submit]"),
				RateLimitNotice: getEnv("ENGINE_SEL_RATE_LIMIT", "[data-notice=rate-limit]"),
				SuccessAck:      getEnv("ENGINE_SEL_SUCCESS_ACK", "[data-notice=sent]"),
				Close:           getEnv("ENGINE_SEL_CLOSE", "[data-action=close]"),
				Cancel:          getEnv("ENGINE_SEL_CANCEL", "[data-action=cancel]"),
				DiscardConfirm:  getEnv("ENGINE_SEL_DISCARD_CONFIRM", "[data-action=discard]"),
				Item:            getEnv("ENGINE_SEL_ITEM", "[data-role=item]"),
			},
		},
	}

	if cfg.Engine.Defaults.IntervalMaxSec < cfg.Engine.Defaults.IntervalMinSec {
		return Config{}, fmt.Errorf("interval bounds inverted: min %d > max %d",
			cfg.Engine.Defaults.IntervalMinSec, cfg.Engine.Defaults.IntervalMaxSec)
	}

	return cfg, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c Config) DBEnabled() bool {
	return c.DB.DSN != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
