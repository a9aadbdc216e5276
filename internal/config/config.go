package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Enrichment (OpenAI)
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIEndpoint      string
	EnrichTimeout       time.Duration
	EnrichRatePerMinute int

	// Scheduling
	ReconcileSchedule string
	DedupSchedule     string

	// Rate Limit
	RateLimitFeed int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string

	// Feed cache (Redis)
	RedisURL     string
	FeedCacheTTL time.Duration

	// Geo lookup
	GeoLookupBase    string
	GeoLookupTimeout time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// OPENAI_API_KEYはフィード配信だけの構成でも起動できるようここでは必須にせず、
// 調整処理を実行するコマンド側で検証する。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4.1-mini")
	cfg.OpenAIEndpoint = getEnvString("OPENAI_ENDPOINT", "")
	cfg.EnrichTimeout = getEnvDuration("ENRICH_TIMEOUT", 60*time.Second)
	cfg.EnrichRatePerMinute = getEnvInt("ENRICH_RATE_PER_MINUTE", 30)
	cfg.ReconcileSchedule = getEnvString("RECONCILE_SCHEDULE", "@every 6h")
	cfg.DedupSchedule = getEnvString("DEDUP_SCHEDULE", "@every 1h")
	cfg.RateLimitFeed = getEnvInt("RATE_LIMIT_FEED", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigins = splitOrigins(getEnvString("CORS_ALLOWED_ORIGINS", "*"))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.FeedCacheTTL = getEnvDuration("FEED_CACHE_TTL", 60*time.Second)
	cfg.GeoLookupBase = os.Getenv("GEO_LOOKUP_BASE")
	cfg.GeoLookupTimeout = getEnvDuration("GEO_LOOKUP_TIMEOUT", 150*time.Millisecond)

	return cfg, nil
}

// RequireOpenAIAPIKey は調整処理を実行する構成で必須の設定を検証する。
func (c *Config) RequireOpenAIAPIKey() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("required environment variables are not set: [OPENAI_API_KEY]")
	}
	return nil
}

// splitOrigins はカンマ区切りのオリジンリストを分割する。
func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
