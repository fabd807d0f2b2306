package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// DatabaseURL is optional: when empty the idempotency store runs
	// in-memory, which is fine for a single instance.
	DatabaseURL string

	StorageDir     string
	StorageBaseURL string

	GeoIPDBPath        string
	DefaultLocale      string
	CORSAllowedOrigins []string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	PricingTablePath string
	DailyBudgetUSD   string

	SubmitCooldown time.Duration
	IdempotencyTTL time.Duration
	RefURLMaxAge   time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	SheetsCredentialsFile string
	SheetsSpreadsheetID   string

	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout defaults to 0 (unlimited): the progress stream holds
	// the response open for the lifetime of a batch.
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	StreamPollInterval      time.Duration
	StreamHeartbeatInterval time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                  getEnv("APP_ENV", "development"),
		Port:                    getEnv("PORT", "8080"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		StorageDir:              getEnv("STORAGE_DIR", "data"),
		StorageBaseURL:          getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:             os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:           getEnv("DEFAULT_LOCALE", "en"),
		CORSAllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
		GeminiAPIKey:            os.Getenv("GEMINI_API_KEY"),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:           getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		PricingTablePath:        os.Getenv("PRICING_TABLE_PATH"),
		DailyBudgetUSD:          getEnv("DAILY_BUDGET_USD", "5.00"),
		SubmitCooldown:          getEnvSeconds("SUBMIT_COOLDOWN_SECONDS", 60),
		IdempotencyTTL:          getEnvSeconds("IDEMPOTENCY_TTL_SECONDS", 24*60*60),
		RefURLMaxAge:            getEnvSeconds("REF_URL_MAX_AGE_SECONDS", 30*60),
		RetryMaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:          getEnvMillis("RETRY_BASE_DELAY_MS", 500),
		RetryMaxDelay:           getEnvMillis("RETRY_MAX_DELAY_MS", 8000),
		SheetsCredentialsFile:   os.Getenv("SHEETS_CREDENTIALS_FILE"),
		SheetsSpreadsheetID:     os.Getenv("SHEETS_SPREADSHEET_ID"),
		HTTPReadTimeout:         getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout:        getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 0),
		HTTPIdleTimeout:         getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		StreamPollInterval:      getEnvMillis("STREAM_POLL_INTERVAL_MS", 2000),
		StreamHeartbeatInterval: getEnvSeconds("STREAM_HEARTBEAT_SECONDS", 30),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Millisecond * time.Duration(getEnvInt(key, fallback))
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
