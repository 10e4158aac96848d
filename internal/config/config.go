package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	CORSOrigin    string
	LogLevel      string
	LogFormat     string

	// Editing policy
	LockTimeout      time.Duration
	AutoSaveInterval time.Duration
	DiffThreshold    float64
	VersionRetention int

	ReposDir string

	// Redis backs autosave windows, LLM rate counters, presence and the room relay.
	RedisURL string

	MeiliURL       string
	MeiliMasterKey string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	LLM LLMConfig
}

type LLMConfig struct {
	Provider           string
	Model              string
	APIKey             string
	BaseURL            string
	Timeout            time.Duration
	MaxRequestsPerHour int
	MaxTokens          int
	Temperature        float64
	Jurisdiction       string
	Language           string
}

// Load reads the process environment. A .env file in the working directory is
// applied first when present; variables already set win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:             getenv("API_ADDR", ":8787"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		MigrationsDir:    getenv("LEXDESK_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:        getenv("LEXDESK_JWT_SECRET", "lexdesk-dev-secret"),
		AccessTTL:        time.Duration(getenvInt("LEXDESK_ACCESS_TTL_SECONDS", 43200)) * time.Second,
		CORSOrigin:       getenv("LEXDESK_CORS_ORIGIN", "*"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "json"),
		LockTimeout:      time.Duration(getenvInt("LEXDESK_LOCK_TIMEOUT_SECONDS", 300)) * time.Second,
		AutoSaveInterval: time.Duration(getenvInt("LEXDESK_AUTOSAVE_INTERVAL_SECONDS", 30)) * time.Second,
		DiffThreshold:    getenvFloat("LEXDESK_DIFF_THRESHOLD", 0.10),
		VersionRetention: getenvInt("LEXDESK_VERSION_RETENTION", 0),
		ReposDir:         getenv("LEXDESK_REPOS_DIR", ""),
		RedisURL:         getenv("REDIS_URL", ""),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:    getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getenv("MINIO_BUCKET", "lexdesk-versions"),
		MinioUseSSL:      getenvBool("MINIO_USE_SSL", false),
		LLM: LLMConfig{
			Provider:           strings.ToLower(getenv("LLM_PROVIDER", "none")),
			Model:              getenv("LLM_MODEL", "gpt-4"),
			APIKey:             getenv("LLM_API_KEY", ""),
			BaseURL:            getenv("LLM_BASE_URL", ""),
			Timeout:            time.Duration(getenvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxRequestsPerHour: getenvInt("LLM_MAX_REQUESTS_PER_HOUR", 1000),
			MaxTokens:          getenvInt("LLM_MAX_TOKENS", 2000),
			Temperature:        getenvFloat("LLM_TEMPERATURE", 0.1),
			Jurisdiction:       getenv("LEGAL_JURISDICTION", "Albania"),
			Language:           getenv("LEGAL_LANGUAGE", "Albanian"),
		},
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
