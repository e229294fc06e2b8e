package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// NATS JetStream
	NATSURL string

	// Report blob storage
	S3Bucket   string
	S3Region   string
	S3Endpoint string // non-empty for S3-compatible stores (minio etc.)
	PresignTTL time.Duration

	// AI verification
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	BatchSize       int           // criteria per verification sub-batch
	VerifyInterval  time.Duration // orchestrator poll interval for scans awaiting verification

	// Checkpoints
	CheckpointDir string

	// Notifications
	RoutesFile        string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFrom          string
	SMTPRequireTLS    bool
	NotifyMinDuration time.Duration // scans finishing faster than this skip the send

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "a11ypipe"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		NATSURL: getEnv("A11YPIPE_NATS_URL", "nats://localhost:4222"),

		S3Bucket:   getEnv("A11YPIPE_S3_BUCKET", "a11ypipe-reports"),
		S3Region:   getEnv("A11YPIPE_S3_REGION", "eu-central-1"),
		S3Endpoint: getEnv("A11YPIPE_S3_ENDPOINT", ""),
		PresignTTL: getDuration("A11YPIPE_PRESIGN_TTL", time.Hour),

		LLMProvider:     getEnv("A11YPIPE_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("A11YPIPE_LLM_MODEL", "llama3.1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		BatchSize:       getInt("A11YPIPE_VERIFY_BATCH_SIZE", 10),
		VerifyInterval:  getDuration("A11YPIPE_VERIFY_INTERVAL", 30*time.Second),

		CheckpointDir: getEnv("A11YPIPE_CHECKPOINT_DIR", "/var/lib/a11ypipe/checkpoints"),

		RoutesFile:        getEnv("A11YPIPE_ROUTES_FILE", "/etc/a11ypipe/routes.yaml"),
		SMTPHost:          getEnv("A11YPIPE_SMTP_HOST", "localhost"),
		SMTPPort:          getInt("A11YPIPE_SMTP_PORT", 587),
		SMTPUsername:      getEnv("A11YPIPE_SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("A11YPIPE_SMTP_PASSWORD", ""),
		SMTPFrom:          getEnv("A11YPIPE_SMTP_FROM", "reports@a11ypipe.dev"),
		SMTPRequireTLS:    getEnv("A11YPIPE_SMTP_REQUIRE_TLS", "true") == "true",
		NotifyMinDuration: getDuration("A11YPIPE_NOTIFY_MIN_DURATION", 10*time.Second),

		LogFile:  getEnv("A11YPIPE_LOG_FILE", "/tmp/a11ypipe.log"),
		LogLevel: parseLogLevel(getEnv("A11YPIPE_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
