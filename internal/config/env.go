package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "cardify-dev-secret"

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	Port         string
	JWTSecret    string
	CorsOrigins  []string
	LogMode      string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	AIAPIKey      string
	GenModel      string
	EmbedModel    string
	EmbedDim      int
	VisionEnabled bool

	DailyGenerationLimit int
	QuotaWindow          time.Duration

	Workers          int
	MaxRetries       int
	RetryDelay       time.Duration
	RetryPermanent   bool
	FlashcardTimeout time.Duration
	QuizTimeout      time.Duration
	MaxTextLength    int

	MaxUploadBytes  int64
	ShutdownTimeout time.Duration

	QueueBackend string
	RedisAddr    string
	RedisQueue   string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		CorsOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		LogMode:      getEnv("LOG_MODE", "dev"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "cardify-docs"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GenModel:      getEnv("GEN_MODEL", "gemini-2.0-flash"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		VisionEnabled: getEnvBool("GCP_VISION_ENABLED", true),

		DailyGenerationLimit: getEnvInt("DAILY_GENERATION_LIMIT", 10),
		QuotaWindow:          getEnvDuration("QUOTA_WINDOW", 24*time.Hour),

		Workers:          getEnvInt("PIPELINE_WORKERS", 4),
		MaxRetries:       getEnvInt("PIPELINE_MAX_RETRIES", 3),
		RetryDelay:       getEnvDuration("PIPELINE_RETRY_DELAY", 60*time.Second),
		RetryPermanent:   getEnvBool("PIPELINE_RETRY_PERMANENT", false),
		FlashcardTimeout: getEnvDuration("FLASHCARD_TIMEOUT", 60*time.Second),
		QuizTimeout:      getEnvDuration("QUIZ_TIMEOUT", 90*time.Second),
		MaxTextLength:    getEnvInt("MAX_TEXT_LENGTH", 15000),

		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisQueue:   getEnv("REDIS_QUEUE", "cardify:pipeline"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Printf("WARN: JWT_SECRET not set, using development secret")
		cfg.JWTSecret = devJWTSecret
	}
	switch cfg.QueueBackend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
