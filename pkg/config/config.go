package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	AIProviderOpenRouter = "openrouter"
	AIProviderGemini     = "gemini"

	defaultAIEndpoint       = "https://oi-server.onrender.com/chat/completions"
	defaultPublicStorageURL = "https://storage.animagenius.com"
)

type Config struct {
	DatabaseURL string
	Host        string
	Port        string
	JwtSecret   string
	LogLevel    string
	CORSOrigins []string

	// AI
	AIProvider   string
	AIEndpoint   string
	AIAPIKey     string
	AICustomerID string
	GeminiAPIKey string

	// PayPal
	PayPalClientID     string
	PayPalClientSecret string
	PayPalEnvironment  string
	PayPalWebhookID    string
	PayPalReturnURL    string
	PayPalCancelURL    string

	RedisURL string

	// Object storage. When S3Endpoint is empty uploads go to LocalStorageDir.
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool
	LocalStorageDir  string
	PublicStorageURL string

	RenderDelayFactor float64
	JobWorkers        int
	JobPollInterval   time.Duration
}

// LoadConfig reads the environment (and .env when present).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Host:        GetEnv("HOST", "127.0.0.1"),
		Port:        GetEnv("PORT", "8080"),
		JwtSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(GetEnv("CORS_ORIGINS", "http://localhost:3000")),

		AIProvider:   strings.ToLower(GetEnv("AI_PROVIDER", AIProviderOpenRouter)),
		AIEndpoint:   GetEnv("AI_ENDPOINT", defaultAIEndpoint),
		AIAPIKey:     os.Getenv("AI_API_KEY"),
		AICustomerID: os.Getenv("AI_CUSTOMER_ID"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),

		PayPalClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		PayPalEnvironment:  GetEnv("PAYPAL_ENVIRONMENT", "sandbox"),
		PayPalWebhookID:    os.Getenv("PAYPAL_WEBHOOK_ID"),
		PayPalReturnURL:    GetEnv("PAYPAL_RETURN_URL", "http://localhost:3000/dashboard?billing=success"),
		PayPalCancelURL:    GetEnv("PAYPAL_CANCEL_URL", "http://localhost:3000/dashboard?billing=cancelled"),

		RedisURL: os.Getenv("REDIS_URL"),

		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Bucket:         GetEnv("S3_BUCKET", "animagenius-uploads"),
		S3UseSSL:         getEnvBool("S3_USE_SSL", true),
		LocalStorageDir:  GetEnv("LOCAL_STORAGE_DIR", "storage"),
		PublicStorageURL: strings.TrimSuffix(GetEnv("PUBLIC_STORAGE_URL", defaultPublicStorageURL), "/"),

		RenderDelayFactor: getEnvFloat("RENDER_DELAY_FACTOR", 1),
		JobWorkers:        getEnvInt("JOB_WORKERS", 2),
		JobPollInterval:   time.Duration(getEnvInt("JOB_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
	}

	if cfg.JwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	switch cfg.AIProvider {
	case AIProviderOpenRouter:
	case AIProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("AI_PROVIDER is gemini but GEMINI_API_KEY is not set")
		}
	default:
		return nil, errors.New("AI_PROVIDER must be one of: openrouter, gemini")
	}
	if cfg.PayPalEnvironment != "sandbox" && cfg.PayPalEnvironment != "production" {
		log.Warnf("Unknown PAYPAL_ENVIRONMENT %q, falling back to sandbox", cfg.PayPalEnvironment)
		cfg.PayPalEnvironment = "sandbox"
	}
	if cfg.JobWorkers < 1 {
		cfg.JobWorkers = 1
	}

	return cfg, nil
}

// PayPalLive reports whether real PayPal credentials are configured.
func (c *Config) PayPalLive() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}

// GetEnv returns env var or default when empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("Invalid integer for %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Warnf("Invalid number for %s=%q, using %v", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
