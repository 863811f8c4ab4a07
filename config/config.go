package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Session     SessionConfig
	Recommender RecommenderConfig
	Scorer      ScorerConfig
	WS          WSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	// ExportInProcess runs the transcript exporter inside the API process instead of cmd/worker.
	ExportInProcess bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/watchparty?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the transcript archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // S3-compatible endpoint (minio, localstack); empty uses AWS
	TranscriptsBucket    string
	PresignExpireMinutes int
}

// SessionConfig tunes the in-memory session registry.
type SessionConfig struct {
	HeartbeatTimeout time.Duration
	Retention        time.Duration
	MaxMessages      int
	ReapInterval     time.Duration
	AttendanceBuffer int
}

// RecommenderConfig tunes playback speed recommendations.
type RecommenderConfig struct {
	Threshold  float64
	ApplyDelay time.Duration
	Cadence    float64 // playback seconds between analyses
	IdleTTL    time.Duration
}

// ScorerConfig selects the complexity scorer. An empty URL uses the built-in simulated scorer.
type ScorerConfig struct {
	URL     string
	Timeout time.Duration
}

// WSConfig bounds per-connection WebSocket traffic.
type WSConfig struct {
	RateLimit float64
	RateBurst int
	// PingInterval paces server pings; each pong counts as a session heartbeat.
	PingInterval time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// S3Enabled reports whether transcript archiving is configured.
func (c AWSConfig) S3Enabled() bool {
	return c.TranscriptsBucket != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			ExportInProcess:    getEnvBool("EXPORT_IN_PROCESS", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "watchparty"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			TranscriptsBucket:    getEnv("AWS_S3_TRANSCRIPTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Session: SessionConfig{
			HeartbeatTimeout: getEnvDuration("SESSION_HEARTBEAT_TIMEOUT", 30*time.Second),
			Retention:        getEnvDuration("SESSION_RETENTION", time.Hour),
			MaxMessages:      getEnvInt("SESSION_MAX_MESSAGES", 5000),
			ReapInterval:     getEnvDuration("SESSION_REAP_INTERVAL", 30*time.Second),
			AttendanceBuffer: getEnvInt("SESSION_ATTENDANCE_BUFFER", 1024),
		},
		Recommender: RecommenderConfig{
			Threshold:  getEnvFloat("RECOMMENDER_THRESHOLD", 0.25),
			ApplyDelay: getEnvDuration("RECOMMENDER_APPLY_DELAY", 2*time.Second),
			Cadence:    getEnvFloat("RECOMMENDER_CADENCE_SEC", 10),
			IdleTTL:    getEnvDuration("RECOMMENDER_IDLE_TTL", 30*time.Minute),
		},
		Scorer: ScorerConfig{
			URL:     getEnv("SCORER_URL", ""),
			Timeout: getEnvDuration("SCORER_TIMEOUT", 2*time.Second),
		},
		WS: WSConfig{
			RateLimit:    getEnvFloat("WS_RATE_LIMIT", 20),
			RateBurst:    getEnvInt("WS_RATE_BURST", 40),
			PingInterval: getEnvDuration("WS_PING_INTERVAL", 10*time.Second),
		},
	}
	if cfg.Recommender.Threshold < 0 {
		return nil, fmt.Errorf("RECOMMENDER_THRESHOLD must not be negative")
	}
	if cfg.WS.PingInterval <= 0 {
		return nil, fmt.Errorf("WS_PING_INTERVAL must be positive")
	}
	// A quiet viewer heartbeats once per ping round trip; leave room for a late pong.
	if cfg.Session.HeartbeatTimeout < 2*cfg.WS.PingInterval {
		return nil, fmt.Errorf("SESSION_HEARTBEAT_TIMEOUT (%s) must be at least twice WS_PING_INTERVAL (%s)",
			cfg.Session.HeartbeatTimeout, cfg.WS.PingInterval)
	}
	if cfg.Session.MaxMessages <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_MESSAGES must be positive")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
