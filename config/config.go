package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Event log backends.
const (
	EventLogMemory   = "memory"
	EventLogPostgres = "postgres"
	EventLogRedis    = "redis"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Live      LiveConfig
	Recording RecordingConfig
	EventLog  EventLogConfig
	Kafka     KafkaConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret       string
	ExpireHours  int
	LiveTokenTTL time.Duration
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
	S3Endpoint           string
}

// LiveConfig drives the controller's realtime channel.
type LiveConfig struct {
	// BaseURL is where controllers dial the live endpoint, e.g. http://localhost:8080.
	BaseURL           string
	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
}

// RecordingConfig holds recording lifecycle settings.
type RecordingConfig struct {
	// PollsUntilReady counts reads of a processing recording; the first read never finishes it.
	PollsUntilReady int
	ProcessingTime  time.Duration
	WebhookSecret   string
	// WorkerEnabled enqueues an encode job for every new recording.
	WorkerEnabled bool
}

// EventLogConfig selects the session event log backend.
type EventLogConfig struct {
	Backend string
}

// KafkaConfig holds recording event publishing settings. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers string
	Topic   string
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

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours:  getEnvInt("JWT_EXPIRE_HOURS", 24),
			LiveTokenTTL: getEnvDuration("JWT_LIVE_TOKEN_TTL", 5*time.Minute),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "classroom-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			S3Endpoint:           getEnv("AWS_S3_ENDPOINT", ""),
		},
		Live: LiveConfig{
			BaseURL:           getEnv("LIVE_BASE_URL", "http://localhost:"+port),
			ReconnectAttempts: getEnvInt("LIVE_RECONNECT_ATTEMPTS", 3),
			ReconnectInitial:  getEnvDuration("LIVE_RECONNECT_INITIAL", 200*time.Millisecond),
			ReconnectMax:      getEnvDuration("LIVE_RECONNECT_MAX", 2*time.Second),
		},
		Recording: RecordingConfig{
			PollsUntilReady: getEnvInt("RECORDING_POLLS_UNTIL_READY", 3),
			ProcessingTime:  getEnvDuration("RECORDING_PROCESSING_TIME", 0),
			WebhookSecret:   getEnv("RECORDING_WEBHOOK_SECRET", ""),
			WorkerEnabled:   getEnvBool("RECORDING_WORKER_ENABLED", false),
		},
		EventLog: EventLogConfig{
			Backend: strings.ToLower(getEnv("EVENT_LOG_BACKEND", EventLogPostgres)),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_RECORDING_TOPIC", "recording.events"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EventLog.Backend {
	case EventLogMemory, EventLogPostgres:
	case EventLogRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("EVENT_LOG_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown EVENT_LOG_BACKEND %q", c.EventLog.Backend)
	}
	if c.Live.ReconnectAttempts < 0 {
		return fmt.Errorf("LIVE_RECONNECT_ATTEMPTS must not be negative")
	}
	if c.Recording.PollsUntilReady < 0 || c.Recording.ProcessingTime < 0 {
		return fmt.Errorf("recording readiness settings must not be negative")
	}
	if c.Recording.WorkerEnabled && !c.Redis.Enabled() {
		return fmt.Errorf("RECORDING_WORKER_ENABLED requires REDIS_ADDR")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
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

// SplitTrim splits s on sep, dropping empty items.
func SplitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
