package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	EventTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type SMSConfig struct {
	BaseURL     string
	ConnID      string
	Password    string
	Sender      string
	MaxRetries  int
	HTTPTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	RateLimitBuckets int
	TimeBucketWindow int
}

// VerificationConfig carries the OTP lifecycle knobs. Defaults match the
// product contract: 10 minute validity, 3 attempts, 3 codes/hour/phone.
type VerificationConfig struct {
	CodeTTL         time.Duration
	MaxAttempts     int
	MaxCodesPerHour int
	ResponseFloor   time.Duration
	EchoCodeInDev   bool
	OptOutBaseURL   string
}

type RateLimitConfig struct {
	SendPerHourIP   int
	ResendPerHourIP int
	VerifyPerHourIP int
	Window          time.Duration
}

type BatchConfig struct {
	Budget      time.Duration
	Concurrency int
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	SMS           SMSConfig
	SMTP          SMTPConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Verification  VerificationConfig
	RateLimit     RateLimitConfig
	Batch         BatchConfig
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment (and .env when present)
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "uitdeitp"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:    getEnvList("KAFKA_BROKERS", "localhost:9092"),
				EventTopic: getEnv("KAFKA_EVENT_TOPIC", "uitdeitp-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "uitdeitp"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username: getEnv("ELASTICSEARCH_USERNAME", ""),
				Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
				Index:    getEnv("ELASTICSEARCH_REMINDER_INDEX", "reminders"),
			},
			SMS: SMSConfig{
				BaseURL:     getEnv("SMS_BASE_URL", "https://secure.smslink.ro/sms/gateway/communicate/"),
				ConnID:      getEnv("SMS_CONNECTION_ID", ""),
				Password:    getEnv("SMS_PASSWORD", ""),
				Sender:      getEnv("SMS_SENDER", "uitdeITP"),
				MaxRetries:  getEnvInt("SMS_MAX_RETRIES", 3),
				HTTPTimeout: getEnvDuration("SMS_HTTP_TIMEOUT", 10*time.Second),
			},
			SMTP: SMTPConfig{
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnvInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USERNAME", ""),
				Password: getEnv("SMTP_PASSWORD", ""),
				From:     getEnv("SMTP_FROM", "noreply@uitdeitp.ro"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "eu-central-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 1),
				Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 4),
				PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 90),
			},
			Bucketing: BucketingConfig{
				RateLimitBuckets: getEnvInt("RATE_LIMIT_BUCKETS", 64),
				TimeBucketWindow: getEnvInt("TIME_BUCKET_WINDOW_SECONDS", 3600),
			},
			Verification: VerificationConfig{
				CodeTTL:         getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
				MaxAttempts:     getEnvInt("VERIFICATION_MAX_ATTEMPTS", 3),
				MaxCodesPerHour: getEnvInt("VERIFICATION_MAX_CODES_PER_HOUR", 3),
				ResponseFloor:   getEnvDuration("VERIFICATION_RESPONSE_FLOOR", 150*time.Millisecond),
				EchoCodeInDev:   getEnvBool("VERIFICATION_ECHO_CODE_DEV", true),
				OptOutBaseURL:   getEnv("OPTOUT_BASE_URL", "https://uitdeitp.ro/o"),
			},
			RateLimit: RateLimitConfig{
				SendPerHourIP:   getEnvInt("RATE_LIMIT_SEND_PER_HOUR", 10),
				ResendPerHourIP: getEnvInt("RATE_LIMIT_RESEND_PER_HOUR", 5),
				VerifyPerHourIP: getEnvInt("RATE_LIMIT_VERIFY_PER_HOUR", 20),
				Window:          getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
			},
			Batch: BatchConfig{
				Budget:      getEnvDuration("BATCH_BUDGET", 60*time.Second),
				Concurrency: getEnvInt("BATCH_CONCURRENCY", 8),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
