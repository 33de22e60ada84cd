package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aryan0dhankhar/expensetracker/pkg/database"
)

// Config holds the application configuration. Each binary reads the
// sections it needs.
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string
	OTLPEndpoint       string
	ShutdownTimeout    time.Duration
	RedisURL           string

	Auth     AuthConfig
	Gateway  GatewayConfig
	Expense  ExpenseConfig
	Notifier NotifierConfig
	Mongo    MongoConfig
	Postgres *database.Config
	Kafka    KafkaConfig
}

// AuthConfig configures the credential store and token issuer
type AuthConfig struct {
	JWTSecret   string
	JWTLifetime time.Duration
	JWTIssuer   string
	BcryptCost  int
	HashWorkers int
	UserStore   string
}

// GatewayConfig configures the edge gateway
type GatewayConfig struct {
	AuthServiceURL    string
	ExpenseServiceURL string
	VerifyMode        string
	VerifyTimeout     time.Duration
	AssertionSecret   string
	RateLimitWindow   time.Duration
	RateLimitMax      int
}

// ExpenseConfig configures the downstream resource services
type ExpenseConfig struct {
	AssertionSecret     string
	UploadDir           string
	StagingTTL          time.Duration
	MaxUploadBytes      int64
	OCRReceiptCommand   string
	OCRStatementCommand string
	OCRTimeout          time.Duration
	CleanupInterval     time.Duration
}

// NotifierConfig configures the notification relay
type NotifierConfig struct {
	GroupID   string
	EmailHost string
	EmailPort int
	EmailUser string
	EmailPass string
	FromName  string
	Subject   string
	DedupTTL  time.Duration
	// SendTimeout bounds one SMTP delivery
	SendTimeout time.Duration
}

// MongoConfig holds the MongoDB connection settings
type MongoConfig struct {
	URI      string
	Database string
}

// KafkaConfig holds the broker list and notification topic
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from environment variables. defaultPort is used
// when PORT is unset.
func Load(defaultPort int) (*Config, error) {
	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
	}

	port, err := getInt("PORT", defaultPort)
	if err != nil {
		fail("PORT", err)
	}
	shutdown, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		fail("SHUTDOWN_TIMEOUT", err)
	}

	jwtLifetime, err := getDuration("JWT_LIFETIME", 30*24*time.Hour)
	if err != nil {
		fail("JWT_LIFETIME", err)
	}
	bcryptCost, err := getInt("BCRYPT_COST", 10)
	if err != nil {
		fail("BCRYPT_COST", err)
	}
	hashWorkers, err := getInt("HASH_WORKERS", 0)
	if err != nil {
		fail("HASH_WORKERS", err)
	}

	verifyTimeout, err := getDuration("VERIFY_TIMEOUT", 2*time.Second)
	if err != nil {
		fail("VERIFY_TIMEOUT", err)
	}
	rlWindow, err := getDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		fail("RATE_LIMIT_WINDOW", err)
	}
	rlMax, err := getInt("RATE_LIMIT_MAX_REQUESTS", 100)
	if err != nil {
		fail("RATE_LIMIT_MAX_REQUESTS", err)
	}

	stagingTTL, err := getDuration("STAGING_TTL", 30*time.Minute)
	if err != nil {
		fail("STAGING_TTL", err)
	}
	maxUpload, err := getInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		fail("MAX_UPLOAD_BYTES", err)
	}
	ocrTimeout, err := getDuration("OCR_TIMEOUT", 60*time.Second)
	if err != nil {
		fail("OCR_TIMEOUT", err)
	}
	cleanupInterval, err := getDuration("CLEANUP_INTERVAL", 5*time.Minute)
	if err != nil {
		fail("CLEANUP_INTERVAL", err)
	}

	emailPort, err := getInt("EMAIL_PORT", 587)
	if err != nil {
		fail("EMAIL_PORT", err)
	}
	dedupTTL, err := getDuration("NOTIFY_DEDUP_TTL", 24*time.Hour)
	if err != nil {
		fail("NOTIFY_DEDUP_TTL", err)
	}
	sendTimeout, err := getDuration("EMAIL_SEND_TIMEOUT", 30*time.Second)
	if err != nil {
		fail("EMAIL_SEND_TIMEOUT", err)
	}

	pgPort, err := getInt("POSTGRES_PORT", 5432)
	if err != nil {
		fail("POSTGRES_PORT", err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	pg := database.DefaultConfig()
	pg.Host = getEnv("POSTGRES_HOST", pg.Host)
	pg.Port = pgPort
	pg.User = getEnv("POSTGRES_USER", pg.User)
	pg.Password = getEnv("POSTGRES_PASSWORD", pg.Password)
	pg.Database = getEnv("POSTGRES_DB", pg.Database)
	pg.SSLMode = getEnv("POSTGRES_SSLMODE", pg.SSLMode)

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ShutdownTimeout: shutdown,
		RedisURL:        os.Getenv("REDIS_URL"),
		Auth: AuthConfig{
			JWTSecret:   os.Getenv("JWT_SECRET"),
			JWTLifetime: jwtLifetime,
			JWTIssuer:   getEnv("JWT_ISSUER", "expensetracker-auth"),
			BcryptCost:  bcryptCost,
			HashWorkers: hashWorkers,
			UserStore:   strings.ToLower(getEnv("USER_STORE", "mongo")),
		},
		Gateway: GatewayConfig{
			AuthServiceURL:    strings.TrimRight(getEnv("AUTH_SERVICE_URL", "http://localhost:3001"), "/"),
			ExpenseServiceURL: strings.TrimRight(getEnv("EXPENSE_SERVICE_URL", "http://localhost:3002"), "/"),
			VerifyMode:        strings.ToLower(getEnv("VERIFY_MODE", "remote")),
			VerifyTimeout:     verifyTimeout,
			AssertionSecret:   os.Getenv("IDENTITY_ASSERTION_SECRET"),
			RateLimitWindow:   rlWindow,
			RateLimitMax:      rlMax,
		},
		Expense: ExpenseConfig{
			AssertionSecret:     os.Getenv("IDENTITY_ASSERTION_SECRET"),
			UploadDir:           getEnv("UPLOAD_DIR", "uploads"),
			StagingTTL:          stagingTTL,
			MaxUploadBytes:      int64(maxUpload),
			OCRReceiptCommand:   os.Getenv("OCR_RECEIPT_COMMAND"),
			OCRStatementCommand: os.Getenv("OCR_STATEMENT_COMMAND"),
			OCRTimeout:          ocrTimeout,
			CleanupInterval:     cleanupInterval,
		},
		Notifier: NotifierConfig{
			GroupID:   getEnv("KAFKA_GROUP_ID", "notification-group"),
			EmailHost: getEnv("EMAIL_HOST", "smtp.gmail.com"),
			EmailPort: emailPort,
			EmailUser: os.Getenv("EMAIL_USER"),
			EmailPass: os.Getenv("EMAIL_PASS"),
			FromName:  getEnv("EMAIL_FROM_NAME", "Typeface"),
			Subject:   getEnv("EMAIL_SUBJECT", "Notification from Typeface"),
			DedupTTL:  dedupTTL,

			SendTimeout: sendTimeout,
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "expense-tracker"),
		},
		Postgres: pg,
		Kafka: KafkaConfig{
			Brokers: parseCSVEnv("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "notification-messages"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.ServerPort)
	}
	switch c.Auth.UserStore {
	case "mongo", "postgres":
	default:
		return fmt.Errorf("invalid USER_STORE: %q (want mongo or postgres)", c.Auth.UserStore)
	}
	switch c.Gateway.VerifyMode {
	case "remote", "local":
	default:
		return fmt.Errorf("invalid VERIFY_MODE: %q (want remote or local)", c.Gateway.VerifyMode)
	}
	if c.Gateway.VerifyTimeout <= 0 {
		return fmt.Errorf("invalid VERIFY_TIMEOUT: must be positive")
	}
	if c.Expense.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_BYTES: must be positive")
	}
	return nil
}

// TokenSecret returns the signing secret. Outside development an empty
// secret is an error; in development a fixed secret is used.
func (c *Config) TokenSecret() (string, error) {
	if c.Auth.JWTSecret != "" {
		return c.Auth.JWTSecret, nil
	}
	if c.IsDevelopment() {
		return "dev-secret-change-me", nil
	}
	return "", fmt.Errorf("JWT_SECRET is required when ENVIRONMENT=%s", c.Environment)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(strings.TrimSpace(value))
}

// getDuration accepts Go durations plus a "d" suffix for days ("30d")
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	return ParseDuration(value)
}

// ParseDuration parses a Go duration or a whole number of days such as "30d"
func ParseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
