package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/leasehub/tenantauth/internal/phone"
	pkgconfig "github.com/leasehub/tenantauth/pkg/config"
	"github.com/leasehub/tenantauth/pkg/database"
	"github.com/leasehub/tenantauth/pkg/tracing"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Notifier drivers.
const (
	NotifierLog      = "log"
	NotifierWhatsApp = "whatsapp"
	NotifierKafka    = "kafka"
)

// Config holds all configuration for the tenant auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"SERVICE_VERSION" envDefault:"0.1.0"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL (tenant read model)
	PostgresHost  string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort  int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser  string `env:"POSTGRES_USER" envDefault:"leasehub"`
	PostgresPass  string `env:"POSTGRES_PASSWORD" envDefault:"leasehub_secret"`
	PostgresDB    string `env:"TENANT_DB_NAME" envDefault:"tenant_db"`
	PostgresSSL   string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	SlowQueryMS   int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Redis (challenges and rate-limit counters)
	RedisHost      string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RedisOpTimeout time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"500ms"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Sessions
	JWTSecret          string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	SessionTokenExpiry time.Duration `env:"SESSION_TOKEN_EXPIRY" envDefault:"12h"`
	CookieSecure       bool          `env:"COOKIE_SECURE" envDefault:"false"`

	// OTP policy
	OTPTTL             time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPMaxAttempts     int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
	RateLimitWindow    time.Duration `env:"OTP_RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax       int           `env:"OTP_RATE_LIMIT_MAX" envDefault:"5"`
	DefaultPhoneRegion string        `env:"OTP_DEFAULT_REGION" envDefault:"US"`
	OTPHashSecret      string        `env:"OTP_HASH_SECRET"`

	// Delivery
	NotifierDriver  string        `env:"NOTIFIER_DRIVER" envDefault:"log"`
	NotifierTimeout time.Duration `env:"NOTIFIER_TIMEOUT" envDefault:"10s"`

	WhatsAppAPIURL           string `env:"WHATSAPP_API_URL" envDefault:"https://graph.facebook.com/v19.0"`
	WhatsAppPhoneNumberID    string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken      string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppTemplateName     string `env:"WHATSAPP_TEMPLATE_NAME" envDefault:"tenant_signin_code"`
	WhatsAppTemplateLanguage string `env:"WHATSAPP_TEMPLATE_LANGUAGE" envDefault:"en"`

	// Per-client-IP throttling of the sign-in routes
	IPRateLimitRPS   float64 `env:"IP_RATE_LIMIT_RPS" envDefault:"1"`
	IPRateLimitBurst int     `env:"IP_RATE_LIMIT_BURST" envDefault:"10"`
	TrustProxy       bool    `env:"TRUST_PROXY" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTelInsecure   bool    `env:"OTEL_INSECURE" envDefault:"true"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load tenantauth config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}

	switch {
	case c.OTPTTL <= 0:
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL)
	case c.OTPMaxAttempts < 1:
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1, got %d", c.OTPMaxAttempts)
	case c.RateLimitWindow <= 0:
		return fmt.Errorf("OTP_RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	case c.RateLimitMax < 1:
		return fmt.Errorf("OTP_RATE_LIMIT_MAX must be at least 1, got %d", c.RateLimitMax)
	case c.SessionTokenExpiry <= 0:
		return fmt.Errorf("SESSION_TOKEN_EXPIRY must be positive, got %s", c.SessionTokenExpiry)
	case c.NotifierTimeout <= 0:
		return fmt.Errorf("NOTIFIER_TIMEOUT must be positive, got %s", c.NotifierTimeout)
	case c.OTelSampleRate < 0 || c.OTelSampleRate > 1:
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0, 1], got %v", c.OTelSampleRate)
	}

	if !phone.IsSupportedRegion(c.DefaultPhoneRegion) {
		return fmt.Errorf("OTP_DEFAULT_REGION %q is not a known phone region", c.DefaultPhoneRegion)
	}

	if !slices.Contains([]string{NotifierLog, NotifierWhatsApp, NotifierKafka}, c.NotifierDriver) {
		return fmt.Errorf("NOTIFIER_DRIVER must be one of log, whatsapp, kafka; got %q", c.NotifierDriver)
	}
	if c.NotifierDriver == NotifierWhatsApp && (c.WhatsAppPhoneNumberID == "" || c.WhatsAppAccessToken == "") {
		return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID and WHATSAPP_ACCESS_TOKEN are required for the whatsapp notifier")
	}
	if c.NotifierDriver == NotifierLog && c.Environment == "production" {
		return fmt.Errorf("the log notifier writes codes to the log and cannot be used in production")
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Postgres returns the connection settings for the tenant database.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,
		MaxConns: c.DBMaxConns,
		MinConns: c.DBMinConns,
	}
}

// Redis returns the connection settings for the challenge store.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:      c.RedisHost,
		Port:      c.RedisPort,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		OpTimeout: c.RedisOpTimeout,
	}
}

// Tracing returns the OpenTelemetry settings for serviceName.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTelEndpoint,
		Insecure:       c.OTelInsecure,
		SampleRate:     c.OTelSampleRate,
		Enabled:        c.OTelEnabled,
	}
}

// ChallengeSecret returns the key for code digests, falling back to the
// session secret.
func (c *Config) ChallengeSecret() []byte {
	if c.OTPHashSecret != "" {
		return []byte(c.OTPHashSecret)
	}
	return []byte(c.JWTSecret)
}

// SlowQueryThreshold returns the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMS) * time.Millisecond
}
