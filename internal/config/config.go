package config

import (
	"fmt"
	"time"

	"github.com/utafrali/authgate/internal/ratelimit"
	pkgconfig "github.com/utafrali/authgate/pkg/config"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort int `env:"HTTP_PORT" envDefault:"5000"`

	// Tokens
	JWTSecret                      string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	TokenIssuer                    string        `env:"TOKEN_ISSUER" envDefault:"authgate"`
	RegistrationTokenTTL           time.Duration `env:"REGISTRATION_TOKEN_TTL" envDefault:"1h"`
	SessionTokenTTL                time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL                  time.Duration `env:"RESET_TOKEN_TTL" envDefault:"15m"`
	RegistrationRequireLatestToken bool          `env:"REGISTRATION_REQUIRE_LATEST_TOKEN" envDefault:"false"`
	TokenSweepInterval             time.Duration `env:"TOKEN_SWEEP_INTERVAL" envDefault:"1m"`
	BcryptCost                     int           `env:"BCRYPT_COST" envDefault:"10"`

	// Rate limiting
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax     int           `env:"RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honored. Empty
	// keys every client on its socket address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Credential store
	UserStore    string `env:"USER_STORE" envDefault:"postgres"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"authgate"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"authgate_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"authgate"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns   int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns   int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Mail
	SMTPHost         string  `env:"SMTP_HOST" envDefault:""`
	SMTPPort         int     `env:"SMTP_PORT" envDefault:"587"`
	EmailUser        string  `env:"EMAIL_USER" envDefault:""`
	EmailPass        string  `env:"EMAIL_PASS" envDefault:""`
	MailFrom         string  `env:"MAIL_FROM" envDefault:""`
	MailMaxPerSecond float64 `env:"MAIL_MAX_PER_SECOND" envDefault:"5"`
	MailBurst        int     `env:"MAIL_BURST" envDefault:"10"`
	BaseURL          string  `env:"BASE_URL" envDefault:"http://localhost:5000"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load authgate config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, vars); err != nil {
		return nil, fmt.Errorf("load authgate config: %w", err)
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

	// Outside development an explicitly set, strong secret is mandatory.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}

	for name, ttl := range map[string]time.Duration{
		"REGISTRATION_TOKEN_TTL": c.RegistrationTokenTTL,
		"SESSION_TOKEN_TTL":      c.SessionTokenTTL,
		"RESET_TOKEN_TTL":        c.ResetTokenTTL,
	} {
		if ttl < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, ttl)
		}
	}

	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if _, err := ratelimit.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	switch c.UserStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown USER_STORE %q", c.UserStore)
	}
	if c.MailMaxPerSecond <= 0 {
		return fmt.Errorf("MAIL_MAX_PER_SECOND must be positive, got %g", c.MailMaxPerSecond)
	}
	return nil
}

// Sender returns the configured From address, falling back to EMAIL_USER.
func (c *Config) Sender() string {
	if c.MailFrom != "" {
		return c.MailFrom
	}
	return c.EmailUser
}
