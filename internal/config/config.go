package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/haitnmt/Haihv.Identities/pkg/config"
)

// Config holds all configuration for the identity gateway.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Directory server
	LdapHost           string        `env:"LDAP_HOST" envDefault:"localhost"`
	LdapPort           int           `env:"LDAP_PORT" envDefault:"389"`
	LdapTLS            bool          `env:"LDAP_TLS" envDefault:"false"`
	LdapInsecureVerify bool          `env:"LDAP_TLS_SKIP_VERIFY" envDefault:"false"`
	LdapBaseDN         string        `env:"LDAP_BASE_DN,required"`
	LdapRootGroupDN    string        `env:"LDAP_ROOT_GROUP_DN" envDefault:""`
	LdapDomain         string        `env:"LDAP_DOMAIN,required"`
	LdapDomainFull     string        `env:"LDAP_DOMAIN_FULLNAME,required"`
	LdapBindDN         string        `env:"LDAP_BIND_DN,required"`
	LdapBindPassword   string        `env:"LDAP_BIND_PASSWORD,required"`
	LdapTimeout        time.Duration `env:"LDAP_TIMEOUT" envDefault:"10s"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"identity-gateway"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"identity-clients"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"25m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Login throttle
	ThrottleMaxAttempts       int           `env:"THROTTLE_MAX_ATTEMPTS" envDefault:"3"`
	ThrottleMaxAttemptsPerDay int           `env:"THROTTLE_MAX_ATTEMPTS_PER_DAY" envDefault:"10"`
	ThrottleStep              time.Duration `env:"THROTTLE_STEP" envDefault:"300s"`

	// Refresh throttle. Refresh failures are cheaper to produce than login
	// failures, so the limits are looser.
	RefreshMaxAttempts       int `env:"REFRESH_MAX_ATTEMPTS" envDefault:"10"`
	RefreshMaxAttemptsPerDay int `env:"REFRESH_MAX_ATTEMPTS_PER_DAY" envDefault:"30"`

	// Cache TTLs
	UserCacheTTL     time.Duration `env:"USER_CACHE_TTL" envDefault:"24h"`
	GroupsCacheTTL   time.Duration `env:"GROUPS_CACHE_TTL" envDefault:"24h"`
	NotFoundCacheTTL time.Duration `env:"NOT_FOUND_CACHE_TTL" envDefault:"300s"`

	// Refresh token cookie
	CookieName   string `env:"REFRESH_COOKIE_NAME" envDefault:"refreshToken"`
	CookiePath   string `env:"REFRESH_COOKIE_PATH" envDefault:"/api/"`
	CookieSecure bool   `env:"REFRESH_COOKIE_SECURE" envDefault:"true"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.LdapPort < 1 || cfg.LdapPort > 65535 {
		return nil, fmt.Errorf("invalid LDAP port: %d", cfg.LdapPort)
	}
	if cfg.ThrottleMaxAttempts < 1 || cfg.ThrottleMaxAttemptsPerDay < cfg.ThrottleMaxAttempts {
		return nil, fmt.Errorf("invalid throttle limits: %d free attempts, %d per day",
			cfg.ThrottleMaxAttempts, cfg.ThrottleMaxAttemptsPerDay)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == "change-this-to-a-secure-secret" {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
	}

	return cfg, nil
}

// LdapURL returns the directory server URL for dialing.
func (c *Config) LdapURL() string {
	scheme := "ldap"
	if c.LdapTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.LdapHost, c.LdapPort)
}
