// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env         string // APP_ENV (dev, test, prod)
	Port        string // APP_PORT
	ServiceName string // SERVICE_NAME, attached to every log entry

	StoreDriver string // STORE_DRIVER: mysql or memory
	DBUser      string
	DBPass      string // may be empty
	DBHost      string
	DBPort      string
	DBName      string
	AutoMigrate bool // DB_AUTO_MIGRATE applies the embedded schema at startup

	MemberSeedFile string // MEMBER_SEED_FILE, YAML member list for the memory store

	JWTSecret      string
	AccessTTLMin   int // access token lifetime in minutes
	RefreshTTLDays int // refresh token lifetime in days
	BcryptCost     int // cost for administrator passwords

	// Optional first administrator, created at startup when both are set
	// and the email is not taken yet.
	AdminEmail    string
	AdminPassword string

	Credential CredentialPolicy

	LogLevel  string
	LogFormat string

	RabbitMQURL string // empty disables event publishing
	AuditLogDir string
}

// CredentialPolicy groups the knobs of the temporary credential lifecycle.
type CredentialPolicy struct {
	HashCost        int           // CREDENTIAL_BCRYPT_COST
	SecretLength    int           // CREDENTIAL_SECRET_LENGTH
	SMSSecretLength int           // CREDENTIAL_SMS_SECRET_LENGTH
	MaxAttempts     int           // CREDENTIAL_MAX_ATTEMPTS
	LockDuration    time.Duration // CREDENTIAL_LOCK_DURATION
	TTL             time.Duration // CREDENTIAL_TTL
}

// Load reads .env (when present) and the environment and returns a Config.
// Every missing or malformed required variable is reported in the error.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	l := &loader{}
	cfg := Config{
		Env:         l.must("APP_ENV"),
		Port:        l.must("APP_PORT"),
		ServiceName: envStr("SERVICE_NAME", "member-onboarding"),
		StoreDriver: strings.ToLower(envStr("STORE_DRIVER", "mysql")),
		AutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		MemberSeedFile: os.Getenv("MEMBER_SEED_FILE"),

		JWTSecret:      l.must("JWT_SECRET"),
		AccessTTLMin:   l.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: l.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 10),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		Credential: CredentialPolicy{
			HashCost:        envInt("CREDENTIAL_BCRYPT_COST", 12),
			SecretLength:    envInt("CREDENTIAL_SECRET_LENGTH", 12),
			SMSSecretLength: envInt("CREDENTIAL_SMS_SECRET_LENGTH", 8),
			MaxAttempts:     envInt("CREDENTIAL_MAX_ATTEMPTS", 5),
			LockDuration:    envDur("CREDENTIAL_LOCK_DURATION", 15*time.Minute),
			TTL:             envDur("CREDENTIAL_TTL", 30*24*time.Hour),
		},

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		AuditLogDir: envStr("AUDIT_LOG_DIR", "logs"),
	}

	switch cfg.StoreDriver {
	case "mysql":
		cfg.DBUser = l.must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = l.must("DB_HOST")
		cfg.DBPort = l.must("DB_PORT")
		cfg.DBName = l.must("DB_NAME")
	case "memory":
	default:
		l.fail(fmt.Errorf("invalid STORE_DRIVER %q (want mysql or memory)", cfg.StoreDriver))
	}

	p := cfg.Credential
	if p.MaxAttempts < 1 {
		l.fail(fmt.Errorf("CREDENTIAL_MAX_ATTEMPTS must be >= 1, got %d", p.MaxAttempts))
	}
	if p.SecretLength < 3 {
		l.fail(fmt.Errorf("CREDENTIAL_SECRET_LENGTH must be >= 3, got %d", p.SecretLength))
	}
	if p.SMSSecretLength < 4 {
		l.fail(fmt.Errorf("CREDENTIAL_SMS_SECRET_LENGTH must be >= 4, got %d", p.SMSSecretLength))
	}
	if p.LockDuration <= 0 || p.TTL <= 0 {
		l.fail(errors.New("CREDENTIAL_LOCK_DURATION and CREDENTIAL_TTL must be positive"))
	}

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

type loader struct{ errs []error }

func (l *loader) fail(err error) { l.errs = append(l.errs, err) }

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.fail(fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must but converts the value into an integer.
func (l *loader) mustInt(key string) int {
	s := l.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.fail(fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return n
}
