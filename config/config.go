package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/pkg/fare"
	"github.com/shiva/rentwheels/pkg/timewindow"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Tariff   TariffConfig
	Handover HandoverConfig
	Display  DisplayConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
	// CORSOrigins restricts browser origins; empty allows any.
	CORSOrigins  []string      `mapstructure:"SERVER_CORS_ORIGINS"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// TariffConfig holds the fare constants and the quote cache lifetime.
type TariffConfig struct {
	GSTBasisPoints       int64         `mapstructure:"TARIFF_GST_BASIS_POINTS"`
	InsurancePerHour     int64         `mapstructure:"TARIFF_INSURANCE_PER_HOUR"`
	DriverPerHour        int64         `mapstructure:"TARIFF_DRIVER_PER_HOUR"`
	IntercityDriverPerKm float64       `mapstructure:"TARIFF_INTERCITY_DRIVER_PER_KM"`
	QuoteTTL             time.Duration `mapstructure:"TARIFF_QUOTE_TTL"`
}

// HandoverConfig holds the code gate timing and the optional lockout.
// MaxAttempts = 0 disables the lockout.
type HandoverConfig struct {
	PickupLead      time.Duration `mapstructure:"HANDOVER_PICKUP_LEAD"`
	RecheckInterval time.Duration `mapstructure:"HANDOVER_RECHECK_INTERVAL"`
	MaxAttempts     int           `mapstructure:"HANDOVER_MAX_ATTEMPTS"`
	LockoutWindow   time.Duration `mapstructure:"HANDOVER_LOCKOUT_WINDOW"`
	InFlightTTL     time.Duration `mapstructure:"HANDOVER_INFLIGHT_TTL"`
}

// DisplayConfig fixes the business display timezone.
type DisplayConfig struct {
	TZName   string        `mapstructure:"DISPLAY_TZ_NAME"`
	TZOffset time.Duration `mapstructure:"DISPLAY_TZ_OFFSET"`
}

// AuthConfig holds the bearer-token verification key.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"AUTH_JWT_SECRET"`
	Issuer    string        `mapstructure:"AUTH_ISSUER"`
	TokenTTL  time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level       string `mapstructure:"LOG_LEVEL"`
	Development bool   `mapstructure:"LOG_DEVELOPMENT"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Rates converts the tariff section into calculator rates.
func (t *TariffConfig) Rates() fare.Rates {
	return fare.Rates{
		GSTBasisPoints:       t.GSTBasisPoints,
		InsurancePerHour:     t.InsurancePerHour,
		DriverPerHour:        t.DriverPerHour,
		IntercityDriverPerKm: t.IntercityDriverPerKm,
	}
}

// Policy converts the handover section into gate timing.
func (h *HandoverConfig) Policy() handover.Policy {
	return handover.Policy{PickupLead: h.PickupLead}
}

// Zone returns the fixed-offset display timezone.
func (d *DisplayConfig) Zone() timewindow.Zone {
	return timewindow.NewZone(d.TZName, d.TZOffset)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = v.ReadInConfig()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	// ── Defaults ────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_CORS_ORIGINS", "")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "rentwheels")
	v.SetDefault("POSTGRES_PASSWORD", "rentwheels_secret")
	v.SetDefault("POSTGRES_DB", "rentwheels_db")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 20)
	v.SetDefault("POSTGRES_MIN_CONNS", 2)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)

	rates := fare.DefaultRates()
	v.SetDefault("TARIFF_GST_BASIS_POINTS", rates.GSTBasisPoints)
	v.SetDefault("TARIFF_INSURANCE_PER_HOUR", rates.InsurancePerHour)
	v.SetDefault("TARIFF_DRIVER_PER_HOUR", rates.DriverPerHour)
	v.SetDefault("TARIFF_INTERCITY_DRIVER_PER_KM", rates.IntercityDriverPerKm)
	v.SetDefault("TARIFF_QUOTE_TTL", "15m")

	v.SetDefault("HANDOVER_PICKUP_LEAD", handover.DefaultPickupLead.String())
	v.SetDefault("HANDOVER_RECHECK_INTERVAL", handover.DefaultRecheckInterval.String())
	v.SetDefault("HANDOVER_MAX_ATTEMPTS", 0)
	v.SetDefault("HANDOVER_LOCKOUT_WINDOW", "15m")
	v.SetDefault("HANDOVER_INFLIGHT_TTL", "10s")

	v.SetDefault("DISPLAY_TZ_NAME", "IST")
	v.SetDefault("DISPLAY_TZ_OFFSET", timewindow.DefaultOffset.String())

	v.SetDefault("AUTH_JWT_SECRET", "")
	v.SetDefault("AUTH_ISSUER", "rentwheels")
	v.SetDefault("AUTH_TOKEN_TTL", "24h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         v.GetString("SERVER_HOST"),
		Port:         v.GetInt("SERVER_PORT"),
		ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
		CORSOrigins:  splitList(v.GetString("SERVER_CORS_ORIGINS")),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetInt("POSTGRES_PORT"),
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		DBName:   v.GetString("POSTGRES_DB"),
		SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: v.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Tariff ──────────────────────────────────────────
	cfg.Tariff = TariffConfig{
		GSTBasisPoints:       v.GetInt64("TARIFF_GST_BASIS_POINTS"),
		InsurancePerHour:     v.GetInt64("TARIFF_INSURANCE_PER_HOUR"),
		DriverPerHour:        v.GetInt64("TARIFF_DRIVER_PER_HOUR"),
		IntercityDriverPerKm: v.GetFloat64("TARIFF_INTERCITY_DRIVER_PER_KM"),
		QuoteTTL:             v.GetDuration("TARIFF_QUOTE_TTL"),
	}
	if err := cfg.Tariff.Rates().Validate(); err != nil {
		return nil, fmt.Errorf("config: tariff: %w", err)
	}

	// ── Handover ────────────────────────────────────────
	cfg.Handover = HandoverConfig{
		PickupLead:      v.GetDuration("HANDOVER_PICKUP_LEAD"),
		RecheckInterval: v.GetDuration("HANDOVER_RECHECK_INTERVAL"),
		MaxAttempts:     v.GetInt("HANDOVER_MAX_ATTEMPTS"),
		LockoutWindow:   v.GetDuration("HANDOVER_LOCKOUT_WINDOW"),
		InFlightTTL:     v.GetDuration("HANDOVER_INFLIGHT_TTL"),
	}
	if cfg.Handover.MaxAttempts < 0 {
		return nil, fmt.Errorf("config: HANDOVER_MAX_ATTEMPTS must not be negative, got %d", cfg.Handover.MaxAttempts)
	}

	// ── Display ─────────────────────────────────────────
	cfg.Display = DisplayConfig{
		TZName:   v.GetString("DISPLAY_TZ_NAME"),
		TZOffset: v.GetDuration("DISPLAY_TZ_OFFSET"),
	}

	// ── Auth / Log ──────────────────────────────────────
	cfg.Auth = AuthConfig{
		JWTSecret: v.GetString("AUTH_JWT_SECRET"),
		Issuer:    v.GetString("AUTH_ISSUER"),
		TokenTTL:  v.GetDuration("AUTH_TOKEN_TTL"),
	}
	cfg.Log = LogConfig{
		Level:       v.GetString("LOG_LEVEL"),
		Development: v.GetBool("LOG_DEVELOPMENT"),
	}

	return cfg, nil
}

// splitList reads a comma- or space-separated env value.
func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
