package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Payment    PaymentConfig
	Paystack   PaystackConfig
	Midtrans   MidtransConfig
	Redis      RedisConfig
	JWTSecret  string
	Firebase   FirebaseConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Driver   string // mysql | postgres
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type PaymentConfig struct {
	// Provider is the gateway used for charges: paystack | midtrans
	Provider    string
	CallbackURL string
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
}

type MidtransConfig struct {
	ServerKey  string
	Production bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type FirebaseConfig struct {
	CredentialsFile string
}

type SettlementConfig struct {
	StatusTimeout time.Duration
	MinWithdrawal int64
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads the configuration from the environment. Call godotenv.Load
// before this if a .env file should be honoured.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "materials"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Payment: PaymentConfig{
			Provider:    getEnv("PAYMENT_PROVIDER", "paystack"),
			CallbackURL: getEnv("PAYMENT_CALLBACK_URL", ""),
		},
		Paystack: PaystackConfig{
			SecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		},
		Midtrans: MidtransConfig{
			ServerKey:  getEnv("MIDTRANS_SERVER_KEY", ""),
			Production: getEnvBool("MIDTRANS_PRODUCTION", false),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWTSecret: getEnv("JWT_SECRET", ""),
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Settlement: SettlementConfig{
			StatusTimeout: getEnvDuration("PAYMENT_STATUS_TIMEOUT", 30*time.Second),
			MinWithdrawal: int64(getEnvInt("MIN_WITHDRAWAL", 1000)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails closed on settings the service cannot run without. A
// missing webhook secret is tolerated here; the webhook itself answers 500.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Payment.Provider {
	case "paystack", "midtrans":
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.Payment.Provider)
	}
	if c.Settlement.StatusTimeout <= 0 {
		return errors.New("PAYMENT_STATUS_TIMEOUT must be positive")
	}
	return nil
}

// WebhookSecret returns the signing secret for a webhook provider.
func (c *Config) WebhookSecret(provider string) string {
	switch provider {
	case "paystack":
		return c.Paystack.SecretKey
	case "midtrans":
		return c.Midtrans.ServerKey
	}
	return ""
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
