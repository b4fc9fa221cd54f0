package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	WebSocket   WebSocketConfig
	Payments    PaymentsConfig
	Pairing     PairingConfig
}

type ServerConfig struct {
	Port string
	// TrustProxy honours X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites those headers.
	TrustProxy bool
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	AutoMigrate  bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type PaymentsConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBase       string
	CashfreeAppID       string
	CashfreeSecretKey   string
	CashfreeAPIBase     string
	CashfreeAPIVersion  string
}

type PairingConfig struct {
	RateLimit float64 // redemptions per second per client IP
	RateBurst int
	TokenTTL  time.Duration
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("environment", "development")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.trust_proxy", "false")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "false")
	viper.SetDefault("database.auto_migrate", "false")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", "0")
	viper.SetDefault("stripe.api_base", "https://api.stripe.com")
	viper.SetDefault("cashfree.api_base", "https://sandbox.cashfree.com")
	viper.SetDefault("cashfree.api_version", "2023-08-01")
	viper.SetDefault("pairing.rate_limit", "0.5")
	viper.SetDefault("pairing.rate_burst", "5")

	// Map environment variables to config keys
	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.trust_proxy", "SERVER_TRUST_PROXY")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	viper.BindEnv("stripe.api_base", "STRIPE_API_BASE")
	viper.BindEnv("cashfree.app_id", "CASHFREE_APP_ID")
	viper.BindEnv("cashfree.secret_key", "CASHFREE_SECRET_KEY")
	viper.BindEnv("cashfree.api_base", "CASHFREE_API_BASE")
	viper.BindEnv("cashfree.api_version", "CASHFREE_API_VERSION")
	viper.BindEnv("pairing.rate_limit", "PAIRING_RATE_LIMIT")
	viper.BindEnv("pairing.rate_burst", "PAIRING_RATE_BURST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Environment: viper.GetString("environment"),
		LogLevel:    viper.GetString("log.level"),
		Server: ServerConfig{
			Port:       viper.GetString("server.port"),
			TrustProxy: viper.GetBool("server.trust_proxy"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			AutoMigrate:  viper.GetBool("database.auto_migrate"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Payments: PaymentsConfig{
			StripeSecretKey:     viper.GetString("stripe.secret_key"),
			StripeWebhookSecret: viper.GetString("stripe.webhook_secret"),
			StripeAPIBase:       viper.GetString("stripe.api_base"),
			CashfreeAppID:       viper.GetString("cashfree.app_id"),
			CashfreeSecretKey:   viper.GetString("cashfree.secret_key"),
			CashfreeAPIBase:     viper.GetString("cashfree.api_base"),
			CashfreeAPIVersion:  viper.GetString("cashfree.api_version"),
		},
		Pairing: PairingConfig{
			RateLimit: viper.GetFloat64("pairing.rate_limit"),
			RateBurst: viper.GetInt("pairing.rate_burst"),
			TokenTTL:  PairingTokenTTL,
		},
	}
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
