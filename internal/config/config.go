package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Reservation ReservationConfig
	Checkout    CheckoutConfig
	RabbitMQ    RabbitMQConfig
	Telemetry   TelemetryConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
	MaxConns int32
	MinConns int32
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

// ReservationConfig controls reservation lifetime and the background sweep.
type ReservationConfig struct {
	TTL           time.Duration
	ExtendWindow  time.Duration
	SweepInterval time.Duration
	SweepEnabled  bool
}

type CheckoutConfig struct {
	TaxRate    float64
	Currency   string
	MaxRetries int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DSN returns the Postgres connection URL for the configured database.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port for the redis server.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c ServerConfig) IsDevelopment() bool {
	return c.Env != "production"
}

func Load() *Config {
	// Real environment wins over .env values.
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return fromViper()
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("DB_MAX_CONNS", 25)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("RESERVATION_TTL", "15m")
	viper.SetDefault("RESERVATION_EXTEND_WINDOW", "10m")
	viper.SetDefault("RESERVATION_SWEEP_INTERVAL", "5m")
	viper.SetDefault("RESERVATION_SWEEP_ENABLED", true)
	viper.SetDefault("CHECKOUT_TAX_RATE", 0.21)
	viper.SetDefault("CHECKOUT_CURRENCY", "ARS")
	viper.SetDefault("CHECKOUT_MAX_RETRIES", 5)
	viper.SetDefault("RABBITMQ_EXCHANGE", "storefront.orders")
	viper.SetDefault("OTEL_SERVICE_NAME", "storefront")
	viper.SetDefault("RATE_LIMIT_REQUESTS", 60)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")
}

func fromViper() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        viper.GetString("SERVER_PORT"),
			Env:         viper.GetString("SERVER_ENV"),
			LogLevel:    viper.GetString("LOG_LEVEL"),
			CORSOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
			MinConns: viper.GetInt32("DB_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		Reservation: ReservationConfig{
			TTL:           viper.GetDuration("RESERVATION_TTL"),
			ExtendWindow:  viper.GetDuration("RESERVATION_EXTEND_WINDOW"),
			SweepInterval: viper.GetDuration("RESERVATION_SWEEP_INTERVAL"),
			SweepEnabled:  viper.GetBool("RESERVATION_SWEEP_ENABLED"),
		},
		Checkout: CheckoutConfig{
			TaxRate:    viper.GetFloat64("CHECKOUT_TAX_RATE"),
			Currency:   viper.GetString("CHECKOUT_CURRENCY"),
			MaxRetries: viper.GetInt("CHECKOUT_MAX_RETRIES"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      viper.GetString("RABBITMQ_URL"),
			Exchange: viper.GetString("RABBITMQ_EXCHANGE"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  viper.GetString("OTEL_SERVICE_NAME"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   viper.GetDuration("RATE_LIMIT_WINDOW"),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
