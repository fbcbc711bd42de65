package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pippuri/whim-bot-sub000/pkg/geo"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Redis cache configuration
	Redis RedisConfig

	// Kafka event stream configuration
	Kafka KafkaConfig

	// Pricing behavior configuration
	Pricing PricingConfig

	// Transport service provider configuration
	Providers ProvidersConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// RedisConfig holds the optional provider-cache Redis settings. An empty
// Addr disables Redis; the registry falls back to its in-process cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the optional state-transition event stream settings. An
// empty broker list disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Fallback policies for pricing when no covering ticket combination
// satisfies every required provider.
const (
	FallbackCheapest      = "fallback-cheapest"
	FallbackUnpurchasable = "unpurchasable"
)

// PricingConfig holds ticket-selection behavior knobs
type PricingConfig struct {
	FallbackPolicy   string        // fallback-cheapest (historical) or unpurchasable
	ReuseWindow      time.Duration // booking reuse must outlive leg start by this much
	ProviderCacheTTL time.Duration // active-provider list cache TTL
}

// PriceSpecConfig is one ticket template offered by a provider.
type PriceSpecConfig struct {
	Type      string  `json:"type"` // U_PITI, U_PMIN, U_PKM, U_NA
	Value     float64 `json:"value"`
	BaseValue float64 `json:"base_value"`
}

// ProviderConfig describes one transport service provider. Adapter variants
// are data-driven from this record, not from a type hierarchy.
type ProviderConfig struct {
	AgencyID     string            `json:"agency_id"`
	BaseURL      string            `json:"base_url"`
	APIKey       string            `json:"api_key"`
	Capabilities []string          `json:"capabilities"` // reserve, cancel, retrieve, query
	Purchasable  bool              `json:"purchasable"`
	Area         geo.Polygon       `json:"area,omitempty"`
	PriceSpecs   []PriceSpecConfig `json:"price_specs,omitempty"`
	Timeout      time.Duration     `json:"-"`
}

// ProvidersConfig holds the full provider roster and shared HTTP settings
type ProvidersConfig struct {
	File           string // optional JSON roster file
	RequestTimeout time.Duration
	Roster         []ProviderConfig
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_STATE_TOPIC", "entity-state-transitions"),
		},
		Pricing: PricingConfig{
			FallbackPolicy:   getEnv("PRICING_FALLBACK_POLICY", FallbackCheapest),
			ReuseWindow:      time.Duration(getEnvAsInt("BOOKING_REUSE_WINDOW_MINUTES", 20)) * time.Minute,
			ProviderCacheTTL: time.Duration(getEnvAsInt("PROVIDER_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Providers: ProvidersConfig{
			File:           getEnv("PROVIDERS_FILE", ""),
			RequestTimeout: time.Duration(getEnvAsInt("PROVIDER_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	if err := config.loadProviderRoster(); err != nil {
		return nil, err
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadProviderRoster reads the provider roster from PROVIDERS_FILE when set.
func (c *Config) loadProviderRoster() error {
	if c.Providers.File == "" {
		return nil
	}

	data, err := os.ReadFile(c.Providers.File)
	if err != nil {
		return fmt.Errorf("failed to read providers file: %w", err)
	}

	var roster []ProviderConfig
	if err := json.Unmarshal(data, &roster); err != nil {
		return fmt.Errorf("failed to parse providers file: %w", err)
	}

	for i := range roster {
		roster[i].Timeout = c.Providers.RequestTimeout
	}
	c.Providers.Roster = roster
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Pricing.FallbackPolicy {
	case FallbackCheapest, FallbackUnpurchasable:
	default:
		return fmt.Errorf("PRICING_FALLBACK_POLICY must be %q or %q", FallbackCheapest, FallbackUnpurchasable)
	}

	seen := make(map[string]bool)
	for _, p := range c.Providers.Roster {
		if p.AgencyID == "" {
			return fmt.Errorf("provider roster entry is missing agency_id")
		}
		if seen[p.AgencyID] {
			return fmt.Errorf("provider roster has duplicate agency_id %q", p.AgencyID)
		}
		seen[p.AgencyID] = true
	}

	return nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt gets an environment variable as an integer with a fallback value
func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

// getEnvAsSlice gets an environment variable as a comma-separated slice
func getEnvAsSlice(key string, fallback []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}
