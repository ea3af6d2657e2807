// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MarketMapping carries the venue-specific wiring for one market category.
type MarketMapping struct {
	// WSURL is the streaming endpoint for this market category.
	WSURL string

	// InstType is the venue instrument type sent in subscribe envelopes.
	InstType string

	// Suffix is appended to the plain symbol to form the venue instId.
	Suffix string
}

// RedisConfig holds connection settings for the cache/stream sink.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// PoolSize bounds open connections to the cache store.
	PoolSize int

	// StreamMaxLen caps each per-symbol trade stream (approximate trimming).
	StreamMaxLen int64

	// OrderbookTTLSeconds is how long an order book snapshot stays readable.
	OrderbookTTLSeconds int
}

// Addr returns the host:port address for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClickHouseConfig holds connection settings for the analytical store.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// BatchSize is the maximum rows accumulated before a flush.
	BatchSize int
}

// DSN constructs the ClickHouse connection string.
func (c ClickHouseConfig) DSN() string {
	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&read_timeout=20s",
		c.Username, c.Password, c.Host, c.Port, c.Database,
	)
}

// Enabled reports whether an analytical store is configured at all.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// BitgetConfig holds venue endpoints, credentials and rate limits.
type BitgetConfig struct {
	RESTBaseURL string

	APIKey     string
	SecretKey  string
	Passphrase string

	// MaxRPS is the public-tier base request rate.
	MaxRPS float64

	// MarketMappings is the fixed per-market venue wiring.
	MarketMappings map[string]MarketMapping
}

// SystemConfig holds working-set selection and dedup settings.
type SystemConfig struct {
	// MarketTypes are the market categories active at startup.
	MarketTypes []string

	// MinVolume24h is the minimum 24h quote notional for a symbol to be selected.
	MinVolume24h float64

	// MaxSymbolsPerMarket caps the working set per market category.
	MaxSymbolsPerMarket int

	// DedupWindowSeconds is the trade deduplication window.
	DedupWindowSeconds int
}

// TLSConfig holds optional TLS material for the cache connection.
type TLSConfig struct {
	CACerts  string
	CertFile string
	KeyFile  string
	Verify   bool
}

// ServerConfig holds control-plane HTTP settings.
type ServerConfig struct {
	Port  string
	Debug bool
}

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Bitget     BitgetConfig
	System     SystemConfig
	TLS        TLSConfig
	Server     ServerConfig
}

// defaultMarketMappings returns the fixed venue wiring per market category.
func defaultMarketMappings() map[string]MarketMapping {
	return map[string]MarketMapping{
		"spot": {
			WSURL:    "wss://ws.bitget.com/spot/v1/stream",
			InstType: "SP",
			Suffix:   "_SPBL",
		},
		"usdtm": {
			WSURL:    "wss://ws.bitget.com/mix/v1/stream",
			InstType: "UMCBL",
			Suffix:   "_UMCBL",
		},
		"coinm": {
			WSURL:    "wss://ws.bitget.com/mix/v1/stream",
			InstType: "DMCBL",
			Suffix:   "_DMCBL",
		},
		"usdcm": {
			WSURL:    "wss://ws.bitget.com/mix/v1/stream",
			InstType: "CMCBL",
			Suffix:   "_CMCBL",
		},
	}
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() (*AppConfig, error) {
	_ = godotenv.Load() // Ignore error - .env is optional

	cfg := &AppConfig{
		Redis: RedisConfig{
			Host:                getEnv("REDIS_HOST", "localhost"),
			Port:                getEnvInt("REDIS_PORT", 6380),
			Password:            getEnv("REDIS_PASSWORD", ""),
			DB:                  getEnvInt("REDIS_DB", 0),
			PoolSize:            getEnvInt("REDIS_POOL_SIZE", 20),
			StreamMaxLen:        int64(getEnvInt("REDIS_STREAM_MAXLEN", 50000)),
			OrderbookTTLSeconds: getEnvInt("ORDERBOOK_TTL_SECONDS", 30),
		},
		ClickHouse: ClickHouseConfig{
			Host:      getEnv("CLICKHOUSE_HOST", ""),
			Port:      getEnvInt("CLICKHOUSE_PORT", 9000),
			Database:  getEnv("CLICKHOUSE_DB", "trading"),
			Username:  getEnv("CLICKHOUSE_USER", "default"),
			Password:  getEnv("CLICKHOUSE_PASSWORD", ""),
			BatchSize: getEnvInt("CLICKHOUSE_BATCH_SIZE", 1000),
		},
		Bitget: BitgetConfig{
			RESTBaseURL:    getEnv("BITGET_REST_URL", "https://api.bitget.com"),
			APIKey:         getEnv("BITGET_API_KEY", ""),
			SecretKey:      getEnv("BITGET_SECRET_KEY", ""),
			Passphrase:     getEnv("BITGET_PASSPHRASE", ""),
			MaxRPS:         getEnvFloat("BITGET_MAX_RPS", 8),
			MarketMappings: defaultMarketMappings(),
		},
		System: SystemConfig{
			MarketTypes:         splitList(getEnv("MARKET_TYPES", "spot,usdtm")),
			MinVolume24h:        getEnvFloat("MIN_VOLUME_24H", 1000000),
			MaxSymbolsPerMarket: getEnvInt("MAX_SYMBOLS_PER_MARKET", 30),
			DedupWindowSeconds:  getEnvInt("DEDUP_WINDOW_SECONDS", 3600),
		},
		TLS: TLSConfig{
			CACerts:  getEnv("SSL_CA_CERTS", ""),
			CertFile: getEnv("SSL_CERT_FILE", ""),
			KeyFile:  getEnv("SSL_KEY_FILE", ""),
			Verify:   getEnv("SSL_VERIFY", "true") == "true",
		},
		Server: ServerConfig{
			Port:  getEnv("SERVER_PORT", "8080"),
			Debug: getEnv("DEBUG", "false") == "true",
		},
	}

	for _, market := range cfg.System.MarketTypes {
		if _, ok := cfg.Bitget.MarketMappings[market]; !ok {
			return nil, fmt.Errorf("unsupported market category in MARKET_TYPES: %q", market)
		}
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
