package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort string

	// DataDir is where per-user credential databases are stored
	DataDir string

	// LogDir is where rotating log files are written
	LogDir string

	// InitTimeout bounds one session initialization attempt
	InitTimeout time.Duration

	// ReconnectDelay is the minimum delay before an automatic restart
	ReconnectDelay time.Duration

	// ReconnectMax caps the restart backoff
	ReconnectMax time.Duration

	// LogBufferCap is the per-user diagnostic log line cap
	LogBufferCap int

	// VerboseEvents forwards inbound messages into the session logs
	VerboseEvents bool
}

// NewConfig loads configuration from the environment, with a .env file
// honored when present.
func NewConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("PORT", "3000"),
		DataDir:        getEnv("DATA_DIR", "data"),
		LogDir:         getEnv("LOG_DIR", "logs"),
		InitTimeout:    getDurationEnv("INIT_TIMEOUT", 60*time.Second),
		ReconnectDelay: getDurationEnv("RECONNECT_DELAY", 2*time.Second),
		ReconnectMax:   getDurationEnv("RECONNECT_MAX", 60*time.Second),
		LogBufferCap:   getIntEnv("LOG_BUFFER_CAP", 200),
		VerboseEvents:  getBoolEnv("VERBOSE_EVENTS", false),
	}
}

// EnsureDataDir ensures the data directory exists
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// GetCorsConfig returns CORS configuration for the application
func (c *Config) GetCorsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Type"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	return corsConfig
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getIntEnv gets an environment variable as an integer
func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// getBoolEnv gets an environment variable as a boolean
func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationEnv gets an environment variable as a Duration
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
