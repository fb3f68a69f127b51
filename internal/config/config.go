package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcarmo/go-vp8/internal/dump"
	"github.com/rcarmo/go-vp8/internal/framing"
	"github.com/rcarmo/go-vp8/internal/session"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
)

// globalConfig stores the configuration loaded with command-line overrides
// This allows other packages to access the same configuration that was loaded by the server
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Decoder  DecoderConfig  `json:"decoder"`
	Framing  FramingConfig  `json:"framing"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Dump     DumpConfig     `json:"dump"`
}

// LoadOptions holds command-line override options
type LoadOptions struct {
	Host       string
	Port       string
	LogLevel   string
	HeaderSize string
	Framing    string
	Compress   string
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string        `json:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port         string        `json:"port" env:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `json:"readTimeout" env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `json:"writeTimeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `json:"idleTimeout" env:"SERVER_IDLE_TIMEOUT" default:"120s"`
}

// DecoderConfig holds VP8 header decoding configuration
type DecoderConfig struct {
	HeaderSizeFormula string `json:"headerSizeFormula" env:"VP8_HEADER_SIZE_FORMULA" default:"standard"`
	MaxWidth          int    `json:"maxWidth" env:"VP8_MAX_WIDTH" default:"4096"`
	MaxHeight         int    `json:"maxHeight" env:"VP8_MAX_HEIGHT" default:"4096"`
	SurfacePool       int    `json:"surfacePool" env:"VP8_SURFACE_POOL" default:"4"`
}

// FramingConfig holds stream framing configuration
type FramingConfig struct {
	Format       string `json:"format" env:"VP8_FRAMING" default:"raw"`
	RTPMaxLate   int    `json:"rtpMaxLate" env:"RTP_MAX_LATE" default:"512"`
	RTPClockRate int    `json:"rtpClockRate" env:"RTP_CLOCK_RATE" default:"90000"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowedOrigins" env:"ALLOWED_ORIGINS" default:""`
	MaxConnections int      `json:"maxConnections" env:"MAX_CONNECTIONS" default:"100"`
	MaxMessageSize int64    `json:"maxMessageSize" env:"MAX_MESSAGE_SIZE" default:"4194304"`
	EnableTLS      bool     `json:"enableTLS" env:"ENABLE_TLS" default:"false"`
	TLSCertFile    string   `json:"tlsCertFile" env:"TLS_CERT_FILE" default:""`
	TLSKeyFile     string   `json:"tlsKeyFile" env:"TLS_KEY_FILE" default:""`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`
}

// DumpConfig holds header trace configuration
type DumpConfig struct {
	Compress string `json:"compress" env:"DUMP_COMPRESS" default:"none"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	// Server config
	config.Server.Host = getOverrideOrEnv(opts.Host, "SERVER_HOST", "0.0.0.0")
	config.Server.Port = getOverrideOrEnv(opts.Port, "SERVER_PORT", "8080")
	config.Server.ReadTimeout = getDurationWithDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	config.Server.WriteTimeout = getDurationWithDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	config.Server.IdleTimeout = getDurationWithDefault("SERVER_IDLE_TIMEOUT", 120*time.Second)

	// Decoder config
	config.Decoder.HeaderSizeFormula = getOverrideOrEnv(opts.HeaderSize, "VP8_HEADER_SIZE_FORMULA", "standard")
	config.Decoder.MaxWidth = getIntWithDefault("VP8_MAX_WIDTH", session.DefaultMaxWidth)
	config.Decoder.MaxHeight = getIntWithDefault("VP8_MAX_HEIGHT", session.DefaultMaxHeight)
	config.Decoder.SurfacePool = getIntWithDefault("VP8_SURFACE_POOL", session.DefaultPoolSize)

	// Framing config
	config.Framing.Format = getOverrideOrEnv(opts.Framing, "VP8_FRAMING", string(framing.KindRaw))
	config.Framing.RTPMaxLate = getIntWithDefault("RTP_MAX_LATE", framing.DefaultMaxLate)
	config.Framing.RTPClockRate = getIntWithDefault("RTP_CLOCK_RATE", framing.DefaultClockRate)

	// Security config
	config.Security.AllowedOrigins = getStringSliceWithDefault("ALLOWED_ORIGINS", []string{})
	config.Security.MaxConnections = getIntWithDefault("MAX_CONNECTIONS", 100)
	config.Security.MaxMessageSize = int64(getIntWithDefault("MAX_MESSAGE_SIZE", 4<<20))
	config.Security.EnableTLS = getBoolWithDefault("ENABLE_TLS", false)
	config.Security.TLSCertFile = getEnvWithDefault("TLS_CERT_FILE", "")
	config.Security.TLSKeyFile = getEnvWithDefault("TLS_KEY_FILE", "")

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")
	config.Logging.Format = getEnvWithDefault("LOG_FORMAT", "text")

	// Dump config
	config.Dump.Compress = getOverrideOrEnv(opts.Compress, "DUMP_COMPRESS", string(dump.CompressNone))

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store the configuration globally so other packages can access it
	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetGlobalConfig returns the globally stored configuration
// This should be used by packages that need access to the configuration
// loaded by the server with command-line overrides
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	// Validate decoder config
	if _, err := header.ParseHeaderSizeFormula(c.Decoder.HeaderSizeFormula); err != nil {
		return fmt.Errorf("invalid decoder config: %w", err)
	}

	if c.Decoder.MaxWidth < 16 || c.Decoder.MaxHeight < 16 || c.Decoder.MaxWidth > 16383 || c.Decoder.MaxHeight > 16383 {
		return fmt.Errorf("max dimensions must be between 16 and 16383")
	}

	if c.Decoder.SurfacePool < session.DefaultPoolSize {
		return fmt.Errorf("surface pool must hold at least %d surfaces", session.DefaultPoolSize)
	}

	// Validate framing config
	if _, err := framing.ParseKind(c.Framing.Format); err != nil {
		return fmt.Errorf("invalid framing config: %w", err)
	}

	if c.Framing.RTPMaxLate < 1 || c.Framing.RTPMaxLate > 65535 {
		return fmt.Errorf("rtp max late must be between 1 and 65535")
	}

	if c.Framing.RTPClockRate <= 0 {
		return fmt.Errorf("rtp clock rate must be positive")
	}

	// Validate security config
	if c.Security.EnableTLS {
		if c.Security.TLSCertFile == "" || c.Security.TLSKeyFile == "" {
			return fmt.Errorf("TLS certificate and key files must be specified when TLS is enabled")
		}

		if _, err := os.Stat(c.Security.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file does not exist: %s", c.Security.TLSCertFile)
		}

		if _, err := os.Stat(c.Security.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", c.Security.TLSKeyFile)
		}
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}

	if c.Security.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}

	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validate dump config
	if _, err := dump.ParseCompression(c.Dump.Compress); err != nil {
		return fmt.Errorf("invalid dump config: %w", err)
	}

	return nil
}

// HeaderSizeFormula returns the parsed decoder formula. Validate has
// already rejected unknown names.
func (c *Config) HeaderSizeFormula() header.HeaderSizeFormula {
	f, _ := header.ParseHeaderSizeFormula(c.Decoder.HeaderSizeFormula)
	return f
}

// SessionOptions returns the decode session settings.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Formula:   c.HeaderSizeFormula(),
		MaxWidth:  c.Decoder.MaxWidth,
		MaxHeight: c.Decoder.MaxHeight,
		Surfaces:  session.NewPool(c.Decoder.SurfacePool),
	}
}

// RTPOptions returns the RTP assembler settings.
func (c *Config) RTPOptions() framing.RTPOptions {
	return framing.RTPOptions{
		MaxLate:   uint16(c.Framing.RTPMaxLate),
		ClockRate: uint32(c.Framing.RTPClockRate),
	}
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitString(value, ",")
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
