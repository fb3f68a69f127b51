package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-vp8/internal/framing"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Decoder:  DecoderConfig{HeaderSizeFormula: "standard", MaxWidth: 4096, MaxHeight: 4096, SurfacePool: 4},
		Framing:  FramingConfig{Format: "raw", RTPMaxLate: 512, RTPClockRate: 90000},
		Security: SecurityConfig{MaxConnections: 100, MaxMessageSize: 1 << 20},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Dump:     DumpConfig{Compress: "none"},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "default configuration",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ServerConfig{
					Host:         "0.0.0.0",
					Port:         "8080",
					ReadTimeout:  30 * time.Second,
					WriteTimeout: 30 * time.Second,
					IdleTimeout:  120 * time.Second,
				}, cfg.Server)
				assert.Equal(t, DecoderConfig{
					HeaderSizeFormula: "standard",
					MaxWidth:          4096,
					MaxHeight:         4096,
					SurfacePool:       4,
				}, cfg.Decoder)
				assert.Equal(t, FramingConfig{Format: "raw", RTPMaxLate: 512, RTPClockRate: 90000}, cfg.Framing)
				assert.Equal(t, SecurityConfig{AllowedOrigins: []string{}, MaxConnections: 100, MaxMessageSize: 4 << 20}, cfg.Security)
				assert.Equal(t, LoggingConfig{Level: "info", Format: "text"}, cfg.Logging)
				assert.Equal(t, DumpConfig{Compress: "none"}, cfg.Dump)
			},
		},
		{
			name: "custom environment variables",
			envVars: map[string]string{
				"SERVER_HOST":             "127.0.0.1",
				"SERVER_PORT":             "9090",
				"LOG_LEVEL":               "debug",
				"LOG_FORMAT":              "json",
				"MAX_CONNECTIONS":         "50",
				"ALLOWED_ORIGINS":         "https://a.example, https://b.example",
				"VP8_HEADER_SIZE_FORMULA": "legacy",
				"VP8_MAX_WIDTH":           "1920",
				"VP8_SURFACE_POOL":        "8",
				"VP8_FRAMING":             "rtp",
				"RTP_MAX_LATE":            "64",
				"DUMP_COMPRESS":           "zstd",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, "9090", cfg.Server.Port)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, 50, cfg.Security.MaxConnections)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, header.FormulaLegacy, cfg.HeaderSizeFormula())
				assert.Equal(t, 1920, cfg.Decoder.MaxWidth)
				assert.Equal(t, 4096, cfg.Decoder.MaxHeight)
				assert.Equal(t, 8, cfg.Decoder.SurfacePool)
				assert.Equal(t, "rtp", cfg.Framing.Format)
				assert.Equal(t, framing.RTPOptions{MaxLate: 64, ClockRate: 90000}, cfg.RTPOptions())
				assert.Equal(t, "zstd", cfg.Dump.Compress)
			},
		},
		{
			name:    "unknown header size formula",
			envVars: map[string]string{"VP8_HEADER_SIZE_FORMULA": "driver-x"},
			wantErr: true,
		},
		{
			name:    "unknown framing",
			envVars: map[string]string{"VP8_FRAMING": "mkv"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
			assert.Same(t, cfg, GetGlobalConfig())
		})
	}
}

func TestLoadWithOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("VP8_HEADER_SIZE_FORMULA", "standard")

	cfg, err := LoadWithOverrides(LoadOptions{
		Host:       "192.168.1.100",
		Port:       "443",
		LogLevel:   "warn",
		HeaderSize: "legacy",
		Framing:    "ivf",
		Compress:   "zstd",
	})

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.100", cfg.Server.Host)
	assert.Equal(t, "443", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, header.FormulaLegacy, cfg.HeaderSizeFormula())
	assert.Equal(t, "ivf", cfg.Framing.Format)
	assert.Equal(t, "zstd", cfg.Dump.Compress)
}

func TestSessionOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Decoder.HeaderSizeFormula = "legacy"
	cfg.Decoder.MaxWidth = 1280
	cfg.Decoder.SurfacePool = 6

	opts := cfg.SessionOptions()
	assert.Equal(t, header.FormulaLegacy, opts.Formula)
	assert.Equal(t, 1280, opts.MaxWidth)
	assert.Equal(t, 4096, opts.MaxHeight)
	require.NotNil(t, opts.Surfaces)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{name: "valid configuration", mutate: func(c *Config) {}},
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: true,
			errMsg:  "server port cannot be empty",
		},
		{
			name:    "invalid port range",
			mutate:  func(c *Config) { c.Server.Port = "99999" },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "invalid header size formula",
			mutate:  func(c *Config) { c.Decoder.HeaderSizeFormula = "other" },
			wantErr: true,
			errMsg:  "invalid decoder config",
		},
		{
			name:    "max dimensions too small",
			mutate:  func(c *Config) { c.Decoder.MaxWidth = 8 },
			wantErr: true,
			errMsg:  "max dimensions",
		},
		{
			name:    "max dimensions beyond the bitstream limit",
			mutate:  func(c *Config) { c.Decoder.MaxHeight = 20000 },
			wantErr: true,
			errMsg:  "max dimensions",
		},
		{
			name:    "surface pool too small",
			mutate:  func(c *Config) { c.Decoder.SurfacePool = 3 },
			wantErr: true,
			errMsg:  "surface pool",
		},
		{
			name:    "invalid framing",
			mutate:  func(c *Config) { c.Framing.Format = "webm" },
			wantErr: true,
			errMsg:  "invalid framing config",
		},
		{
			name:    "rtp max late out of range",
			mutate:  func(c *Config) { c.Framing.RTPMaxLate = 70000 },
			wantErr: true,
			errMsg:  "rtp max late",
		},
		{
			name:    "rtp clock rate",
			mutate:  func(c *Config) { c.Framing.RTPClockRate = 0 },
			wantErr: true,
			errMsg:  "rtp clock rate must be positive",
		},
		{
			name:    "invalid max connections",
			mutate:  func(c *Config) { c.Security.MaxConnections = 0 },
			wantErr: true,
			errMsg:  "max connections must be positive",
		},
		{
			name:    "invalid max message size",
			mutate:  func(c *Config) { c.Security.MaxMessageSize = 0 },
			wantErr: true,
			errMsg:  "max message size must be positive",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid log format",
		},
		{
			name:    "invalid dump compression",
			mutate:  func(c *Config) { c.Dump.Compress = "lz4" },
			wantErr: true,
			errMsg:  "invalid dump config",
		},
		{
			name:    "TLS enabled without certs",
			mutate:  func(c *Config) { c.Security.EnableTLS = true },
			wantErr: true,
			errMsg:  "TLS certificate and key files must be specified",
		},
		{
			name: "TLS cert file missing",
			mutate: func(c *Config) {
				c.Security.EnableTLS = true
				c.Security.TLSCertFile = "/nonexistent/cert.pem"
				c.Security.TLSKeyFile = "/nonexistent/key.pem"
			},
			wantErr: true,
			errMsg:  "TLS certificate file does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	key := "TEST_CONFIG_VAR"
	defaultValue := "default"
	testValue := "test_value"

	// Test when env var is not set
	os.Unsetenv(key)
	result := getEnvWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Test when env var is set
	os.Setenv(key, testValue)
	result = getEnvWithDefault(key, defaultValue)
	assert.Equal(t, testValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestGetIntWithDefault(t *testing.T) {
	key := "TEST_INT_VAR"
	defaultValue := 42
	testValue := "100"

	// Test when env var is not set
	os.Unsetenv(key)
	result := getIntWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Test when env var is set with valid integer
	os.Setenv(key, testValue)
	result = getIntWithDefault(key, defaultValue)
	assert.Equal(t, 100, result)

	// Test when env var is set with invalid integer
	os.Setenv(key, "invalid")
	result = getIntWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestGetBoolWithDefault(t *testing.T) {
	key := "TEST_BOOL_VAR"
	defaultValue := false

	// Test when env var is not set
	os.Unsetenv(key)
	result := getBoolWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Test when env var is set with true
	os.Setenv(key, "true")
	result = getBoolWithDefault(key, defaultValue)
	assert.Equal(t, true, result)

	// Test when env var is set with false
	os.Setenv(key, "false")
	result = getBoolWithDefault(key, defaultValue)
	assert.Equal(t, false, result)

	// Test when env var is set with invalid boolean
	os.Setenv(key, "invalid")
	result = getBoolWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestGetDurationWithDefault(t *testing.T) {
	key := "TEST_DURATION_VAR"
	defaultValue := 30 * time.Second
	testValue := "60s"

	// Test when env var is not set
	os.Unsetenv(key)
	result := getDurationWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Test when env var is set with valid duration
	os.Setenv(key, testValue)
	result = getDurationWithDefault(key, defaultValue)
	assert.Equal(t, 60*time.Second, result)

	// Test when env var is set with invalid duration
	os.Setenv(key, "invalid")
	result = getDurationWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestGetStringSliceWithDefault(t *testing.T) {
	key := "TEST_SLICE_VAR"
	defaultValue := []string{"default1", "default2"}
	testValue := "value1,value2,value3"

	// Test when env var is not set
	os.Unsetenv(key)
	result := getStringSliceWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Test when env var is set with comma-separated values
	os.Setenv(key, testValue)
	result = getStringSliceWithDefault(key, defaultValue)
	assert.Equal(t, []string{"value1", "value2", "value3"}, result)

	// Test when env var is empty
	os.Setenv(key, "")
	result = getStringSliceWithDefault(key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestGetOverrideOrEnv(t *testing.T) {
	key := "TEST_OVERRIDE_VAR"
	override := "override_value"
	envValue := "env_value"
	defaultValue := "default_value"

	// Test when override is provided
	os.Setenv(key, envValue)
	result := getOverrideOrEnv(override, key, defaultValue)
	assert.Equal(t, override, result)

	// Test when override is empty but env var is set
	os.Setenv(key, envValue)
	result = getOverrideOrEnv("", key, defaultValue)
	assert.Equal(t, envValue, result)

	// Test when both override and env are empty
	os.Unsetenv(key)
	result = getOverrideOrEnv("", key, defaultValue)
	assert.Equal(t, defaultValue, result)

	// Clean up
	os.Unsetenv(key)
}

func TestSplitString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		sep      string
		expected []string
	}{
		{
			name:     "normal comma separation",
			input:    "a,b,c",
			sep:      ",",
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "with whitespace",
			input:    "a, b , c",
			sep:      ",",
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "empty input",
			input:    "",
			sep:      ",",
			expected: []string{},
		},
		{
			name:     "empty elements",
			input:    "a,,c",
			sep:      ",",
			expected: []string{"a", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitString(tt.input, tt.sep)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetGlobalConfig(t *testing.T) {
	cfg, err := LoadWithOverrides(LoadOptions{Port: "8181"})
	require.NoError(t, err)

	got := GetGlobalConfig()
	require.NotNil(t, got)
	assert.Equal(t, "8181", got.Server.Port)
	assert.Same(t, cfg, got)
}
