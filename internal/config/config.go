package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	HTTPListenAddr string `yaml:"http_listen_addr"`
	LogLevel       string `yaml:"log_level"`
	ServiceName    string `yaml:"service_name"`

	// JWT settings for owner sessions.
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	// Issuance defaults applied when a request omits the field.
	DefaultFormatPrefix string `yaml:"default_format_prefix"`
	DefaultExpiryDays   int    `yaml:"default_expiry_days"`
	DefaultMaxUses      int    `yaml:"default_max_uses"`

	// ValidateRateLimit caps validation requests per client IP per minute.
	ValidateRateLimit int `yaml:"validate_rate_limit"`

	// MCP server settings. The MCP server acts on behalf of a single
	// operator account identified by username.
	MCPListenAddr    string `yaml:"mcp_listen_addr"`
	MCPOwnerUsername string `yaml:"mcp_owner_username"`
}

// Load builds the config from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence over file values.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPListenAddr:      ":8080",
		LogLevel:            "info",
		ServiceName:         "keyserver-api",
		JWTIssuer:           "keyserver",
		DefaultFormatPrefix: "ContentalX-",
		DefaultExpiryDays:   30,
		DefaultMaxUses:      1,
		ValidateRateLimit:   120,
		MCPListenAddr:       ":8090",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", cfg.HTTPListenAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.DefaultFormatPrefix = getEnv("DEFAULT_FORMAT_PREFIX", cfg.DefaultFormatPrefix)
	cfg.MCPListenAddr = getEnv("MCP_LISTEN_ADDR", cfg.MCPListenAddr)
	cfg.MCPOwnerUsername = getEnv("MCP_OWNER_USERNAME", cfg.MCPOwnerUsername)

	var err error
	if cfg.DefaultExpiryDays, err = getEnvInt("DEFAULT_EXPIRY_DAYS", cfg.DefaultExpiryDays); err != nil {
		return nil, err
	}
	if cfg.DefaultMaxUses, err = getEnvInt("DEFAULT_MAX_USES", cfg.DefaultMaxUses); err != nil {
		return nil, err
	}
	if cfg.ValidateRateLimit, err = getEnvInt("VALIDATE_RATE_LIMIT", cfg.ValidateRateLimit); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that fields required to run the API server are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DefaultExpiryDays < 0 {
		return fmt.Errorf("DEFAULT_EXPIRY_DAYS must be >= 0")
	}
	if c.DefaultMaxUses < 1 {
		return fmt.Errorf("DEFAULT_MAX_USES must be >= 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
