package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds process-wide configuration sourced from the environment.
// A .env file in the working directory is loaded first; real environment
// variables win over it.
type Settings struct {
	// Provider configuration.
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64

	// Tool invocation defaults.
	MCPTimeout       time.Duration
	MCPRetryAttempts int
	MCPRetryInterval time.Duration

	// Path to the server definitions file.
	ServersConfigPath string

	// Logging.
	LogLevel  string
	LogFile   string
	DebugMode bool
}

const (
	defaultModel       = "gpt-4o-mini"
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultServersPath = "config/mcp_servers.json"
)

// LoadSettings reads settings from the environment, after loading .env if
// present. Missing values fall back to defaults; the API key may be empty,
// callers that need the provider check for it themselves.
func LoadSettings() (*Settings, error) {
	// Best effort; a missing .env is the common case.
	_ = godotenv.Load()

	s := &Settings{
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     envOr("OPENAI_BASE_URL", defaultBaseURL),
		OpenAIModel:       envOr("OPENAI_MODEL", defaultModel),
		OpenAIMaxTokens:   defaultMaxTokens,
		OpenAITemperature: defaultTemperature,
		MCPTimeout:        30 * time.Second,
		MCPRetryAttempts:  3,
		MCPRetryInterval:  500 * time.Millisecond,
		ServersConfigPath: envOr("MCP_SERVERS_CONFIG", defaultServersPath),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
	}

	var err error
	if s.OpenAIMaxTokens, err = envInt("OPENAI_MAX_TOKENS", s.OpenAIMaxTokens); err != nil {
		return nil, err
	}
	if s.OpenAITemperature, err = envFloat("OPENAI_TEMPERATURE", s.OpenAITemperature); err != nil {
		return nil, err
	}
	if s.MCPTimeout, err = envSeconds("MCP_TIMEOUT", s.MCPTimeout); err != nil {
		return nil, err
	}
	if s.MCPRetryAttempts, err = envInt("MCP_RETRY_ATTEMPTS", s.MCPRetryAttempts); err != nil {
		return nil, err
	}
	if s.MCPRetryInterval, err = envDuration("MCP_RETRY_INTERVAL", s.MCPRetryInterval); err != nil {
		return nil, err
	}
	if s.DebugMode, err = envBool("DEBUG_MODE", false); err != nil {
		return nil, err
	}
	if s.DebugMode {
		s.LogLevel = "debug"
	}

	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
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

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// envSeconds parses a bare number as seconds, for compatibility with
// configurations that predate duration strings. "30" and "30s" both work.
func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
