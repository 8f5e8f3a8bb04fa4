package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consulted for the Gemini API key, in order.
const (
	EnvAPIKey         = "PROMPTORG_GEMINI_API_KEY"
	EnvFallbackAPIKey = "GEMINI_API_KEY"
)

// Config holds application configuration.
type Config struct {
	// GeminiAPIKey authenticates LLM calls. Usually supplied via environment.
	GeminiAPIKey string `json:"gemini_api_key,omitempty"`

	// Model is the Gemini model used for counting and generation.
	Model string `json:"model,omitempty"`

	// ContextLimit is the model's input window, used for the context usage rate.
	ContextLimit int `json:"context_limit,omitempty"`

	// PriceInputPerMillion and PriceOutputPerMillion are USD per 1M tokens.
	PriceInputPerMillion  float64 `json:"price_input_per_million,omitempty"`
	PriceOutputPerMillion float64 `json:"price_output_per_million,omitempty"`

	// FXRate converts USD into Currency.
	FXRate   float64 `json:"fx_rate,omitempty"`
	Currency string  `json:"currency,omitempty"`

	// EstimateDebounceMS coalesces settings edits before re-estimating.
	EstimateDebounceMS int `json:"estimate_debounce_ms,omitempty"`

	// LogMode selects the logger preset: "dev" (default) or "prod".
	LogMode string `json:"log_mode,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names, or tool groups such as
	// "prompt", to exclude from registration. Unknown names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
// Pricing matches gemini-2.5-flash; FXRate converts to JPY.
func DefaultConfig() *Config {
	return &Config{
		Model:                 "gemini-2.5-flash",
		ContextLimit:          1_048_576,
		PriceInputPerMillion:  0.3,
		PriceOutputPerMillion: 2.5,
		FXRate:                150,
		Currency:              "JPY",
		EstimateDebounceMS:    200,
		LogMode:               "dev",
	}
}

// Load loads configuration from baseDir/config.json and applies the
// environment overlay. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.promptorg.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(cfg, fromEnv()), nil
}

// fromEnv returns an overlay holding only values read from the environment.
func fromEnv() *Config {
	key := strings.TrimSpace(os.Getenv(EnvAPIKey))
	if key == "" {
		key = strings.TrimSpace(os.Getenv(EnvFallbackAPIKey))
	}
	return &Config{GeminiAPIKey: key}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.GeminiAPIKey = firstString(overlay.GeminiAPIKey, base.GeminiAPIKey)
	result.Model = firstString(overlay.Model, base.Model)
	result.Currency = firstString(overlay.Currency, base.Currency)
	result.LogMode = firstString(overlay.LogMode, base.LogMode)

	result.ContextLimit = firstInt(overlay.ContextLimit, base.ContextLimit)
	result.EstimateDebounceMS = firstInt(overlay.EstimateDebounceMS, base.EstimateDebounceMS)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.PriceInputPerMillion = firstFloat(overlay.PriceInputPerMillion, base.PriceInputPerMillion)
	result.PriceOutputPerMillion = firstFloat(overlay.PriceOutputPerMillion, base.PriceOutputPerMillion)
	result.FXRate = firstFloat(overlay.FXRate, base.FXRate)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func firstFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
