package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Addr               string
	CORSAllowedOrigins []string

	// Storage
	DBPath            string
	SurveyCatalogPath string

	// Customer links
	LinkTemplate        string
	StrictSlotSelection bool

	// Suggestions
	AnthropicAPIKey   string
	SuggestionModel   string
	SuggestionTimeout time.Duration

	// Tracing
	OTLPEndpoint string
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", ""),
		DBPath:              getEnv("DB_PATH", "./data/deals.db"),
		SurveyCatalogPath:   getEnv("SURVEY_CATALOG_PATH", ""),
		LinkTemplate:        getEnv("LINK_BASE_URL", "http://localhost:3000/customer/select_date/{deal_id}"),
		StrictSlotSelection: getEnvBool("STRICT_SLOT_SELECTION", false),
		AnthropicAPIKey:     strings.TrimSpace(getEnv("ANTHROPIC_API_KEY", "")),
		SuggestionModel:     getEnv("SUGGESTION_MODEL", ""),
		OTLPEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
		if port := getEnv("PORT", ""); port != "" {
			cfg.Addr = ":" + port
		}
	}

	var err error
	cfg.SuggestionTimeout, err = getEnvDuration("SUGGESTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}
