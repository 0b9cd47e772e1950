// Package config loads service configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	OpenAIAPIKey  string `yaml:"openai_api_key" validate:"required"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model" validate:"required"`

	VisionServiceURL string `yaml:"vision_service_url" validate:"required,url"`
	EmbedServiceURL  string `yaml:"embed_service_url" validate:"required,url"`

	WeaviateHost   string `yaml:"weaviate_host" validate:"required"`
	WeaviateScheme string `yaml:"weaviate_scheme" validate:"oneof=http https"`
	WeaviateClass  string `yaml:"weaviate_class"`

	SymptomThreshold int           `yaml:"symptom_threshold"`
	SimilarTopK      int           `yaml:"similar_top_k"`
	SimilarMinScore  float64       `yaml:"similar_min_score"`
	HistoryWindow    int           `yaml:"history_window"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

func defaults() Config {
	return Config{
		Port:             "8080",
		OpenAIModel:      "gpt-4o",
		WeaviateScheme:   "http",
		WeaviateClass:    "DermCase",
		SymptomThreshold: 2,
		SimilarTopK:      3,
		SimilarMinScore:  0.7,
		HistoryWindow:    10,
		ToolTimeout:      30 * time.Second,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Load builds the configuration. CONFIG_FILE, when set, names a YAML file
// applied over the defaults; environment variables win over both.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.VisionServiceURL, "VISION_SERVICE_URL")
	setString(&cfg.EmbedServiceURL, "EMBED_SERVICE_URL")
	setString(&cfg.WeaviateHost, "WEAVIATE_HOST")
	setString(&cfg.WeaviateScheme, "WEAVIATE_SCHEME")
	setString(&cfg.WeaviateClass, "WEAVIATE_CLASS")
	setInt(&cfg.SymptomThreshold, "SYMPTOM_THRESHOLD")
	setInt(&cfg.SimilarTopK, "SIMILAR_TOP_K")
	setFloat(&cfg.SimilarMinScore, "SIMILAR_MIN_SCORE")
	setInt(&cfg.HistoryWindow, "HISTORY_WINDOW")
	setDuration(&cfg.ToolTimeout, "TOOL_TIMEOUT")
	setDuration(&cfg.RetryBackoff, "RETRY_BACKOFF")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
