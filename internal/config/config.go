package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const defaultConfigPath = "taxonav.yaml"

// unsetMaxRetries marks llm_max_retries as absent so an explicit 0 survives
// ApplyDefaults.
const unsetMaxRetries = -1

type Config struct {
	TaxonomyPath string `yaml:"taxonomy_path"`

	LLMProvider       string `yaml:"llm_provider"`
	LLMModel          string `yaml:"llm_model"`
	LLMFinalModel     string `yaml:"llm_final_model"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
	LLMTimeoutSeconds int    `yaml:"llm_timeout_seconds"`
	LLMMaxRetries     int    `yaml:"llm_max_retries"`
	LLMRetryBaseMS    int    `yaml:"llm_retry_base_ms"`

	L1Fanout                int    `yaml:"l1_fanout"`
	LeafChunkSize           int    `yaml:"leaf_chunk_size"`
	FinalSelectionThreshold int    `yaml:"final_selection_threshold"`
	FinalUnparseablePolicy  string `yaml:"final_unparseable_policy"`

	BatchWorkers   int `yaml:"batch_workers"`
	BatchCacheSize int `yaml:"batch_cache_size"`

	DBPath                     string `yaml:"db_path"`
	ResultsPath                string `yaml:"results_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`

	ClassifySchedule string `yaml:"classify_schedule"`
	ProductsPath     string `yaml:"products_path"`
	Timezone         string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads the YAML file named by CONFIG_PATH (or ./taxonav.yaml when it
// exists), applies environment overrides and defaults, then validates.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_PATH"))
}

// LoadFrom is Load with an explicit YAML path. A missing file is not an
// error.
func LoadFrom(configPath string) (Config, error) {
	cfg := Config{LLMMaxRetries: unsetMaxRetries}

	if configPath == "" {
		configPath = defaultConfigPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	envOverride(&cfg.TaxonomyPath, "TAXONOMY_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMFinalModel, "LLM_FINAL_MODEL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.FinalUnparseablePolicy, "FINAL_UNPARSEABLE_POLICY")
	envOverrideAllowEmpty(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.ResultsPath, "RESULTS_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.S3Endpoint, "S3_ENDPOINT")
	envOverride(&cfg.S3Region, "S3_REGION")
	envOverride(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	envOverride(&cfg.S3SecretKey, "S3_SECRET_KEY")
	envOverride(&cfg.S3Bucket, "S3_BUCKET")
	envOverrideBool(&cfg.S3UseSSL, "S3_USE_SSL")
	envOverride(&cfg.ClassifySchedule, "CLASSIFY_SCHEDULE")
	envOverride(&cfg.ProductsPath, "PRODUCTS_PATH")
	envOverride(&cfg.Timezone, "TIMEZONE")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS"},
		{&cfg.LLMMaxRetries, "LLM_MAX_RETRIES"},
		{&cfg.LLMRetryBaseMS, "LLM_RETRY_BASE_MS"},
		{&cfg.L1Fanout, "L1_FANOUT"},
		{&cfg.LeafChunkSize, "LEAF_CHUNK_SIZE"},
		{&cfg.FinalSelectionThreshold, "FINAL_SELECTION_THRESHOLD"},
		{&cfg.BatchWorkers, "BATCH_WORKERS"},
		{&cfg.BatchCacheSize, "BATCH_CACHE_SIZE"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
	}
	for _, i := range ints {
		if err := envOverrideInt(i.field, i.key); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDefaults fills every unset field. Safe to call again after flags
// have changed the config.
func (cfg *Config) ApplyDefaults() {
	if cfg.TaxonomyPath == "" {
		cfg.TaxonomyPath = "data/taxonomy.en-US.txt"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	if cfg.LLMFinalModel == "" {
		cfg.LLMFinalModel = cfg.LLMModel
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 30
	}
	if cfg.LLMMaxRetries == unsetMaxRetries {
		cfg.LLMMaxRetries = 2
	}
	if cfg.LLMRetryBaseMS == 0 {
		cfg.LLMRetryBaseMS = 300
	}
	if cfg.L1Fanout == 0 {
		cfg.L1Fanout = 2
	}
	if cfg.LeafChunkSize == 0 {
		cfg.LeafChunkSize = 15
	}
	if cfg.FinalSelectionThreshold == 0 {
		cfg.FinalSelectionThreshold = 1
	}
	if cfg.FinalUnparseablePolicy == "" {
		cfg.FinalUnparseablePolicy = "first"
	}
	if cfg.BatchWorkers == 0 {
		cfg.BatchWorkers = 4
	}
	if cfg.BatchCacheSize == 0 {
		cfg.BatchCacheSize = 1024
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

// Validate checks ranges and cross-field requirements and resolves
// Location. The provider key is checked separately by RequireAPIKey so
// commands that never call a model work without one.
func (cfg *Config) Validate() error {
	switch cfg.LLMProvider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("llm_provider must be 'openai', 'anthropic' or 'gemini', got '%s'", cfg.LLMProvider)
	}

	checks := []struct {
		name string
		val  int
		min  int
	}{
		{"l1_fanout", cfg.L1Fanout, 1},
		{"leaf_chunk_size", cfg.LeafChunkSize, 1},
		{"final_selection_threshold", cfg.FinalSelectionThreshold, 1},
		{"batch_workers", cfg.BatchWorkers, 1},
		{"batch_cache_size", cfg.BatchCacheSize, 1},
		{"llm_timeout_seconds", cfg.LLMTimeoutSeconds, 1},
		{"llm_max_retries", cfg.LLMMaxRetries, 0},
		{"llm_retry_base_ms", cfg.LLMRetryBaseMS, 1},
		{"external_http_timeout_seconds", cfg.ExternalHTTPTimeoutSeconds, 5},
	}
	for _, c := range checks {
		if c.val < c.min {
			return fmt.Errorf("invalid %s '%d': must be >= %d", c.name, c.val, c.min)
		}
	}

	switch strings.ToLower(cfg.FinalUnparseablePolicy) {
	case "first", "fail":
	default:
		return fmt.Errorf("final_unparseable_policy must be 'first' or 'fail', got '%s'", cfg.FinalUnparseablePolicy)
	}

	if cfg.S3Endpoint != "" && cfg.S3Bucket == "" {
		return fmt.Errorf("s3_bucket is required when s3_endpoint is set")
	}

	if cfg.ClassifySchedule != "" {
		if _, err := cron.ParseStandard(cfg.ClassifySchedule); err != nil {
			return fmt.Errorf("invalid classify_schedule '%s': %w", cfg.ClassifySchedule, err)
		}
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

func (c Config) RequireAPIKey() error {
	if c.APIKey() == "" {
		return fmt.Errorf("%s_api_key is required when llm_provider=%s", c.LLMProvider, c.LLMProvider)
	}
	return nil
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) LLMRetryBase() time.Duration {
	return time.Duration(c.LLMRetryBaseMS) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func (c Config) S3Configured() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}
