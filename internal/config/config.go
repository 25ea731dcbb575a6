// Package config loads service configuration from defaults, a YAML file, a .env file and the environment
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cron "github.com/robfig/cron"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given
const DefaultPath = "helpdesk.yaml"

// UpstreamConfig locates the help center that is ingested
type UpstreamConfig struct {
	BaseURL       string   `yaml:"base_url"`
	LegacyDomains []string `yaml:"legacy_domains"`
}

// IngestConfig tunes the ingestion pipeline
type IngestConfig struct {
	Delay       time.Duration `yaml:"delay"`
	Concurrency int           `yaml:"concurrency"`
	Retries     int           `yaml:"retries"` // attempts per document fetch
	Schedule    string        `yaml:"schedule"` // "0 3 * * *", "@daily", "@every 6h"; empty disables
	Timeout     time.Duration `yaml:"timeout"`
}

// LLMConfig selects the generative provider
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PromptConfig holds the fixed parts of the answer prompt
type PromptConfig struct {
	Role          string `yaml:"role"`
	Directive     string `yaml:"directive"`
	QuestionLabel string `yaml:"question_label"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Config is the root configuration
type Config struct {
	DataDir        string         `yaml:"data_dir"`
	DatabaseURL    string         `yaml:"database_url"` // postgres:// URL or SQLite file path
	SearchLanguage string         `yaml:"search_language"`
	PublicBaseURL  string         `yaml:"public_base_url"`
	RedisURL       string         `yaml:"redis_url"`
	Upstream       UpstreamConfig `yaml:"upstream"`
	Ingest         IngestConfig   `yaml:"ingest"`
	LLM            LLMConfig      `yaml:"llm"`
	Prompt         PromptConfig   `yaml:"prompt"`
	Server         ServerConfig   `yaml:"server"`
	Log            LogConfig      `yaml:"log"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		SearchLanguage: "pt",
		PublicBaseURL:  "https://ajuda.28pro.com.br",
		Upstream: UpstreamConfig{
			BaseURL:       "https://ajuda.aprendaerp.com.br",
			LegacyDomains: []string{"ajuda.aprendaerp.com.br", "aprendaerp.gitbook.io"},
		},
		Ingest: IngestConfig{
			Delay:       500 * time.Millisecond,
			Concurrency: 1,
			Retries:     1,
			Timeout:     time.Hour,
		},
		LLM: LLMConfig{
			Provider:    "groq",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Prompt: PromptConfig{
			Role:          "Especialista 28Pro ERP.",
			Directive:     "Use apenas contexto:",
			QuestionLabel: "Pergunta:",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3000,
			RequestTimeout:     30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (skipped when missing),
// then a .env file in the working directory, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.DataDir, "helpdesk.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("DATA_DIR", &c.DataDir)
	envString("DATABASE_URL", &c.DatabaseURL)
	envString("SEARCH_LANGUAGE", &c.SearchLanguage)
	envString("PUBLIC_BASE_URL", &c.PublicBaseURL)
	envString("REDIS_URL", &c.RedisURL)
	envString("UPSTREAM_BASE_URL", &c.Upstream.BaseURL)
	envList("UPSTREAM_LEGACY_DOMAINS", &c.Upstream.LegacyDomains)
	envString("INGEST_SCHEDULE", &c.Ingest.Schedule)
	envString("LLM_PROVIDER", &c.LLM.Provider)
	envString("LLM_BASE_URL", &c.LLM.BaseURL)
	envString("GROQ_API_KEY", &c.LLM.APIKey)
	envString("LLM_API_KEY", &c.LLM.APIKey)
	envString("LLM_MODEL", &c.LLM.Model)
	envString("HOST", &c.Server.Host)
	envList("CORS_ALLOWED_ORIGINS", &c.Server.CORSAllowedOrigins)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	return errors.Join(
		envDuration("INGEST_DELAY", &c.Ingest.Delay),
		envInt("INGEST_CONCURRENCY", &c.Ingest.Concurrency),
		envInt("INGEST_RETRIES", &c.Ingest.Retries),
		envDuration("INGEST_TIMEOUT", &c.Ingest.Timeout),
		envFloat("LLM_TEMPERATURE", &c.LLM.Temperature),
		envDuration("LLM_TIMEOUT", &c.LLM.Timeout),
		envInt("PORT", &c.Server.Port),
		envDuration("REQUEST_TIMEOUT", &c.Server.RequestTimeout),
	)
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	var errs []error

	switch c.SearchLanguage {
	case "pt", "en":
	default:
		errs = append(errs, fmt.Errorf("search_language %q is not supported (pt, en)", c.SearchLanguage))
	}
	switch c.LLM.Provider {
	case "groq", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm provider %q is not supported (groq, openai, ollama)", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm temperature %v is outside [0, 2]", c.LLM.Temperature))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("ingest concurrency must be positive, got %d", c.Ingest.Concurrency))
	}
	if c.Ingest.Retries < 1 {
		errs = append(errs, fmt.Errorf("ingest retries must be at least 1, got %d", c.Ingest.Retries))
	}
	if c.Ingest.Delay < 0 {
		errs = append(errs, fmt.Errorf("ingest delay must not be negative"))
	}
	if c.Ingest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Ingest.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("ingest schedule %q is not a five-field cron spec or descriptor: %w", c.Ingest.Schedule, err))
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Server.Port))
	}
	for name, raw := range map[string]string{"upstream base_url": c.Upstream.BaseURL, "public_base_url": c.PublicBaseURL} {
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute url", name, raw))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q is not supported (text, json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP API
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	*dst = list
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
