// Package config loads service configuration from TOML files with
// FINSIGHT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/dvloznov/finance-insights/internal/enrich"
	"github.com/dvloznov/finance-insights/internal/metrics"
)

// DefaultPaths are tried in order by LoadConfig callers that have no explicit path.
var DefaultPaths = []string{"finsight.toml", "config/finsight.toml"}

// SearchPaths returns DefaultPaths followed by explicit when it is set, so an
// explicit file overrides the defaults.
func SearchPaths(explicit string) []string {
	paths := append([]string(nil), DefaultPaths...)
	if explicit != "" {
		paths = append(paths, explicit)
	}
	return paths
}

// Config holds all configuration for finance-insights.
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	BigQuery    BigQueryConfig `toml:"bigquery"`
	Analysis    AnalysisConfig `toml:"analysis"`
	Insights    InsightsConfig `toml:"insights"`
	Archive     ArchiveConfig  `toml:"archive"`
	Notion      NotionConfig   `toml:"notion"`
	Jobs        JobsConfig     `toml:"jobs"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// BigQueryConfig points at the dataset holding transactions and insight tables.
type BigQueryConfig struct {
	ProjectID string `toml:"project_id"`
	Dataset   string `toml:"dataset"`
}

// AnalysisConfig holds the metrics and enrichment parameters.
type AnalysisConfig struct {
	DefaultTimezone  string         `toml:"default_timezone"`
	DefaultDirection string         `toml:"default_direction"` // direction for records nothing else classifies
	Metrics          metrics.Config `toml:"metrics"`
	Enrich           enrich.Config  `toml:"enrich"`
}

// InsightsConfig holds the narrative generation and throttling settings.
type InsightsConfig struct {
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model"`
	Temperature     float32 `toml:"temperature"`
	MaxOutputTokens int32   `toml:"max_output_tokens"`
	Timeout         string  `toml:"timeout"`
	CacheTTL        string  `toml:"cache_ttl"`
	DailyLimit      int     `toml:"daily_limit"`
	PerMinute       int     `toml:"per_minute"`
	Cooldown        string  `toml:"cooldown"`
}

// ArchiveConfig sets where report snapshots are written, e.g. gs://bucket/reports.
type ArchiveConfig struct {
	BaseURI string `toml:"base_uri"`
}

type NotionConfig struct {
	Token      string `toml:"token"`
	DatabaseID string `toml:"database_id"`
}

// JobsConfig drives the background insight refresh.
type JobsConfig struct {
	Workers         int      `toml:"workers"`
	BufferSize      int      `toml:"buffer_size"`
	MaxRetries      int      `toml:"max_retries"`
	RefreshInterval string   `toml:"refresh_interval"`
	Companies       []string `toml:"companies"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  "15s",
			WriteTimeout: "60s",
		},
		BigQuery: BigQueryConfig{
			ProjectID: "finance-insights",
			Dataset:   "finance",
		},
		Analysis: AnalysisConfig{
			DefaultTimezone:  "UTC",
			DefaultDirection: "expense",
			Metrics:          metrics.DefaultConfig(),
			Enrich:           enrich.DefaultConfig(),
		},
		Insights: InsightsConfig{
			Model:           "gemini-2.5-flash",
			Temperature:     0.25,
			MaxOutputTokens: 1000,
			Timeout:         "45s",
			CacheTTL:        "10m",
			DailyLimit:      50,
			PerMinute:       5,
			Cooldown:        "10s",
		},
		Jobs: JobsConfig{
			Workers:         2,
			BufferSize:      100,
			MaxRetries:      3,
			RefreshInterval: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadConfig: read %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("LoadConfig: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FINSIGHT_ENV"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("FINSIGHT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("FINSIGHT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FINSIGHT_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("FINSIGHT_BIGQUERY_PROJECT"); v != "" {
		config.BigQuery.ProjectID = v
	}
	if v := os.Getenv("FINSIGHT_BIGQUERY_DATASET"); v != "" {
		config.BigQuery.Dataset = v
	}

	if v := os.Getenv("FINSIGHT_DEFAULT_TIMEZONE"); v != "" {
		config.Analysis.DefaultTimezone = v
	}
	if v := os.Getenv("FINSIGHT_WINDOW_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			config.Analysis.Metrics.WindowDays = d
		}
	}

	for _, name := range []string{"GEMINI_API_KEY", "FINSIGHT_GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Insights.APIKey = v
			break
		}
	}
	if v := os.Getenv("FINSIGHT_GEMINI_MODEL"); v != "" {
		config.Insights.Model = v
	}
	if v := os.Getenv("FINSIGHT_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Insights.DailyLimit = n
		}
	}

	if v := os.Getenv("FINSIGHT_ARCHIVE_URI"); v != "" {
		config.Archive.BaseURI = v
	}
	if v := os.Getenv("NOTION_TOKEN"); v != "" {
		config.Notion.Token = v
	}
	if v := os.Getenv("FINSIGHT_NOTION_DATABASE_ID"); v != "" {
		config.Notion.DatabaseID = v
	}
	if v := os.Getenv("FINSIGHT_REFRESH_COMPANIES"); v != "" {
		var companies []string
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				companies = append(companies, c)
			}
		}
		config.Jobs.Companies = companies
	}
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Analysis.DefaultDirection) {
	case "", "expense", "income":
	default:
		return fmt.Errorf("config: analysis.default_direction must be expense or income, got %q", c.Analysis.DefaultDirection)
	}
	if _, err := time.LoadLocation(c.Analysis.DefaultTimezone); err != nil {
		return fmt.Errorf("config: analysis.default_timezone: %w", err)
	}
	for name, d := range map[string]string{
		"server.read_timeout":   c.Server.ReadTimeout,
		"server.write_timeout":  c.Server.WriteTimeout,
		"insights.timeout":      c.Insights.Timeout,
		"insights.cache_ttl":    c.Insights.CacheTTL,
		"insights.cooldown":     c.Insights.Cooldown,
		"jobs.refresh_interval": c.Jobs.RefreshInterval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration parses a duration string, returning fallback when it is empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
