// Package core provides configuration management for vantage
package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vantage configuration with validation
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
		Listen   string `yaml:"listen"`
	} `yaml:"app"`

	Database struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		DBName         string `yaml:"dbname"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"database"`

	Alerting struct {
		DefaultCooldownSec int    `yaml:"default_cooldown_sec"`
		EvaluationTimeout  string `yaml:"evaluation_timeout"`
	} `yaml:"alerting"`

	Notifications struct {
		SendTimeout string `yaml:"send_timeout"`
		SMTP        struct {
			Host string `yaml:"host"`
			Port int    `yaml:"port"`
			From string `yaml:"from"`
		} `yaml:"smtp"`
		SMSGatewayURL string `yaml:"sms_gateway_url"`
	} `yaml:"notifications"`

	Prometheus struct {
		Enabled        bool   `yaml:"enabled"`
		URL            string `yaml:"url"`
		ScrapeInterval string `yaml:"scrape_interval"`
		OrganizationID string `yaml:"organization_id"`
		Queries        []struct {
			Query      string `yaml:"query"`
			MetricName string `yaml:"metric_name"`
		} `yaml:"queries"`
	} `yaml:"prometheus"`

	Kubernetes struct {
		Enabled   bool   `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
	} `yaml:"kubernetes"`

	Capacity struct {
		DataWindowDays int `yaml:"data_window_days"`
		ForecastMonths int `yaml:"forecast_months"`
	} `yaml:"capacity"`
}

// LoadConfig reads and validates configuration from YAML file
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyEnvOverrides()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Listen == "" {
		c.App.Listen = ":8081"
	}
	if c.Alerting.DefaultCooldownSec == 0 {
		c.Alerting.DefaultCooldownSec = 300
	}
	if c.Alerting.EvaluationTimeout == "" {
		c.Alerting.EvaluationTimeout = "10s"
	}
	if c.Notifications.SendTimeout == "" {
		c.Notifications.SendTimeout = "10s"
	}
	if c.Capacity.DataWindowDays == 0 {
		c.Capacity.DataWindowDays = 90
	}
	if c.Capacity.ForecastMonths == 0 {
		c.Capacity.ForecastMonths = 12
	}
	if c.Prometheus.ScrapeInterval == "" {
		c.Prometheus.ScrapeInterval = "30s"
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name cannot be empty")
	}
	if c.App.Version == "" {
		return fmt.Errorf("app.version cannot be empty")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		return fmt.Errorf("app.log_level must be one of: debug, info, warn, error")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host cannot be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user cannot be empty")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.dbname cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive")
	}

	if c.Alerting.DefaultCooldownSec < 0 {
		return fmt.Errorf("alerting.default_cooldown_sec must be non-negative")
	}
	if _, err := time.ParseDuration(c.Alerting.EvaluationTimeout); err != nil {
		return fmt.Errorf("alerting.evaluation_timeout is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Notifications.SendTimeout); err != nil {
		return fmt.Errorf("notifications.send_timeout is not a valid duration: %w", err)
	}

	if c.Prometheus.Enabled {
		if c.Prometheus.URL == "" {
			return fmt.Errorf("prometheus.url cannot be empty when prometheus is enabled")
		}
		if !strings.HasPrefix(c.Prometheus.URL, "http://") && !strings.HasPrefix(c.Prometheus.URL, "https://") {
			return fmt.Errorf("prometheus.url must start with http:// or https://")
		}
		if c.Prometheus.OrganizationID == "" {
			return fmt.Errorf("prometheus.organization_id cannot be empty when prometheus is enabled")
		}
		if _, err := time.ParseDuration(c.Prometheus.ScrapeInterval); err != nil {
			return fmt.Errorf("prometheus.scrape_interval is not a valid duration: %w", err)
		}
	}

	if c.Capacity.DataWindowDays <= 0 {
		return fmt.Errorf("capacity.data_window_days must be positive")
	}
	if c.Capacity.ForecastMonths <= 0 {
		return fmt.Errorf("capacity.forecast_months must be positive")
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("VANTAGE_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if user := os.Getenv("VANTAGE_DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("VANTAGE_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("VANTAGE_DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if url := os.Getenv("VANTAGE_PROMETHEUS_URL"); url != "" {
		c.Prometheus.URL = url
	}
	if logLevel := os.Getenv("VANTAGE_LOG_LEVEL"); logLevel != "" {
		c.App.LogLevel = logLevel
	}
	if listen := os.Getenv("VANTAGE_LISTEN"); listen != "" {
		c.App.Listen = listen
	}
}

// EvaluationTimeoutDuration returns the parsed rule evaluation timeout.
func (c *Config) EvaluationTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Alerting.EvaluationTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// SendTimeoutDuration returns the parsed notification send timeout.
func (c *Config) SendTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Notifications.SendTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ScrapeIntervalDuration returns the parsed Prometheus scrape interval.
func (c *Config) ScrapeIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Prometheus.ScrapeInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetDatabaseURL returns PostgreSQL connection string
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.MaxConnections,
	)
}
