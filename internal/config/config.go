// Package config loads pipeline configuration from an optional YAML file
// with environment variable overrides. Both binaries call Load after
// godotenv has populated the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Broker     BrokerConfig     `yaml:"broker"`
	Auth       AuthConfig       `yaml:"auth"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Response   ResponseConfig   `yaml:"response"`
	Reports    ReportConfig     `yaml:"reports"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type BrokerConfig struct {
	URL              string `yaml:"url"`
	ResultBackendURL string `yaml:"result_backend_url"`
}

type AuthConfig struct {
	WebhookKey string `yaml:"webhook_key"`
	AdminKey   string `yaml:"admin_key"`
}

type EnrichmentConfig struct {
	RDAPBaseURL       string `yaml:"rdap_base_url"`
	ThreatFeedDomains string `yaml:"threatfeed_domains_path"`
	ThreatFeedIPs     string `yaml:"threatfeed_ips_path"`
}

type ResponseConfig struct {
	BlocklistPath string `yaml:"blocklist_path"`
}

type ReportConfig struct {
	Dir         string `yaml:"dir"`
	GeneratePDF bool   `yaml:"generate_pdf"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads the YAML file named by SOAR_CONFIG (if set), then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("SOAR_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	override(&cfg.Server.Port, "HTTP_PORT", "8080")
	override(&cfg.Database.URL, "DATABASE_URL", "")
	override(&cfg.Broker.URL, "BROKER_URL", "redis://localhost:6379/0")
	override(&cfg.Broker.ResultBackendURL, "RESULT_BACKEND_URL", cfg.Broker.URL)
	override(&cfg.Auth.WebhookKey, "WEBHOOK_API_KEY", "dev-webhook-key")
	override(&cfg.Auth.AdminKey, "ADMIN_API_KEY", "dev-admin-key")
	override(&cfg.Enrichment.RDAPBaseURL, "RDAP_BASE_URL", "https://rdap.org")
	override(&cfg.Enrichment.ThreatFeedDomains, "THREATFEED_DOMAINS_PATH", "/data/threatfeeds/sample_bad_domains.txt")
	override(&cfg.Enrichment.ThreatFeedIPs, "THREATFEED_IPS_PATH", "/data/threatfeeds/sample_bad_ips.txt")
	override(&cfg.Response.BlocklistPath, "BLOCKLIST_PATH", "/data/blocklist.json")
	override(&cfg.Reports.Dir, "REPORT_DIR", "/data/reports")
	override(&cfg.Metrics.PushgatewayURL, "PUSHGATEWAY_URL", "")

	if v := os.Getenv("REPORT_PDF"); v != "" {
		cfg.Reports.GeneratePDF, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return cfg, nil
}

func override(dst *string, env, def string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
		return
	}
	if *dst == "" {
		*dst = def
	}
}
