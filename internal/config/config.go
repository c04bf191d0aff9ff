package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Graph        GraphConfig        `yaml:"graph"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Forwarding   ForwardingConfig   `yaml:"forwarding"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Storage      StorageConfig      `yaml:"storage"`
	Reprocess    ReprocessConfig    `yaml:"reprocess"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the dedup cache Redis settings. Redis is optional;
// an empty URL falls back to the in-process dedup cache.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GraphConfig holds mail provider API credentials and endpoints
type GraphConfig struct {
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	BaseURL        string `yaml:"base_url"`
	TokenURL       string `yaml:"token_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c GraphConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds the public-facing webhook settings
type WebhookConfig struct {
	// PublicURL is the externally reachable notification URL registered
	// with the provider when creating subscriptions.
	PublicURL   string `yaml:"public_url"`
	ClientState string `yaml:"client_state"`
}

// SubscriptionConfig holds subscription lifecycle settings
type SubscriptionConfig struct {
	DefaultTTLHours      int `yaml:"default_ttl_hours"`
	RenewalLeadMinutes   int `yaml:"renewal_lead_minutes"`
	SchedulerPollSeconds int `yaml:"scheduler_poll_seconds"`
	SweepIntervalHours   int `yaml:"sweep_interval_hours"`
	SweepThresholdHours  int `yaml:"sweep_threshold_hours"`
}

// DefaultTTL returns the default subscription lifetime as a duration
func (c SubscriptionConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLHours) * time.Hour
}

// RenewalLead returns how far before expiry a renewal is attempted
func (c SubscriptionConfig) RenewalLead() time.Duration {
	return time.Duration(c.RenewalLeadMinutes) * time.Minute
}

// SchedulerPoll returns the renewal loop poll interval
func (c SubscriptionConfig) SchedulerPoll() time.Duration {
	return time.Duration(c.SchedulerPollSeconds) * time.Second
}

// SweepInterval returns the safety sweep interval
func (c SubscriptionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// SweepThreshold returns the expiry window the sweep renews within
func (c SubscriptionConfig) SweepThreshold() time.Duration {
	return time.Duration(c.SweepThresholdHours) * time.Hour
}

// ForwardingConfig holds downstream forwarding settings
type ForwardingConfig struct {
	// AutomationURL is the fixed endpoint for the "automation" target.
	AutomationURL  string `yaml:"automation_url"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

// Timeout returns the forward timeout. Forwards get a long timeout to
// accommodate slow downstream processing; a miss is a per-item failure.
func (c ForwardingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// DedupConfig holds duplicate-notification cache settings
type DedupConfig struct {
	TTLMinutes           int `yaml:"ttl_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// TTL returns how long a forwarded message is remembered
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SweepInterval returns the in-memory cache sweep interval
func (c DedupConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// StorageConfig holds attachment relocation (S3) settings
type StorageConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	// PublicBaseURL is prepended to object keys to build download URLs.
	PublicBaseURL string `yaml:"public_base_url"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// ReprocessConfig holds failed-notification reprocessing settings
type ReprocessConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	BatchSize       int  `yaml:"batch_size"`
}

// Interval returns the reprocess worker poll interval
func (c ReprocessConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Graph.BaseURL == "" {
		cfg.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.Graph.TokenURL == "" && cfg.Graph.TenantID != "" {
		cfg.Graph.TokenURL = fmt.Sprintf(
			"https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Graph.TenantID)
	}
	if cfg.Graph.TimeoutSeconds == 0 {
		cfg.Graph.TimeoutSeconds = 30
	}
	if cfg.Subscription.DefaultTTLHours == 0 {
		cfg.Subscription.DefaultTTLHours = 48
	}
	if cfg.Subscription.RenewalLeadMinutes == 0 {
		cfg.Subscription.RenewalLeadMinutes = 30
	}
	if cfg.Subscription.SchedulerPollSeconds == 0 {
		cfg.Subscription.SchedulerPollSeconds = 30
	}
	if cfg.Subscription.SweepIntervalHours == 0 {
		cfg.Subscription.SweepIntervalHours = 6
	}
	if cfg.Subscription.SweepThresholdHours == 0 {
		cfg.Subscription.SweepThresholdHours = 24
	}
	if cfg.Forwarding.TimeoutMinutes == 0 {
		cfg.Forwarding.TimeoutMinutes = 5
	}
	if cfg.Dedup.TTLMinutes == 0 {
		cfg.Dedup.TTLMinutes = 10
	}
	if cfg.Dedup.SweepIntervalMinutes == 0 {
		cfg.Dedup.SweepIntervalMinutes = 10
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Reprocess.IntervalMinutes == 0 {
		cfg.Reprocess.IntervalMinutes = 15
	}
	if cfg.Reprocess.BatchSize == 0 {
		cfg.Reprocess.BatchSize = 100
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		cfg.Graph.TenantID = v
		if os.Getenv("GRAPH_TOKEN_URL") == "" {
			cfg.Graph.TokenURL = fmt.Sprintf(
				"https://login.microsoftonline.com/%s/oauth2/v2.0/token", v)
		}
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		cfg.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		cfg.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_BASE_URL"); v != "" {
		cfg.Graph.BaseURL = v
	}
	if v := os.Getenv("GRAPH_TOKEN_URL"); v != "" {
		cfg.Graph.TokenURL = v
	}
	if v := os.Getenv("WEBHOOK_PUBLIC_URL"); v != "" {
		cfg.Webhook.PublicURL = v
	}
	if v := os.Getenv("WEBHOOK_CLIENT_STATE"); v != "" {
		cfg.Webhook.ClientState = v
	}
	if v := os.Getenv("AUTOMATION_URL"); v != "" {
		cfg.Forwarding.AutomationURL = v
	}
	if v := os.Getenv("ATTACHMENT_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("ATTACHMENT_S3_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("ATTACHMENT_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("ATTACHMENT_S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("ATTACHMENT_PUBLIC_BASE_URL"); v != "" {
		cfg.Storage.PublicBaseURL = v
	}
	if v := os.Getenv("SUBSCRIPTION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Subscription.DefaultTTLHours = n
		}
	}

	return cfg, nil
}
