package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"techtrims/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

// QueueConfig holds the domain-level timing rules of the queue engine.
type QueueConfig struct {
	GracePeriod        time.Duration `yaml:"grace_period"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	WalkInHold         time.Duration `yaml:"walkin_hold"`
	PreBookHold        time.Duration `yaml:"prebook_hold"`
	PreBookEarlyWindow time.Duration `yaml:"prebook_early_window"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
	DefaultDuration    int           `yaml:"default_duration"`
	StaleRetries       int           `yaml:"stale_retries"`
	JobPollInterval    time.Duration `yaml:"job_poll_interval"`
}

type APIConfig struct {
	Enabled      bool               `yaml:"enabled"`
	HTTP         APIHTTPConfig      `yaml:"http"`
	GRPC         APIGRPCConfig      `yaml:"grpc"`
	Auth         APIAuthConfig      `yaml:"auth"`
	RateLimit    APIRateLimitConfig `yaml:"rate_limit"`
	CheckInLimit CheckInLimitConfig `yaml:"checkin_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CheckInLimitConfig throttles check-in attempts per salon and client.
type CheckInLimitConfig struct {
	Attempts int           `yaml:"attempts"`
	Window   time.Duration `yaml:"window"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional in every environment
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Queue.GracePeriod < 0 {
		return errors.New("queue.grace_period must not be negative")
	}
	if c.Queue.PreBookEarlyWindow < 0 {
		return errors.New("queue.prebook_early_window must not be negative")
	}
	if c.Queue.SweepInterval < time.Second {
		return fmt.Errorf("queue.sweep_interval %s is below 1s", c.Queue.SweepInterval)
	}
	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup.storage_path is required when backups are enabled")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "techtrims-queue"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.CheckInLimit.Attempts == 0 {
		c.API.CheckInLimit.Attempts = models.CheckInLimitAttempts
	}
	if c.API.CheckInLimit.Window == 0 {
		c.API.CheckInLimit.Window = models.CheckInLimitWindow
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}

	// Queue defaults
	if c.Queue.GracePeriod == 0 {
		c.Queue.GracePeriod = models.DefaultGracePeriod
	}
	if c.Queue.SweepInterval == 0 {
		c.Queue.SweepInterval = models.DefaultSweepInterval
	}
	if c.Queue.WalkInHold == 0 {
		c.Queue.WalkInHold = models.DefaultWalkInHold
	}
	if c.Queue.PreBookHold == 0 {
		c.Queue.PreBookHold = models.DefaultPreBookHold
	}
	if c.Queue.PreBookEarlyWindow == 0 {
		c.Queue.PreBookEarlyWindow = models.DefaultPreBookEarlyWindow
	}
	if c.Queue.StoreTimeout == 0 {
		c.Queue.StoreTimeout = models.DefaultStoreTimeout
	}
	if c.Queue.LockTTL == 0 {
		c.Queue.LockTTL = models.DefaultLockTTL
	}
	if c.Queue.DefaultDuration == 0 {
		c.Queue.DefaultDuration = models.DefaultServiceMinutes
	}
	if c.Queue.StaleRetries == 0 {
		c.Queue.StaleRetries = models.DefaultStaleRetries
	}
	if c.Queue.JobPollInterval == 0 {
		c.Queue.JobPollInterval = models.DefaultJobPollInterval
	}
}
