package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/jitkb/internal/model"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Tenants     []model.Tenant   `json:"tenants"`
	KB          KBConfig         `json:"kb"`
	FileStore   FileStoreConfig  `json:"file_store"`
	Stream      StreamConfig     `json:"stream"`
	Schedule    ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// KBConfig selects the knowledge-base provider. Data is passed through to
// the provider factory untouched.
type KBConfig struct {
	Provider string                 `json:"provider"`
	Data     map[string]interface{} `json:"data"`
}

type FileStoreConfig struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type StreamConfig struct {
	BufferSize   int `json:"buffer_size"`
	MaxAttempts  int `json:"max_attempts"`
	RetryDelayMS int `json:"retry_delay_ms"`
}

type ScheduleConfig struct {
	TTLSweepSpec        string `json:"ttl_sweep_spec"`
	IngestTimeoutSpec   string `json:"ingest_timeout_spec"`
	DeadLetterRetrySpec string `json:"dead_letter_retry_spec"`
	SweepBatchSize      int    `json:"sweep_batch_size"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" {
		return nil, fmt.Errorf("database host/db_name are required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if len(cfg.Tenants) == 0 {
		return nil, fmt.Errorf("at least one tenant is required")
	}
	seen := make(map[string]struct{}, len(cfg.Tenants))
	for i := range cfg.Tenants {
		t := &cfg.Tenants[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tenant id is required")
		}
		if _, ok := seen[t.ID]; ok {
			return nil, fmt.Errorf("duplicate tenant id: %s", t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.FilesTTLHours <= 0 {
			return nil, fmt.Errorf("tenant %s: files_ttl_hours must be positive", t.ID)
		}
		if t.MaxIngestRetries <= 0 {
			t.MaxIngestRetries = 3
		}
		if t.IngestTimeoutMins <= 0 {
			t.IngestTimeoutMins = 30
		}
	}
	if cfg.KB.Provider == "" {
		return nil, fmt.Errorf("kb.provider is required")
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Stream.BufferSize <= 0 {
		cfg.Stream.BufferSize = 1024
	}
	if cfg.Stream.MaxAttempts <= 0 {
		cfg.Stream.MaxAttempts = 5
	}
	if cfg.Stream.RetryDelayMS <= 0 {
		cfg.Stream.RetryDelayMS = 500
	}
	if cfg.Schedule.TTLSweepSpec == "" {
		cfg.Schedule.TTLSweepSpec = "* * * * *"
	}
	if cfg.Schedule.IngestTimeoutSpec == "" {
		cfg.Schedule.IngestTimeoutSpec = "*/5 * * * *"
	}
	if cfg.Schedule.DeadLetterRetrySpec == "" {
		cfg.Schedule.DeadLetterRetrySpec = "*/10 * * * *"
	}
	if cfg.Schedule.SweepBatchSize <= 0 {
		cfg.Schedule.SweepBatchSize = 200
	}
	return &cfg, nil
}

// FindTenant looks a tenant up by id. Missing tenants are a configuration
// error surfaced immediately, never retried.
func (c *Config) FindTenant(tenantID string) (*model.Tenant, bool) {
	for i := range c.Tenants {
		if c.Tenants[i].ID == tenantID {
			return &c.Tenants[i], true
		}
	}
	return nil, false
}
