package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brandvault/dam-backend/internal/platform/envutil"
)

// Config carries worker/pipeline tuning. Values come from an optional YAML
// file (DAM_CONFIG_FILE) with env overrides on top, so deployments can tune
// without a rebuild.
type Config struct {
	Worker    WorkerConfig    `yaml:"worker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Incidents IncidentsConfig `yaml:"incidents"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	StaleRunning time.Duration `yaml:"stale_running"`
}

type PipelineConfig struct {
	StageMaxAttempts int           `yaml:"stage_max_attempts"`
	StageMinBackoff  time.Duration `yaml:"stage_min_backoff"`
	StageMaxBackoff  time.Duration `yaml:"stage_max_backoff"`
	StageTimeout     time.Duration `yaml:"stage_timeout"`
	ThumbnailMaxDim  int           `yaml:"thumbnail_max_dim"`
	PreviewMaxDim    int           `yaml:"preview_max_dim"`
}

type UploadsConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepParallel int           `yaml:"sweep_parallel"`
}

type IncidentsConfig struct {
	EscalationThreshold int           `yaml:"escalation_threshold"`
	OpenWindow          time.Duration `yaml:"open_window"`
}

func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Concurrency:  4,
			MaxAttempts:  5,
			RetryDelay:   30 * time.Second,
			StaleRunning: 30 * time.Minute,
		},
		Pipeline: PipelineConfig{
			StageMaxAttempts: 3,
			StageMinBackoff:  1 * time.Second,
			StageMaxBackoff:  30 * time.Second,
			StageTimeout:     5 * time.Minute,
			ThumbnailMaxDim:  320,
			PreviewMaxDim:    1280,
		},
		Uploads: UploadsConfig{
			SessionTTL:    24 * time.Hour,
			SweepInterval: 5 * time.Minute,
			SweepParallel: 8,
		},
		Incidents: IncidentsConfig{
			EscalationThreshold: 3,
			OpenWindow:          24 * time.Hour,
		},
	}
}

// Load reads the YAML file if present, then applies env overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := envutil.String("DAM_CONFIG_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.MaxAttempts = envutil.Int("WORKER_MAX_ATTEMPTS", cfg.Worker.MaxAttempts)
	cfg.Worker.RetryDelay = envutil.Duration("WORKER_RETRY_DELAY", cfg.Worker.RetryDelay)
	cfg.Worker.StaleRunning = envutil.Duration("WORKER_STALE_RUNNING", cfg.Worker.StaleRunning)
	cfg.Pipeline.StageMaxAttempts = envutil.Int("PIPELINE_STAGE_MAX_ATTEMPTS", cfg.Pipeline.StageMaxAttempts)
	cfg.Pipeline.StageTimeout = envutil.Duration("PIPELINE_STAGE_TIMEOUT", cfg.Pipeline.StageTimeout)
	cfg.Uploads.SessionTTL = envutil.Duration("UPLOAD_SESSION_TTL", cfg.Uploads.SessionTTL)
	cfg.Uploads.SweepInterval = envutil.Duration("UPLOAD_SWEEP_INTERVAL", cfg.Uploads.SweepInterval)
	cfg.Incidents.EscalationThreshold = envutil.Int("INCIDENT_ESCALATION_THRESHOLD", cfg.Incidents.EscalationThreshold)
	cfg.Incidents.OpenWindow = envutil.Duration("INCIDENT_OPEN_WINDOW", cfg.Incidents.OpenWindow)
	return cfg, nil
}
