package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Billing   BillingConfig   `mapstructure:"billing"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Ticket    TicketConfig    `mapstructure:"ticket"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_life"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BillingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

type OCRConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

type DetectorConfig struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ExitStrategy  string        `mapstructure:"exit_strategy"`
	HashThreshold int           `mapstructure:"hash_threshold"`
}

type CameraConfig struct {
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SnapshotPath    string        `mapstructure:"snapshot_path"`
	FrameTimeout    time.Duration `mapstructure:"frame_timeout"`
	FrameAttempts   int           `mapstructure:"frame_attempts"`
	FrameRetryDelay time.Duration `mapstructure:"frame_retry_delay"`
	ClipAttempts    int           `mapstructure:"clip_attempts"`
	ClipRetryDelay  time.Duration `mapstructure:"clip_retry_delay"`
	ClipBefore      time.Duration `mapstructure:"clip_before"`
	ClipAfter       time.Duration `mapstructure:"clip_after"`
	ClipsDir        string        `mapstructure:"clips_dir"`
}

type TicketConfig struct {
	ConfidenceThreshold int `mapstructure:"confidence_threshold"`
}

type SequencerConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type CacheConfig struct {
	LastSeenCapacity int `mapstructure:"last_seen_capacity"`
}

type StorageConfig struct {
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

const (
	ExitStrategyDetector   = "detector"
	ExitStrategySimilarity = "similarity"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 30)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_life", "30m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("billing.base_url", "https://dev.parkonic.com/api/street-parking/v2")
	v.SetDefault("billing.token", "")
	v.SetDefault("billing.timeout", "10s")
	v.SetDefault("billing.max_retries", 2)
	v.SetDefault("billing.backoff", "1s")
	v.SetDefault("ocr.url", "")
	v.SetDefault("ocr.token", "")
	v.SetDefault("ocr.timeout", "10s")
	v.SetDefault("ocr.max_retries", 2)
	v.SetDefault("ocr.backoff", "1s")
	v.SetDefault("detector.url", "")
	v.SetDefault("detector.timeout", "10s")
	v.SetDefault("detector.exit_strategy", "")
	v.SetDefault("detector.hash_threshold", 5)
	v.SetDefault("camera.user", "")
	v.SetDefault("camera.password", "")
	v.SetDefault("camera.snapshot_path", "/cgi-bin/snapshot.cgi")
	v.SetDefault("camera.frame_timeout", "10s")
	v.SetDefault("camera.frame_attempts", 2)
	v.SetDefault("camera.frame_retry_delay", "1s")
	v.SetDefault("camera.clip_attempts", 3)
	v.SetDefault("camera.clip_retry_delay", "5s")
	v.SetDefault("camera.clip_before", "15s")
	v.SetDefault("camera.clip_after", "5s")
	v.SetDefault("camera.clips_dir", "video_clips")
	v.SetDefault("ticket.confidence_threshold", 5)
	v.SetDefault("sequencer.workers", 16)
	v.SetDefault("sequencer.queue_depth", 32)
	v.SetDefault("sequencer.task_timeout", "2m30s")
	v.SetDefault("sequencer.write_timeout", "10s")
	v.SetDefault("cache.last_seen_capacity", 4096)
	v.SetDefault("storage.snapshot_dir", "snapshots")
}

// Load reads configuration from the optional file at path and from the
// environment. Environment keys use underscores for nesting, e.g.
// BILLING_TOKEN overrides billing.token.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Ticket.ConfidenceThreshold < 0 {
		return errors.New("ticket.confidence_threshold must not be negative")
	}
	if c.Sequencer.Workers <= 0 {
		return errors.New("sequencer.workers must be positive")
	}
	if c.Sequencer.QueueDepth <= 0 {
		return errors.New("sequencer.queue_depth must be positive")
	}
	switch c.Detector.ExitStrategy {
	case "", ExitStrategyDetector, ExitStrategySimilarity:
	default:
		return fmt.Errorf("detector.exit_strategy %q is not one of detector, similarity", c.Detector.ExitStrategy)
	}
	if c.Billing.MaxRetries < 0 || c.OCR.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.Billing.MaxRetries > 10 || c.OCR.MaxRetries > 10 {
		return errors.New("max_retries must not exceed 10")
	}
	if c.Sequencer.TaskTimeout > 0 {
		need := c.EntryBudget() + c.Sequencer.WriteTimeout
		if need > c.Sequencer.TaskTimeout {
			return fmt.Errorf("sequencer.task_timeout %s is shorter than a worst-case entry (%s); lower camera or upstream retries or raise it",
				c.Sequencer.TaskTimeout, need)
		}
	}
	return nil
}

// EntryBudget is the longest one entry can spend waiting on upstreams: two
// OCR reads, one fresh camera frame and one billing call, each with every
// retry exhausted.
func (c *Config) EntryBudget() time.Duration {
	ocr := retryBudget(c.OCR.Timeout, c.OCR.MaxRetries, c.OCR.Backoff)
	bill := retryBudget(c.Billing.Timeout, c.Billing.MaxRetries, c.Billing.Backoff)

	attempts := max(c.Camera.FrameAttempts, 1)
	frameTimeout := c.Camera.FrameTimeout
	if frameTimeout <= 0 {
		frameTimeout = 30 * time.Second
	}
	frame := time.Duration(attempts)*frameTimeout + time.Duration(attempts-1)*c.Camera.FrameRetryDelay

	return 2*ocr + frame + bill
}

// retryBudget mirrors upstream.Caller: retries+1 attempts with backoff
// doubling between them.
func retryBudget(timeout time.Duration, retries int, backoff time.Duration) time.Duration {
	return time.Duration(retries+1)*timeout + backoff*time.Duration(1<<retries-1)
}

// ResolvedExitStrategy picks the exit disambiguation strategy, preferring
// the HTTP detector whenever one is configured.
func (c *Config) ResolvedExitStrategy() string {
	if c.Detector.ExitStrategy != "" {
		return c.Detector.ExitStrategy
	}
	if c.Detector.URL != "" {
		return ExitStrategyDetector
	}
	return ExitStrategySimilarity
}
