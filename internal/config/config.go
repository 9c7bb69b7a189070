package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"chainscan/internal/models"
)

// Config holds runtime configuration for the API and the analysis engine.
type Config struct {
	Env      string
	HTTPPort string

	WorkerCount  int
	PollInterval time.Duration

	DelayCritical time.Duration
	DelayHigh     time.Duration
	DelayMedium   time.Duration
	DelayLow      time.Duration

	StageMin    time.Duration
	StageMax    time.Duration
	FailureRate float64
	Seed        int64

	MaxRetainedJobs   int
	RateLimitCapacity int
	RateLimitRefill   float64
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sane defaults for
// local development. If CHAINSCAN_CONFIG names a YAML file, its values
// overlay the environment.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		WorkerCount:       getEnvInt("WORKER_COUNT", 3),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 50*time.Millisecond),
		DelayCritical:     getEnvDuration("DELAY_CRITICAL", 100*time.Millisecond),
		DelayHigh:         getEnvDuration("DELAY_HIGH", 500*time.Millisecond),
		DelayMedium:       getEnvDuration("DELAY_MEDIUM", time.Second),
		DelayLow:          getEnvDuration("DELAY_LOW", 2*time.Second),
		StageMin:          getEnvDuration("STAGE_MIN", 300*time.Millisecond),
		StageMax:          getEnvDuration("STAGE_MAX", 1500*time.Millisecond),
		FailureRate:       getEnvFloat("FAILURE_RATE", 0.05),
		Seed:              int64(getEnvInt("RAND_SEED", 0)),
		MaxRetainedJobs:   getEnvInt("MAX_RETAINED_JOBS", 1000),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
	if path := os.Getenv("CHAINSCAN_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AdmissionDelays maps each priority class to its configured delay.
func (c Config) AdmissionDelays() map[string]time.Duration {
	return map[string]time.Duration{
		models.PriorityCritical: c.DelayCritical,
		models.PriorityHigh:     c.DelayHigh,
		models.PriorityMedium:   c.DelayMedium,
		models.PriorityLow:      c.DelayLow,
	}
}

type fileConfig struct {
	Env               *string  `yaml:"env"`
	HTTPPort          *string  `yaml:"http_port"`
	WorkerCount       *int     `yaml:"worker_count"`
	PollInterval      *string  `yaml:"poll_interval"`
	DelayCritical     *string  `yaml:"delay_critical"`
	DelayHigh         *string  `yaml:"delay_high"`
	DelayMedium       *string  `yaml:"delay_medium"`
	DelayLow          *string  `yaml:"delay_low"`
	StageMin          *string  `yaml:"stage_min"`
	StageMax          *string  `yaml:"stage_max"`
	FailureRate       *float64 `yaml:"failure_rate"`
	Seed              *int64   `yaml:"rand_seed"`
	MaxRetainedJobs   *int     `yaml:"max_retained_jobs"`
	RateLimitCapacity *int     `yaml:"rate_limit_capacity"`
	RateLimitRefill   *float64 `yaml:"rate_limit_refill_per_sec"`
	ShutdownTimeout   *string  `yaml:"shutdown_timeout"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setString(&c.Env, fc.Env)
	setString(&c.HTTPPort, fc.HTTPPort)
	setInt(&c.WorkerCount, fc.WorkerCount)
	if fc.Seed != nil {
		c.Seed = *fc.Seed
	}
	if fc.FailureRate != nil {
		c.FailureRate = *fc.FailureRate
	}
	setInt(&c.MaxRetainedJobs, fc.MaxRetainedJobs)
	setInt(&c.RateLimitCapacity, fc.RateLimitCapacity)
	if fc.RateLimitRefill != nil {
		c.RateLimitRefill = *fc.RateLimitRefill
	}
	for _, d := range []struct {
		dst *time.Duration
		src *string
	}{
		{&c.PollInterval, fc.PollInterval},
		{&c.DelayCritical, fc.DelayCritical},
		{&c.DelayHigh, fc.DelayHigh},
		{&c.DelayMedium, fc.DelayMedium},
		{&c.DelayLow, fc.DelayLow},
		{&c.StageMin, fc.StageMin},
		{&c.StageMax, fc.StageMax},
		{&c.ShutdownTimeout, fc.ShutdownTimeout},
	} {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse config duration %q: %w", *d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c Config) validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be >= 1, got %d", c.WorkerCount)
	}
	if c.StageMax < c.StageMin {
		return fmt.Errorf("stage_max %s < stage_min %s", c.StageMax, c.StageMin)
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("failure_rate must be in [0,1], got %g", c.FailureRate)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
