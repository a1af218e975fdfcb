// Package config loads process configuration for cmd/jobrunner from an
// optional .env file, an optional config.yaml and JOBRUNNER_ prefixed
// environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	jobs "github.com/assaka/daino-jobs"
)

// EnvPrefix prefixes every environment variable: worker.concurrency is
// read from JOBRUNNER_WORKER_CONCURRENCY.
const EnvPrefix = "JOBRUNNER"

// Config is the process configuration.
type Config struct {
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Tenant struct {
		DSNTemplate string `mapstructure:"dsn_template"`
		MaxConns    int32  `mapstructure:"max_conns"`
	} `mapstructure:"tenant"`
	HTTP struct {
		Addr  string `mapstructure:"addr"`
		Token string `mapstructure:"token"`
	} `mapstructure:"http"`
	Platform struct {
		URL   string `mapstructure:"url"`
		Token string `mapstructure:"token"`
	} `mapstructure:"platform"`
	APIBaseURL string `mapstructure:"api_base_url"`
	Worker     struct {
		Concurrency             int           `mapstructure:"concurrency"`
		PollInterval            time.Duration `mapstructure:"poll_interval"`
		ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout"`
		AbortCheckInterval      time.Duration `mapstructure:"abort_check_interval"`
		ProgressPersistInterval time.Duration `mapstructure:"progress_persist_interval"`
		SubJobWaitTimeout       time.Duration `mapstructure:"sub_job_wait_timeout"`
	} `mapstructure:"worker"`
	Cron struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"cron"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Allowlist struct {
		Tables []string `mapstructure:"tables"`
	} `mapstructure:"allowlist"`
}

// Load reads configuration. configFile may be empty, in which case
// ./config.yaml is used when present.
func Load(configFile string) (*Config, error) {
	// A missing .env is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	// Lists from the environment arrive as one comma-separated string.
	cfg.Allowlist.Tables = splitList(strings.Join(cfg.Allowlist.Tables, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := jobs.DefaultConfig()
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("tenant.dsn_template", "")
	v.SetDefault("tenant.max_conns", 4)
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.token", "")
	v.SetDefault("platform.url", "")
	v.SetDefault("platform.token", "")
	v.SetDefault("api_base_url", "")
	v.SetDefault("worker.concurrency", d.Concurrency)
	v.SetDefault("worker.poll_interval", d.PollInterval)
	v.SetDefault("worker.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("worker.abort_check_interval", d.AbortCheckInterval)
	v.SetDefault("worker.progress_persist_interval", d.ProgressPersistInterval)
	v.SetDefault("worker.sub_job_wait_timeout", d.SubJobWaitTimeout)
	v.SetDefault("cron.tick_interval", d.CronTickInterval)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("allowlist.tables", []string{})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// Jobs returns the engine configuration.
func (c *Config) Jobs() jobs.Config {
	return jobs.Config{
		Concurrency:             c.Worker.Concurrency,
		PollInterval:            c.Worker.PollInterval,
		ShutdownTimeout:         c.Worker.ShutdownTimeout,
		AbortCheckInterval:      c.Worker.AbortCheckInterval,
		ProgressPersistInterval: c.Worker.ProgressPersistInterval,
		SubJobWaitTimeout:       c.Worker.SubJobWaitTimeout,
		CronTickInterval:        c.Cron.TickInterval,
	}
}

// Logger builds the process logger from the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
