// Package config loads devcat settings from config.toml, an optional .env
// file and DEVCAT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dreamerjackson/devcat/limiter"
	"github.com/go-micro/plugins/v4/config/encoder/toml"
	"github.com/joho/godotenv"
	"go-micro.dev/v4/config"
	"go-micro.dev/v4/config/reader"
	"go-micro.dev/v4/config/reader/json"
	"go-micro.dev/v4/config/source"
	"go-micro.dev/v4/config/source/file"
)

const (
	DefaultPath = "config.toml"
	EnvFile     = ".env"
)

// Environment overrides.
const (
	EnvConfig   = "DEVCAT_CONFIG"
	EnvLogLevel = "DEVCAT_LOG_LEVEL"
	EnvDataDir  = "DEVCAT_DATA_DIR"
	EnvBaseURL  = "DEVCAT_BASE_URL"
	EnvSQLURL   = "DEVCAT_SQL_URL"
	EnvProxy    = "DEVCAT_PROXY"
)

type Config struct {
	LogLevel  string         `json:"logLevel"`
	LogFormat string         `json:"logFormat"` // json or console
	LogOutput string         `json:"logOutput"` // stderr or stdout
	LogFile   string         `json:"logFile"`
	DataDir   string         `json:"dataDir"`
	BaseURL   string         `json:"baseURL"`
	Fetcher   FetcherConfig  `json:"fetcher"`
	Crawl     CrawlConfig    `json:"crawl"`
	Cache     CacheConfig    `json:"cache"`
	Storage   StorageConfig  `json:"storage"`
	Schedule  ScheduleConfig `json:"schedule"`
}

// FetcherConfig durations are in milliseconds.
type FetcherConfig struct {
	Interval       int                   `json:"interval"`
	Jitter         float64               `json:"jitter"`
	MinInterval    int                   `json:"minInterval"`
	Timeout        int                   `json:"timeout"`
	MaxRetries     int                   `json:"maxRetries"`
	MaxConcurrency int                   `json:"maxConcurrency"`
	UserAgent      string                `json:"userAgent"`
	Proxy          []string              `json:"proxy"`
	Limits         []limiter.LimitConfig `json:"limits"`
	BucketRate     float64               `json:"bucketRate"`
	BucketCapacity int64                 `json:"bucketCapacity"`
}

func (f FetcherConfig) IntervalDuration() time.Duration {
	return time.Duration(f.Interval) * time.Millisecond
}

func (f FetcherConfig) MinIntervalDuration() time.Duration {
	return time.Duration(f.MinInterval) * time.Millisecond
}

func (f FetcherConfig) TimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Millisecond
}

type CrawlConfig struct {
	Workers        int `json:"workers"`
	ProgressBuffer int `json:"progressBuffer"`
}

type CacheConfig struct {
	TTL string `json:"ttl"`
}

// TTLDuration is only valid after Validate.
func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// StorageConfig enables the MySQL mirror when SQLURL is set.
type StorageConfig struct {
	SQLURL     string `json:"sqlURL"`
	BatchCount int    `json:"batchCount"`
}

type ScheduleConfig struct {
	Cron   string   `json:"cron"`
	Brands []string `json:"brands"`
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		LogOutput: "stderr",
		DataDir:   "data",
		BaseURL:   "https://www.gsmarena.com/",
		Fetcher: FetcherConfig{
			Interval:       2000,
			Jitter:         0.2,
			MinInterval:    1000,
			Timeout:        10000,
			MaxRetries:     5,
			MaxConcurrency: 100,
		},
		Crawl: CrawlConfig{
			Workers:        16,
			ProgressBuffer: 256,
		},
		Cache:    CacheConfig{TTL: "24h"},
		Storage:  StorageConfig{BatchCount: 100},
		Schedule: ScheduleConfig{Cron: "@daily"},
	}
}

// Load reads path, falling back to $DEVCAT_CONFIG and then config.toml. A
// missing default file is not an error; a missing explicit one is.
func Load(path string) (Config, error) {
	return load(path, EnvFile)
}

func load(path, envFile string) (Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath
		explicit = false
	}

	c := Default()
	if _, err := os.Stat(path); err == nil {
		if err := scanFile(path, &c); err != nil {
			return Config{}, err
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func scanFile(path string, c *Config) error {
	enc := toml.NewEncoder()
	cfg, err := config.NewConfig(config.WithReader(json.NewReader(reader.WithEncoder(enc))))
	if err != nil {
		return err
	}
	defer cfg.Close()

	err = cfg.Load(file.NewSource(
		file.WithPath(path),
		source.WithEncoder(enc),
	))
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := cfg.Scan(c); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvSQLURL); v != "" {
		c.Storage.SQLURL = v
	}
	if v := os.Getenv(EnvProxy); v != "" {
		var proxies []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
		c.Fetcher.Proxy = proxies
	}
}

func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("config: dataDir is empty")
	case c.BaseURL == "":
		return errors.New("config: baseURL is empty")
	case c.Fetcher.Interval < 0 || c.Fetcher.MinInterval < 0:
		return errors.New("config: fetcher intervals must not be negative")
	case c.Fetcher.Jitter < 0 || c.Fetcher.Jitter >= 1:
		return fmt.Errorf("config: fetcher.jitter %v out of [0,1)", c.Fetcher.Jitter)
	case c.Fetcher.Timeout <= 0:
		return errors.New("config: fetcher.timeout must be positive")
	case c.Fetcher.MaxRetries <= 0:
		return errors.New("config: fetcher.maxRetries must be positive")
	case c.Fetcher.MaxConcurrency <= 0:
		return errors.New("config: fetcher.maxConcurrency must be positive")
	case c.Crawl.Workers <= 0:
		return errors.New("config: crawl.workers must be positive")
	}
	if d, err := time.ParseDuration(c.Cache.TTL); err != nil || d <= 0 {
		return fmt.Errorf("config: cache.ttl %q is not a positive duration", c.Cache.TTL)
	}
	return nil
}
