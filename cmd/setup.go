package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dreamerjackson/devcat/collect"
	"github.com/dreamerjackson/devcat/config"
	"github.com/dreamerjackson/devcat/engine"
	"github.com/dreamerjackson/devcat/limiter"
	"github.com/dreamerjackson/devcat/log"
	"github.com/dreamerjackson/devcat/proxy"
	"github.com/dreamerjackson/devcat/scanner"
	"github.com/dreamerjackson/devcat/storage/csvstore"
	"github.com/dreamerjackson/devcat/storage/ledger"
	"github.com/dreamerjackson/devcat/storage/sqlstorage"
	"github.com/dreamerjackson/devcat/tasklib/gsmarena"
	"go.uber.org/zap"
)

// app holds the wired components of one process.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	site    *gsmarena.Site
	scanner *scanner.Scanner
	store   *csvstore.Store
	ledger  *ledger.Ledger
	mirror  *sqlstorage.SQLStorage
	crawler *engine.Crawler
	closers []io.Closer
}

func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := log.New(log.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("devcat ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("mirror", a.mirror != nil))
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	fetcher, err := newFetcher(cfg.Fetcher, logger.Named("fetch"))
	if err != nil {
		return err
	}
	a.site = gsmarena.New(fetcher, cfg.BaseURL, gsmarena.WithLogger(logger.Named("site")))
	a.scanner = scanner.New(a.site,
		filepath.Join(cfg.DataDir, scanner.CacheFile),
		scanner.WithLogger(logger.Named("scanner")),
		scanner.WithTTL(cfg.Cache.TTLDuration()),
	)

	if a.store, err = csvstore.New(cfg.DataDir, csvstore.WithLogger(logger.Named("catalog"))); err != nil {
		return err
	}
	if a.ledger, err = ledger.OpenDir(cfg.DataDir, ledger.WithLogger(logger.Named("ledger"))); err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithSite(a.site),
		engine.WithStore(a.store),
		engine.WithLedger(a.ledger),
		engine.WithLogger(logger.Named("engine")),
		engine.WithWorkCount(cfg.Crawl.Workers),
		engine.WithProgressBuffer(cfg.Crawl.ProgressBuffer),
	}
	if cfg.Storage.SQLURL != "" {
		if a.mirror, err = sqlstorage.New(
			sqlstorage.WithSQLURL(cfg.Storage.SQLURL),
			sqlstorage.WithLogger(logger.Named("mirror")),
			sqlstorage.WithBatchCount(cfg.Storage.BatchCount),
		); err != nil {
			return fmt.Errorf("create sql mirror: %w", err)
		}
		a.closers = append(a.closers, a.mirror)
		opts = append(opts, engine.WithMirror(a.mirror))
	}
	a.crawler = engine.New(opts...)
	return nil
}

func newFetcher(f config.FetcherConfig, logger *zap.Logger) (*collect.BrowserFetch, error) {
	opts := []collect.Option{
		collect.WithLogger(logger),
		collect.WithInterval(f.IntervalDuration(), f.Jitter, f.MinIntervalDuration()),
		collect.WithTimeout(f.TimeoutDuration()),
		collect.WithMaxAttempts(f.MaxRetries),
		collect.WithMaxConcurrency(f.MaxConcurrency),
	}
	if f.UserAgent != "" {
		opts = append(opts, collect.WithUserAgent(f.UserAgent))
	}
	if len(f.Proxy) > 0 {
		p, err := proxy.RoundRobinProxySwitcher(f.Proxy...)
		if err != nil {
			return nil, err
		}
		logger.Info("using proxies", zap.Strings("proxy", f.Proxy))
		opts = append(opts, collect.WithProxy(p))
	}
	if l := newLimiter(f); l != nil {
		opts = append(opts, collect.WithLimit(l))
	}
	return collect.New(opts...), nil
}

// newLimiter combines the configured rate limits and token bucket, or
// returns nil when neither is set.
func newLimiter(f config.FetcherConfig) limiter.RateLimiter {
	var limits []limiter.RateLimiter
	if l := limiter.FromConfig(f.Limits); l != nil {
		limits = append(limits, l)
	}
	if f.BucketRate > 0 {
		capacity := f.BucketCapacity
		if capacity <= 0 {
			capacity = 1
		}
		limits = append(limits, limiter.NewBucket(f.BucketRate, capacity))
	}
	switch len(limits) {
	case 0:
		return nil
	case 1:
		return limits[0]
	}
	return limiter.Multi(limits...)
}

func (a *app) Close() {
	_ = a.logger.Sync()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}
