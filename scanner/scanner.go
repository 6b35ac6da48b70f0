// Package scanner serves the brand list, from a TTL cache when it is fresh
// and from the site otherwise.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dreamerjackson/devcat/spider"
	"github.com/dreamerjackson/devcat/storage"
	"go.uber.org/zap"
)

const (
	CacheFile  = "brands_cache.json"
	DefaultTTL = 24 * time.Hour
)

type Site interface {
	Brands(ctx context.Context) ([]spider.Brand, error)
}

type options struct {
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

var defaultOptions = options{
	logger: zap.NewNop(),
	ttl:    DefaultTTL,
	now:    time.Now,
}

type Option func(opts *options)

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(opts *options) {
		opts.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

type cache struct {
	Timestamp  time.Time      `json:"timestamp"`
	Brands     []spider.Brand `json:"brands"`
	BrandCount int            `json:"brand_count"`
}

type CacheStatus struct {
	LastUpdated     *time.Time `json:"last_updated"`
	BrandCount      int        `json:"brand_count"`
	TimeSinceUpdate string     `json:"time_since_update"`
	IsExpired       bool       `json:"is_expired"`
}

type Result struct {
	Brands    []spider.Brand
	FromCache bool
	Status    CacheStatus
}

type Scanner struct {
	mu   sync.Mutex
	site Site
	path string
	options
}

func New(site Site, cachePath string, opts ...Option) *Scanner {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Scanner{site: site, path: cachePath, options: options}
}

// Scan returns the cached brands while the cache is younger than the TTL,
// without touching the network, and refreshes it otherwise.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.load(); ok && !s.expired(c) {
		st := s.status(c, true)
		s.logger.Info("brands loaded from cache",
			zap.Int("brands", c.BrandCount),
			zap.String("age", st.TimeSinceUpdate),
		)
		return Result{Brands: c.Brands, FromCache: true, Status: st}, nil
	}
	return s.refresh(ctx)
}

// Refresh fetches the brand index regardless of the cache. A failed fetch
// leaves the existing cache untouched.
func (s *Scanner) Refresh(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Scanner) refresh(ctx context.Context) (Result, error) {
	brands, err := s.site.Brands(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan brands: %w", err)
	}

	c := cache{Timestamp: s.now(), Brands: brands, BrandCount: len(brands)}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode brand cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Result{}, fmt.Errorf("create cache dir: %w", err)
	}
	err = storage.ReplaceFile(s.path, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("brands scanned", zap.Int("brands", len(brands)))
	return Result{Brands: brands, Status: s.status(c, true)}, nil
}

// CacheStatus describes the cache without any network call.
func (s *Scanner) CacheStatus() CacheStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.load()
	return s.status(c, ok)
}

func (s *Scanner) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove brand cache: %w", err)
	}
	return nil
}

func (s *Scanner) load() (cache, bool) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read brand cache failed", zap.String("path", s.path), zap.Error(err))
		}
		return cache{}, false
	}
	var c cache
	if err := json.Unmarshal(b, &c); err != nil {
		s.logger.Warn("brand cache is corrupt", zap.String("path", s.path), zap.Error(err))
		return cache{}, false
	}
	return c, true
}

func (s *Scanner) expired(c cache) bool {
	return s.now().Sub(c.Timestamp) >= s.ttl
}

func (s *Scanner) status(c cache, ok bool) CacheStatus {
	if !ok {
		return CacheStatus{IsExpired: true, TimeSinceUpdate: "never"}
	}
	ts := c.Timestamp
	return CacheStatus{
		LastUpdated:     &ts,
		BrandCount:      c.BrandCount,
		TimeSinceUpdate: Since(s.now().Sub(ts)),
		IsExpired:       s.expired(c),
	}
}

// Since renders an age the way the cache status reports it.
func Since(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
