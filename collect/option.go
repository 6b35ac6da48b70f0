package collect

import (
	"net/http"
	"time"

	"github.com/dreamerjackson/devcat/limiter"
	"github.com/dreamerjackson/devcat/proxy"
	"go.uber.org/zap"
)

type options struct {
	Interval       time.Duration // base gap between requests to one host
	Jitter         float64       // fraction of Interval
	MinInterval    time.Duration
	Timeout        time.Duration // per request
	MaxAttempts    int
	MaxConcurrency int
	Policy         Policy
	Limit          limiter.RateLimiter
	Proxy          proxy.Func
	Transport      http.RoundTripper
	UserAgent      string
	logger         *zap.Logger
}

var defaultOptions = options{
	logger:         zap.NewNop(),
	Interval:       2 * time.Second,
	Jitter:         0.2,
	MinInterval:    time.Second,
	Timeout:        10 * time.Second,
	MaxAttempts:    5,
	MaxConcurrency: 100,
}

type Option func(opts *options)

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithInterval(interval time.Duration, jitter float64, min time.Duration) Option {
	return func(opts *options) {
		opts.Interval = interval
		opts.Jitter = jitter
		opts.MinInterval = min
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.Timeout = timeout
	}
}

func WithMaxAttempts(n int) Option {
	return func(opts *options) {
		opts.MaxAttempts = n
	}
}

func WithMaxConcurrency(n int) Option {
	return func(opts *options) {
		opts.MaxConcurrency = n
	}
}

// WithPolicy replaces the default Backoff policy.
func WithPolicy(p Policy) Option {
	return func(opts *options) {
		opts.Policy = p
	}
}

// WithLimit adds a run-wide limiter on top of the per-host gate.
func WithLimit(l limiter.RateLimiter) Option {
	return func(opts *options) {
		opts.Limit = l
	}
}

func WithProxy(p proxy.Func) Option {
	return func(opts *options) {
		opts.Proxy = p
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(opts *options) {
		opts.Transport = rt
	}
}

// WithUserAgent pins the User-Agent; by default one is picked at random per request.
func WithUserAgent(ua string) Option {
	return func(opts *options) {
		opts.UserAgent = ua
	}
}
