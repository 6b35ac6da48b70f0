package collect

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dreamerjackson/devcat/limiter"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// BrowserFetch is the shared fetch layer of a run. All requests go through one
// connection pool and one semaphore, so in-flight requests never exceed
// MaxConcurrency however many devices are queued above it.
type BrowserFetch struct {
	client *http.Client
	sem    *semaphore.Weighted
	gate   *limiter.HostGate
	options
}

func New(opts ...Option) *BrowserFetch {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxAttempts < 1 {
		options.MaxAttempts = 1
	}
	if options.MaxConcurrency < 1 {
		options.MaxConcurrency = 1
	}
	if options.Policy == nil {
		options.Policy = Backoff(options.Interval, options.MaxAttempts)
	}

	transport := options.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = options.MaxConcurrency
		if options.Proxy != nil {
			t.Proxy = options.Proxy
		}
		transport = t
	}

	return &BrowserFetch{
		client:  &http.Client{Transport: transport},
		sem:     semaphore.NewWeighted(int64(options.MaxConcurrency)),
		gate:    limiter.NewHostGate(options.Interval, options.Jitter, options.MinInterval),
		options: options,
	}
}

// Get fetches rawURL and returns the body decoded to UTF-8. Failed attempts
// are retried as the Policy decides; the terminal error is a *FetchError.
func (b *BrowserFetch) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		if err == nil {
			err = errors.New("missing host")
		}
		return nil, &FetchError{URL: rawURL, Kind: Permanent, Err: err}
	}

	for attempt := 0; ; attempt++ {
		body, aerr := b.attempt(ctx, rawURL, u.Host)
		if aerr == nil {
			return body, nil
		}

		delay, retry := b.Policy(aerr.kind, attempt, aerr.retryAfter)
		if !retry {
			b.logger.Error("fetch failed",
				zap.String("url", rawURL),
				zap.Stringer("kind", aerr.kind),
				zap.Int("attempts", attempt+1),
				zap.Error(aerr.err),
			)
			return nil, &FetchError{URL: rawURL, Kind: aerr.kind, Status: aerr.status, Attempts: attempt + 1, Err: aerr.err}
		}

		if aerr.kind == RateLimited {
			b.gate.Defer(u.Host, delay)
		}
		b.logger.Warn("fetch failed, retrying",
			zap.String("url", rawURL),
			zap.Stringer("kind", aerr.kind),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(aerr.err),
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, &FetchError{URL: rawURL, Kind: Permanent, Attempts: attempt + 1, Err: err}
		}
	}
}

func (b *BrowserFetch) attempt(ctx context.Context, rawURL, host string) ([]byte, *attemptError) {
	// the slot is released before any backoff sleep in Get
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, &attemptError{kind: Permanent, err: err}
	}
	defer b.sem.Release(1)

	if err := b.gate.Wait(ctx, host); err != nil {
		return nil, &attemptError{kind: Permanent, err: err}
	}
	if b.Limit != nil {
		if err := b.Limit.Wait(ctx); err != nil {
			return nil, &attemptError{kind: Permanent, err: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &attemptError{kind: Permanent, err: err}
	}
	ua := b.UserAgent
	if ua == "" {
		ua = randomUA()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := b.client.Do(req)
	b.gate.Touch(host)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	defer resp.Body.Close()

	if aerr := classifyStatus(resp, time.Now()); aerr != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, aerr
	}

	body, err := readUTF8(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, classifyErr(ctx, err)
	}

	return body, nil
}

func readUTF8(r io.Reader, contentType string) ([]byte, error) {
	bodyReader := bufio.NewReader(r)
	e := DeterminEncoding(bodyReader, contentType)
	utf8Reader := transform.NewReader(bodyReader, e.NewDecoder())

	return io.ReadAll(utf8Reader)
}

// DeterminEncoding sniffs the first KB of the body, falling back to the
// Content-Type header and then UTF-8.
func DeterminEncoding(r *bufio.Reader, contentType string) encoding.Encoding {
	bytes, err := r.Peek(1024)
	if err != nil && len(bytes) == 0 && !errors.Is(err, io.EOF) {
		zap.L().Error("peek body failed", zap.Error(err))
	}

	e, _, _ := charset.DetermineEncoding(bytes, contentType)

	return e
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
