package collect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastFetch(opts ...Option) *BrowserFetch {
	base := []Option{
		WithInterval(0, 0, 0),
		WithTimeout(2 * time.Second),
		WithPolicy(Backoff(10*time.Millisecond, 3)),
	}
	return New(append(base, opts...)...)
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	body, err := fastFetch().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>ok</body></html>", string(body))
}

func TestGetDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "café" in latin-1
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer srv.Close()

	body, err := fastFetch().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "café", string(body))
}

func TestGetRetries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		wantKind Kind
		wantHits int32
	}{
		{"5xx then ok", []int{500, 503, 200}, false, 0, 3},
		{"not found", []int{404}, true, Permanent, 1},
		{"forbidden", []int{403}, true, Permanent, 1},
		{"attempts exhausted", []int{500, 500, 500, 500}, true, Transient, 3},
		{"rate limited exhausted", []int{429, 429, 429, 429}, true, RateLimited, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&hits, 1)
				status := tt.statuses[int(n)-1]
				w.WriteHeader(status)
				_, _ = w.Write([]byte("body"))
			}))
			defer srv.Close()

			body, err := fastFetch().Get(context.Background(), srv.URL)
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "body", string(body))
				return
			}
			require.Error(t, err)
			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.wantKind, fe.Kind)
			assert.Equal(t, int(tt.wantHits), fe.Attempts)
			assert.True(t, IsKind(err, tt.wantKind))
		})
	}
}

func TestGetHonorsRetryAfter(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := fastFetch().Get(context.Background(), srv.URL)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), time.Second)
}

func TestGetRetryAfterHoldsQueuedRequests(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := fastFetch(WithInterval(100*time.Millisecond, 0, 100*time.Millisecond))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Get(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 5)
	for i, at := range times[1:] {
		assert.GreaterOrEqual(t, at.Sub(times[0]), time.Second, "request %d", i+2)
	}
}

func TestGetSpacesRequestsToHost(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
	}))
	defer srv.Close()

	f := New(WithInterval(50*time.Millisecond, 0.2, 40*time.Millisecond))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Get(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		// slots are reserved 40ms+ apart; allow scheduling slack
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 30*time.Millisecond)
	}
}

func TestGetConcurrencyCeiling(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	f := fastFetch(WithMaxConcurrency(2))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Get(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestGetCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := fastFetch(WithPolicy(func(Kind, int, time.Duration) (time.Duration, bool) {
		cancel()
		return time.Hour, true
	}))
	_, err := f.Get(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsKind(err, Permanent))
}

func TestGetBadURL(t *testing.T) {
	_, err := fastFetch().Get(context.Background(), "not a url")
	assert.True(t, IsKind(err, Permanent))
}

func TestBackoff(t *testing.T) {
	p := Backoff(time.Second, 3)
	tests := []struct {
		name       string
		kind       Kind
		attempt    int
		retryAfter time.Duration
		wantDelay  time.Duration
		wantRetry  bool
	}{
		{"transient first", Transient, 0, 0, time.Second, true},
		{"transient second", Transient, 1, 0, 2 * time.Second, true},
		{"transient last", Transient, 2, 0, 0, false},
		{"rate limited hint", RateLimited, 0, 7 * time.Second, 7 * time.Second, true},
		{"rate limited no hint", RateLimited, 0, 0, 2 * time.Second, true},
		{"permanent", Permanent, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, retry := p(tt.kind, tt.attempt, tt.retryAfter)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantDelay, d)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.in, now), tt.in)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "rate_limited", RateLimited.String())
	assert.Equal(t, "permanent", Permanent.String())
}
