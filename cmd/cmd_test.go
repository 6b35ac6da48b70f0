package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dreamerjackson/devcat/config"
	"github.com/dreamerjackson/devcat/engine"
	"github.com/dreamerjackson/devcat/limiter"
	"github.com/dreamerjackson/devcat/scanner"
	"github.com/dreamerjackson/devcat/spider"
	"github.com/dreamerjackson/devcat/storage/csvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSelectBrands(t *testing.T) {
	all := []spider.Brand{
		{Name: "Acme", URL: "https://www.example.com/acme-phones-1.php", DeviceCount: 2},
		{Name: "Bolt", URL: "https://www.example.com/bolt-phones-2.php", DeviceCount: 5},
	}
	tests := []struct {
		name    string
		wants   []string
		every   bool
		want    []string
		wantErr string
	}{
		{name: "all", every: true, want: []string{"Acme", "Bolt"}},
		{name: "by name", wants: []string{"bolt"}, want: []string{"Bolt"}},
		{name: "by url", wants: []string{"https://www.example.com/acme-phones-1.php"}, want: []string{"Acme"}},
		{name: "order and dedupe", wants: []string{"Bolt", "Acme", "BOLT"}, want: []string{"Bolt", "Acme"}},
		{name: "unknown", wants: []string{"Acme", "Zed"}, wantErr: "unknown brands: Zed"},
		{name: "none", wantErr: "no brands selected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectBrands(all, tt.wants, tt.every)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, b := range got {
				names = append(names, b.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(config.FetcherConfig{}))

	l := newLimiter(config.FetcherConfig{BucketRate: 2})
	require.NotNil(t, l)
	assert.IsType(t, &limiter.Bucket{}, l)

	l = newLimiter(config.FetcherConfig{
		Limits:     []limiter.LimitConfig{{EventCount: 1, EventDur: 1, Bucket: 1}},
		BucketRate: 10,
	})
	require.NotNil(t, l)
	assert.IsType(t, &limiter.MultiLimiter{}, l)
	assert.InDelta(t, 1.0, float64(l.Limit()), 1e-9)
}

func TestNewCronAcceptsDescriptors(t *testing.T) {
	c := newCron(zap.NewNop())
	for _, spec := range []string{"@daily", "@every 1h", "0 3 * * *"} {
		_, err := c.AddFunc(spec, func() {})
		assert.NoError(t, err, spec)
	}
	_, err := c.AddFunc("every day", func() {})
	assert.Error(t, err)
}

type fakeTracker struct{ last *time.Time }

func (f fakeTracker) CountBrand(brand string) int {
	if brand == "Acme" {
		return 2
	}
	return 0
}

func (f fakeTracker) Len() int                   { return 2 }
func (f fakeTracker) LastFullUpdate() *time.Time { return f.last }

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	renderBrands(&buf, []spider.Brand{{Name: "Acme", URL: "u1", DeviceCount: 2}, {Name: "Bolt", URL: "u2", DeviceCount: 3}})
	out := buf.String()
	assert.Contains(t, out, "Acme")
	assert.Contains(t, out, "Bolt")
	assert.Contains(t, out, "5")

	buf.Reset()
	renderCacheStatus(&buf, scanner.Result{FromCache: true, Status: scanner.CacheStatus{BrandCount: 2, TimeSinceUpdate: "just now"}})
	assert.Equal(t, "brands from cache; cache holds 2 brands, updated just now (fresh)\n", buf.String())

	buf.Reset()
	renderCompleted(&buf, engine.Status{})
	assert.Empty(t, buf.String())
	renderCompleted(&buf, engine.Status{
		NewDevices:      2,
		CompletedBrands: []engine.CompletedBrand{{Name: "Acme", Devices: 2, Expected: 3}},
	})
	assert.Contains(t, buf.String(), "Acme")
	assert.Contains(t, buf.String(), "2 / 0 / 0")

	buf.Reset()
	renderCatalog(&buf, []csvstore.BrandCount{{Brand: "Acme", Devices: 2}}, fakeTracker{})
	assert.Contains(t, buf.String(), "Acme")
	assert.Contains(t, buf.String(), "last full update: never")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	buf.Reset()
	renderCatalog(&buf, nil, fakeTracker{last: &ts})
	assert.Contains(t, buf.String(), "last full update: 2024-05-01T10:00:00Z")
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Version:")
}

// site serves a one-brand catalog and counts hits per path.
type site struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	switch r.URL.Path {
	case "/makers.php3":
		fmt.Fprint(w, `<div class="st-text"><a href="acme-phones-1.php">Acme<span>2 devices</span></a></div>`)
	case "/acme-phones-1.php":
		fmt.Fprint(w, `<div class="makers"><ul>
			<li><a href="acme_x1-100.php"><img src="/x1.jpg"><strong><span>Acme X1</span></strong></a></li>
			<li><a href="acme_x2-101.php"><img src="/x2.jpg"><strong><span>Acme X2</span></strong></a></li>
		</ul></div>`)
	case "/acme_x1-100.php", "/acme_x2-101.php":
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".php")
		fmt.Fprintf(w, `<h1 class="specs-phone-name-title">%s</h1>
			<div class="specs-photo-main"><img src="/%s.jpg"></div>
			<table><tr><th>Display</th><td class="ttl">Size</td><td class="nfo">6.1 inches</td></tr></table>`, name, name)
	default:
		http.NotFound(w, r)
	}
}

func TestCrawlAndCatalogCmd(t *testing.T) {
	for _, k := range []string{config.EnvConfig, config.EnvLogLevel, config.EnvDataDir, config.EnvBaseURL, config.EnvSQLURL, config.EnvProxy} {
		t.Setenv(k, "")
	}

	s := &site{hits: make(map[string]int)}
	srv := httptest.NewServer(s)
	defer srv.Close()

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
logLevel = "error"
dataDir = %q
baseURL = %q

[fetcher]
interval = 0
jitter = 0.0
minInterval = 0
timeout = 2000
maxRetries = 1

[crawl]
workers = 2
`, dataDir, srv.URL+"/")), 0o644))

	run := func(args ...string) string {
		var buf bytes.Buffer
		root := newRootCmd()
		root.SetOut(&buf)
		root.SetArgs(append(args, "--config", cfgPath))
		require.NoError(t, root.ExecuteContext(context.Background()))
		return buf.String()
	}

	out := run("crawl", "--all")
	assert.Contains(t, out, "Added 2 new devices and updated 0 devices")
	assert.Equal(t, 1, s.count("/acme_x1-100.php"))

	store, err := csvstore.New(dataDir)
	require.NoError(t, err)
	n, err := store.CheckBrand("acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// second run: brands from cache, nothing to fetch
	out = run("crawl", "--brand", "Acme")
	assert.Contains(t, out, "Added 0 new devices and updated 0 devices")
	assert.Equal(t, 1, s.count("/makers.php3"))
	assert.Equal(t, 1, s.count("/acme_x1-100.php"))

	out = run("catalog")
	assert.Contains(t, out, "Acme")
	assert.NotContains(t, out, "last full update: never")

	out = run("brands")
	assert.Contains(t, out, "brands from cache")

	out = run("brands", "--clear-cache")
	assert.Contains(t, out, "brand cache cleared")
	_, err = os.Stat(filepath.Join(dataDir, scanner.CacheFile))
	assert.True(t, os.IsNotExist(err))
}
