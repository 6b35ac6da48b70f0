package gsmarena

import (
	"context"
	"fmt"
	"strings"

	parser "github.com/dreamerjackson/devcat/parse/gsmarena"
	"github.com/dreamerjackson/devcat/spider"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://www.gsmarena.com/"

type options struct {
	logger *zap.Logger
}

var defaultOptions = options{
	logger: zap.NewNop(),
}

type Option func(opts *options)

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// Site runs the fetch and parse workflows against one catalog site.
type Site struct {
	fetcher spider.Fetcher
	base    string
	options
}

func New(fetcher spider.Fetcher, base string, opts ...Option) *Site {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Site{fetcher: fetcher, base: base, options: options}
}

func (s *Site) BaseURL() string {
	return s.base
}

// Brands fetches and parses the brand index.
func (s *Site) Brands(ctx context.Context) ([]spider.Brand, error) {
	u := s.base + parser.BrandIndexPath
	s.logger.Info("fetching brand index", zap.String("url", u))

	body, err := s.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch brand index: %w", err)
	}
	return parser.ParseBrands(body, s.base)
}

// ListDevices walks every listing page of a brand and returns the stubs in
// page order. A page URL seen twice ends the walk.
func (s *Site) ListDevices(ctx context.Context, brandURL string) ([]spider.DeviceStub, error) {
	var (
		devices []spider.DeviceStub
		visited = make(map[string]bool)
		page    = 0
	)
	for next := brandURL; next != "" && !visited[next]; {
		visited[next] = true
		page++

		body, err := s.fetcher.Get(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("list %s page %d: %w", brandURL, page, err)
		}
		stubs, nextURL, err := parser.ParseDeviceList(body, next)
		if err != nil {
			return nil, fmt.Errorf("parse %s page %d: %w", brandURL, page, err)
		}
		s.logger.Debug("listing page parsed",
			zap.String("url", next),
			zap.Int("page", page),
			zap.Int("devices", len(stubs)),
		)
		devices = append(devices, stubs...)
		next = nextURL
	}

	s.logger.Info("brand listed",
		zap.String("url", brandURL),
		zap.Int("pages", page),
		zap.Int("devices", len(devices)),
	)
	return devices, nil
}

// FetchSpecs fetches and parses a device page, then adds the gallery
// pictures. A gallery failure only costs the extra pictures.
func (s *Site) FetchSpecs(ctx context.Context, deviceURL string) (spider.DeviceSpecification, error) {
	body, err := s.fetcher.Get(ctx, deviceURL)
	if err != nil {
		return spider.DeviceSpecification{}, fmt.Errorf("fetch device %s: %w", deviceURL, err)
	}
	page, err := parser.ParseSpecs(body, deviceURL)
	if err != nil {
		return spider.DeviceSpecification{}, err
	}

	spec := page.Device
	if page.GalleryURL == "" {
		return spec, nil
	}

	gallery, err := s.fetcher.Get(ctx, page.GalleryURL)
	if err == nil {
		var pics []string
		if pics, err = parser.ParseGallery(gallery, page.GalleryURL); err == nil {
			spec.Pictures = parser.MergePictures(spec.Pictures, pics...)
			return spec, nil
		}
	}
	if ctx.Err() != nil {
		return spider.DeviceSpecification{}, ctx.Err()
	}
	s.logger.Warn("gallery unavailable, keeping primary picture",
		zap.String("url", page.GalleryURL),
		zap.Error(err),
	)
	return spec, nil
}
