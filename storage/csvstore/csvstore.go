// Package csvstore persists the device catalog as two CSV tables: the brand
// directory and the device specifications, both keyed by device URL.
package csvstore

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dreamerjackson/devcat/spider"
	"github.com/dreamerjackson/devcat/storage"
	"go.uber.org/zap"
)

const (
	DirectoryFile     = "brands_devices.csv"
	SpecificationFile = "device_specifications.csv"
)

var (
	directoryHeader     = []string{"brand_name", "device_name", "device_url", "device_image_url"}
	specificationHeader = []string{"device_url", "display_name", "pictures", "specifications"}
)

type options struct {
	logger   *zap.Logger
	replacer storage.Replacer
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

// WithBeforeRename runs fn after a replacement file is synced and before it
// is renamed over the original. A non-nil error aborts the replacement.
func WithBeforeRename(fn func() error) Option {
	return func(opts *options) {
		opts.replacer.BeforeRename = fn
	}
}

// DeviceRecord is one brand directory row.
type DeviceRecord struct {
	Brand    string
	Name     string
	URL      string
	ImageURL string
}

type BrandCount struct {
	Brand   string
	Devices int
}

// Store is the catalog. All access goes through one mutex: the store has a
// single writer and readers never see a half-written row.
type Store struct {
	mu                sync.Mutex
	directoryPath     string
	specificationPath string
	options
}

// New opens the catalog under dir, creating it and the table headers when
// missing.
func New(dir string, opts ...Option) (*Store, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		directoryPath:     filepath.Join(dir, DirectoryFile),
		specificationPath: filepath.Join(dir, SpecificationFile),
		options:           options,
	}
	if err := s.ensureHeaders(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureHeaders() error {
	for _, t := range []struct {
		path   string
		header []string
	}{
		{s.directoryPath, directoryHeader},
		{s.specificationPath, specificationHeader},
	} {
		dropped, err := trimTornTail(t.path)
		if err != nil {
			return err
		}
		if dropped > 0 {
			s.logger.Warn("dropped torn trailing row",
				zap.String("file", t.path), zap.Int64("bytes", dropped))
		}
		if err := ensureHeader(t.path, t.header); err != nil {
			return err
		}
	}
	return nil
}

// trimTornTail cuts an unterminated last line left by an interrupted append.
// Every complete row ends in a newline, so anything after the final newline
// is a partial record.
func trimTornTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return 0, nil
			}
			return size - keep, truncate(f, path, keep)
		}
		end = start
	}
	// no newline at all, not even the header survived
	return size, truncate(f, path, 0)
}

func truncate(f *os.File, path string, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

func ensureHeader(path string, header []string) error {
	fi, err := os.Stat(path)
	if err == nil && fi.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return storage.ReplaceFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

// AppendDevice records a device seen for the first time: a directory row,
// then its specification row.
func (s *Store) AppendDevice(brand string, stub spider.DeviceStub, spec spider.DeviceSpecification) error {
	row, err := specificationRow(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureHeaders(); err != nil {
		return err
	}
	if err := appendRow(s.directoryPath, []string{brand, stub.Name, stub.URL, stub.ImageURL}); err != nil {
		return err
	}
	return appendRow(s.specificationPath, row)
}

// ReplaceSpecification rewrites the specification row of spec.DeviceURL in
// place, appending it when absent. The table is replaced atomically.
func (s *Store) ReplaceSpecification(spec spider.DeviceSpecification) error {
	row, err := specificationRow(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureHeaders(); err != nil {
		return err
	}
	return s.replacer.Replace(s.specificationPath, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		replaced := false
		err := eachRow(s.specificationPath, func(rec []string, header bool) error {
			if !header && len(rec) > 0 && rec[0] == spec.DeviceURL {
				if replaced {
					return nil
				}
				replaced = true
				return cw.Write(row)
			}
			return cw.Write(rec)
		})
		if err != nil {
			return err
		}
		if !replaced {
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// PurgeBrands removes every device of the named brands from both tables and
// returns the purged device URLs. The directory is filtered first; its URLs
// then select the specification rows to drop.
func (s *Store) PurgeBrands(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureHeaders(); err != nil {
		return nil, err
	}

	var urls []string
	purged := make(map[string]bool)
	err := s.replacer.Replace(s.directoryPath, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		err := eachRow(s.directoryPath, func(rec []string, header bool) error {
			if !header && len(rec) >= 3 && drop[rec[0]] {
				if !purged[rec[2]] {
					purged[rec[2]] = true
					urls = append(urls, rec[2])
				}
				return nil
			}
			return cw.Write(rec)
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return nil, err
	}

	err = s.replacer.Replace(s.specificationPath, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		err := eachRow(s.specificationPath, func(rec []string, header bool) error {
			if !header && len(rec) > 0 && purged[rec[0]] {
				return nil
			}
			return cw.Write(rec)
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("brands purged", zap.Strings("brands", names), zap.Int("devices", len(urls)))
	return urls, nil
}

// Directory maps every cataloged device URL to its brand.
func (s *Store) Directory() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := make(map[string]string)
	err := eachRow(s.directoryPath, func(rec []string, header bool) error {
		if !header && len(rec) >= 3 {
			if _, ok := dir[rec[2]]; !ok {
				dir[rec[2]] = rec[0]
			}
		}
		return nil
	})
	return dir, err
}

func (s *Store) Devices() ([]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices []DeviceRecord
	err := eachRow(s.directoryPath, func(rec []string, header bool) error {
		if header || len(rec) < 4 {
			return nil
		}
		devices = append(devices, DeviceRecord{Brand: rec[0], Name: rec[1], URL: rec[2], ImageURL: rec[3]})
		return nil
	})
	return devices, err
}

// Specification returns the stored specification of url.
func (s *Store) Specification(url string) (spider.DeviceSpecification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		spec  spider.DeviceSpecification
		found bool
	)
	errFound := errors.New("found")
	err := eachRow(s.specificationPath, func(rec []string, header bool) error {
		if header || len(rec) < 4 || rec[0] != url {
			return nil
		}
		spec.DeviceURL = rec[0]
		spec.DisplayName = rec[1]
		if err := json.Unmarshal([]byte(rec[2]), &spec.Pictures); err != nil {
			return fmt.Errorf("decode pictures of %s: %w", url, err)
		}
		if err := json.Unmarshal([]byte(rec[3]), &spec.Specifications); err != nil {
			return fmt.Errorf("decode specifications of %s: %w", url, err)
		}
		found = true
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		return spider.DeviceSpecification{}, false, err
	}
	return spec, found, nil
}

// BrandSummary counts cataloged devices per brand, sorted by brand name.
func (s *Store) BrandSummary() ([]BrandCount, error) {
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, d := range devices {
		counts[d.Brand]++
	}
	summary := make([]BrandCount, 0, len(counts))
	for b, n := range counts {
		summary = append(summary, BrandCount{Brand: b, Devices: n})
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Brand < summary[j].Brand
	})
	return summary, nil
}

// CheckBrand reports how many devices of brand (case-insensitive) are cataloged.
func (s *Store) CheckBrand(name string) (int, error) {
	devices, err := s.Devices()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range devices {
		if strings.EqualFold(d.Brand, strings.TrimSpace(name)) {
			n++
		}
	}
	return n, nil
}

func specificationRow(spec spider.DeviceSpecification) ([]string, error) {
	pics := spec.Pictures
	if pics == nil {
		pics = []string{}
	}
	p, err := json.Marshal(pics)
	if err != nil {
		return nil, fmt.Errorf("encode pictures of %s: %w", spec.DeviceURL, err)
	}
	sp, err := json.Marshal(spec.Specifications)
	if err != nil {
		return nil, fmt.Errorf("encode specifications of %s: %w", spec.DeviceURL, err)
	}
	return []string{spec.DeviceURL, spec.DisplayName, string(p), string(sp)}, nil
}

func appendRow(path string, rec []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(rec); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// eachRow streams the records of path. A missing file has no rows.
func eachRow(path string, fn func(rec []string, header bool) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for i := 0; ; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(rec, i == 0); err != nil {
			return err
		}
	}
}
