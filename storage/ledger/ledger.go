// Package ledger records which devices have completed a specification fetch.
// It is the only source of the "needs update" decision.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dreamerjackson/devcat/storage"
	"go.uber.org/zap"
)

const FileName = "device_updates.json"

type Entry struct {
	LastUpdated time.Time `json:"last_updated"`
	Brand       string    `json:"brand"`
}

type document struct {
	LastFullUpdate *time.Time       `json:"last_full_update"`
	Devices        map[string]Entry `json:"devices"`
}

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

// Ledger is held in memory; changes reach disk only on Flush.
type Ledger struct {
	mu   sync.RWMutex
	path string
	doc  document
	options
}

// Open loads the ledger at path. A missing or unreadable ledger starts empty:
// every cataloged device then counts as needing an update.
func Open(path string, opts ...Option) (*Ledger, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	l := &Ledger{
		path:    path,
		doc:     document{Devices: make(map[string]Entry)},
		options: options,
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		l.logger.Warn("ledger is corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return l, nil
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]Entry)
	}
	l.doc = doc
	return l, nil
}

// OpenDir opens the ledger file inside dir.
func OpenDir(dir string, opts ...Option) (*Ledger, error) {
	return Open(filepath.Join(dir, FileName), opts...)
}

func (l *Ledger) Has(url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.doc.Devices[url]
	return ok
}

func (l *Ledger) Get(url string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.doc.Devices[url]
	return e, ok
}

func (l *Ledger) Mark(url, brand string, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.Devices[url] = Entry{LastUpdated: t, Brand: brand}
}

func (l *Ledger) Forget(urls ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range urls {
		delete(l.doc.Devices, u)
	}
}

func (l *Ledger) SetLastFullUpdate(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.LastFullUpdate = &t
}

// LastFullUpdate is nil until a run has completed.
func (l *Ledger) LastFullUpdate() *time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.doc.LastFullUpdate == nil {
		return nil
	}
	t := *l.doc.LastFullUpdate
	return &t
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.doc.Devices)
}

// CountBrand returns how many recorded devices belong to brand.
func (l *Ledger) CountBrand(brand string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.doc.Devices {
		if e.Brand == brand {
			n++
		}
	}
	return n
}

// Flush writes the ledger atomically.
func (l *Ledger) Flush() error {
	l.mu.RLock()
	b, err := json.MarshalIndent(l.doc, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	return storage.ReplaceFile(l.path, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}
