package engine

import (
	"time"

	"github.com/dreamerjackson/devcat/generator"
	"go.uber.org/zap"
)

type Option func(opts *options)

type options struct {
	WorkCount      int
	ProgressBuffer int
	Site           Site
	Store          Store
	Ledger         Ledger
	Mirror         Mirror
	Logger         *zap.Logger
	now            func() time.Time
	newID          func() string
}

var defaultOptions = options{
	WorkCount:      16,
	ProgressBuffer: 256,
	Logger:         zap.NewNop(),
	now:            time.Now,
	newID:          generator.RunID,
}

func WithSite(site Site) Option {
	return func(opts *options) {
		opts.Site = site
	}
}

func WithStore(store Store) Option {
	return func(opts *options) {
		opts.Store = store
	}
}

func WithLedger(ledger Ledger) Option {
	return func(opts *options) {
		opts.Ledger = ledger
	}
}

// WithMirror adds a secondary sink that receives every persisted device.
// Its failures are logged, never fatal.
func WithMirror(mirror Mirror) Option {
	return func(opts *options) {
		opts.Mirror = mirror
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.Logger = logger
	}
}

func WithWorkCount(workCount int) Option {
	return func(opts *options) {
		opts.WorkCount = workCount
	}
}

func WithProgressBuffer(n int) Option {
	return func(opts *options) {
		opts.ProgressBuffer = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

func WithIDGen(newID func() string) Option {
	return func(opts *options) {
		opts.newID = newID
	}
}
