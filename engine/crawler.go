package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamerjackson/devcat/spider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrBusy is returned by Start while another session is running.
var ErrBusy = errors.New("a crawl session is already running")

type Site interface {
	ListDevices(ctx context.Context, brandURL string) ([]spider.DeviceStub, error)
	FetchSpecs(ctx context.Context, deviceURL string) (spider.DeviceSpecification, error)
}

type Store interface {
	Directory() (map[string]string, error)
	AppendDevice(brand string, stub spider.DeviceStub, spec spider.DeviceSpecification) error
	ReplaceSpecification(spec spider.DeviceSpecification) error
	PurgeBrands(names []string) ([]string, error)
}

type Ledger interface {
	Seen
	Mark(url, brand string, t time.Time)
	Forget(urls ...string)
	SetLastFullUpdate(t time.Time)
	Flush() error
}

type Mirror interface {
	SaveDevice(brand string, stub spider.DeviceStub, spec spider.DeviceSpecification) error
	PurgeBrands(brands []string, urls []string) error
	Flush() error
}

// Crawler runs at most one Session at a time.
type Crawler struct {
	mu     sync.Mutex
	active *Session
	options
}

func New(opts ...Option) *Crawler {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.WorkCount < 1 {
		options.WorkCount = 1
	}

	return &Crawler{options: options}
}

// Active returns the running session, or nil.
func (c *Crawler) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start begins an incremental update of brands in the background.
// deleteExisting names brands (by name or URL) whose catalog rows are purged
// first, so they are scraped again from scratch.
func (c *Crawler) Start(ctx context.Context, brands []spider.Brand, deleteExisting []string) (*Session, error) {
	if c.Site == nil || c.Store == nil || c.Ledger == nil {
		return nil, errors.New("crawler needs a site, a store and a ledger")
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	s := &Session{
		ID:      c.newID(),
		crawler: c,
		gate:    newPauseGate(),
		feed:    newFeed(c.ProgressBuffer),
		done:    make(chan struct{}),
	}
	s.logger = c.Logger.With(zap.String("run_id", s.ID))
	s.status = Status{RunID: s.ID, State: Idle}
	c.active = s
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		err := s.run(ctx, brands, deleteExisting)
		s.finish(err)

		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		close(s.done)
	}()

	return s, nil
}

// Session is one run. Its status is owned by the run goroutine and
// published as snapshots.
type Session struct {
	ID      string
	crawler *Crawler
	gate    *pauseGate
	feed    *feed
	logger  *zap.Logger

	mu     sync.Mutex
	status Status

	done chan struct{}
	err  error
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// Pause sets or clears the pause flag. Devices already being fetched finish;
// nothing new starts until the flag is cleared.
func (s *Session) Pause(paused bool) {
	if !s.gate.set(paused) {
		return
	}
	s.update(func(st *Status) {
		if st.State != Running && st.State != Paused {
			return
		}
		st.Paused = paused
		if paused {
			st.State = Paused
			st.Message = "Paused"
		} else {
			st.State = Running
			st.Message = "Resumed"
		}
	})
	s.logger.Info("pause toggled", zap.Bool("paused", paused))
}

// Progress returns the latest snapshot.
func (s *Session) Progress() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Updates streams snapshots until the session ends. Slow readers lose the
// oldest snapshots, never the latest.
func (s *Session) Updates() <-chan Status {
	return s.feed.ch
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its first unrecoverable error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

func (s *Session) update(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.feed.publish(s.status.clone())
}

func (s *Session) finish(err error) {
	c := s.crawler
	if err != nil {
		if ferr := c.Ledger.Flush(); ferr != nil {
			s.logger.Error("flush ledger failed", zap.Error(ferr))
		}
		if c.Mirror != nil {
			if ferr := c.Mirror.Flush(); ferr != nil {
				s.logger.Warn("flush mirror failed", zap.Error(ferr))
			}
		}
		s.logger.Error("crawl failed", zap.Error(err))
	}

	s.err = err
	s.update(func(st *Status) {
		st.Paused = false
		if err != nil {
			st.State = Failed
			st.Message = "Error: " + err.Error()
			return
		}
		st.State = Completed
		st.Progress = 100
		st.Message = fmt.Sprintf("Incremental update completed! Added %d new devices and updated %d devices.",
			st.NewDevices, st.UpdatedDevices)
	})
	s.feed.close()
}

func (s *Session) run(ctx context.Context, brands []spider.Brand, deleteExisting []string) error {
	c := s.crawler

	expected := 0
	for _, b := range brands {
		expected += b.DeviceCount
	}
	s.update(func(st *Status) {
		st.State = Running
		if s.gate.isPaused() {
			st.State = Paused
			st.Paused = true
		}
		st.Message = "Starting incremental update..."
		st.TotalBrands = len(brands)
		st.TotalDevices = expected
	})
	s.logger.Info("crawl started", zap.Int("brands", len(brands)), zap.Int("expected_devices", expected))

	if len(deleteExisting) > 0 {
		if err := s.purge(brands, deleteExisting); err != nil {
			return err
		}
	}

	for i, b := range brands {
		if err := s.gate.wait(ctx); err != nil {
			return err
		}
		if err := s.processBrand(ctx, i, b); err != nil {
			return err
		}
	}

	c.Ledger.SetLastFullUpdate(c.now())
	if err := c.Ledger.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if c.Mirror != nil {
		if err := c.Mirror.Flush(); err != nil {
			s.logger.Warn("flush mirror failed", zap.Error(err))
		}
	}

	s.logger.Info("crawl completed")
	return nil
}

func (s *Session) purge(brands []spider.Brand, deleteExisting []string) error {
	c := s.crawler

	var names []string
	for _, d := range deleteExisting {
		name := d
		for _, b := range brands {
			if b.Match(d) {
				name = b.Name
				break
			}
		}
		names = append(names, name)
	}

	urls, err := c.Store.PurgeBrands(names)
	if err != nil {
		return fmt.Errorf("purge brands: %w", err)
	}
	c.Ledger.Forget(urls...)
	if c.Mirror != nil {
		if err := c.Mirror.PurgeBrands(names, urls); err != nil {
			s.logger.Warn("purge mirror failed", zap.Error(err))
		}
	}

	s.update(func(st *Status) {
		st.Message = fmt.Sprintf("Deleted %d existing devices", len(urls))
	})
	s.logger.Info("existing brands purged", zap.Strings("brands", names), zap.Int("devices", len(urls)))
	return nil
}

type job struct {
	stub  spider.DeviceStub
	isNew bool
}

type result struct {
	job
	spec spider.DeviceSpecification
	err  error
}

func (s *Session) processBrand(ctx context.Context, idx int, b spider.Brand) error {
	c := s.crawler
	logger := s.logger.With(zap.String("brand", b.Name))

	s.update(func(st *Status) {
		st.Message = fmt.Sprintf("Processing brand: %s (incremental update)", b.Name)
		st.CurrentBrand = b.Name
		st.CurrentBrandDevices = b.DeviceCount
		st.CurrentBrandProgress = 0
	})

	stubs, err := c.Site.ListDevices(ctx, b.URL)
	if err != nil {
		return fmt.Errorf("list devices of %s: %w", b.Name, err)
	}
	directory, err := c.Store.Directory()
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	newStubs, needsUpdate := Classify(stubs, directory, c.Ledger)

	logger.Info("brand classified",
		zap.Int("listed", len(stubs)),
		zap.Int("new", len(newStubs)),
		zap.Int("needs_update", len(needsUpdate)),
	)
	s.update(func(st *Status) {
		st.Message = fmt.Sprintf("Found %d new devices and %d devices needing updates for %s",
			len(newStubs), len(needsUpdate), b.Name)
		st.CurrentBrandDevices = len(stubs)
	})

	jobs := make([]job, 0, len(newStubs)+len(needsUpdate))
	for _, stub := range newStubs {
		jobs = append(jobs, job{stub: stub, isNew: true})
	}
	for _, stub := range needsUpdate {
		jobs = append(jobs, job{stub: stub})
	}
	if err := s.fetchAll(ctx, idx, b, jobs); err != nil {
		return err
	}

	if err := c.Ledger.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}

	s.update(func(st *Status) {
		st.CompletedBrands = append(st.CompletedBrands, CompletedBrand{
			Name:     b.Name,
			Devices:  len(stubs),
			Expected: b.DeviceCount,
		})
		st.BrandsProcessed = idx + 1
		st.CurrentBrandProgress = 100
		st.Progress = percent(idx+1, st.TotalBrands)
	})
	return nil
}

// fetchAll fans the device fetches out to WorkCount workers and persists the
// results on the calling goroutine, so the store has a single writer.
func (s *Session) fetchAll(ctx context.Context, idx int, b spider.Brand, jobs []job) error {
	if len(jobs) == 0 {
		return nil
	}
	c := s.crawler

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	workerCh := make(chan job)
	out := make(chan result)

	g.Go(func() error {
		defer close(workerCh)
		for _, j := range jobs {
			if err := s.gate.wait(gctx); err != nil {
				return err
			}
			select {
			case workerCh <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < c.WorkCount && i < len(jobs); i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range workerCh {
				spec, err := c.Site.FetchSpecs(gctx, j.stub.URL)
				select {
				case out <- result{job: j, spec: spec, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var persistErr error
	done := 0
	for r := range out {
		if persistErr != nil {
			continue
		}
		done++
		if err := s.handleResult(ctx, idx, b, r, done, len(jobs)); err != nil {
			persistErr = err
			cancel()
		}
	}
	gerr := g.Wait()

	if persistErr != nil {
		return persistErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return gerr
}

func (s *Session) handleResult(ctx context.Context, idx int, b spider.Brand, r result, done, total int) error {
	c := s.crawler

	if r.err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("device skipped",
			zap.String("brand", b.Name),
			zap.String("url", r.stub.URL),
			zap.Error(r.err),
		)
		s.update(func(st *Status) {
			st.FailedDevices++
			st.DevicesProcessed++
			s.brandProgress(st, idx, done, total)
		})
		return nil
	}

	spec := r.spec
	if spec.DeviceURL == "" {
		spec.DeviceURL = r.stub.URL
	}

	var err error
	if r.isNew {
		err = c.Store.AppendDevice(b.Name, r.stub, spec)
	} else {
		err = c.Store.ReplaceSpecification(spec)
	}
	if err != nil {
		return fmt.Errorf("persist %s: %w", r.stub.URL, err)
	}
	c.Ledger.Mark(r.stub.URL, b.Name, c.now())

	if c.Mirror != nil {
		if err := c.Mirror.SaveDevice(b.Name, r.stub, spec); err != nil {
			s.logger.Warn("mirror device failed", zap.String("url", r.stub.URL), zap.Error(err))
		}
	}

	s.update(func(st *Status) {
		kind := "updated"
		if r.isNew {
			kind = "new"
			st.NewDevices++
		} else {
			st.UpdatedDevices++
		}
		st.DevicesProcessed++
		st.Message = fmt.Sprintf("Processing %s device: %s (%d/%d)", kind, r.stub.Name, done, total)
		s.brandProgress(st, idx, done, total)
	})
	return nil
}

func (s *Session) brandProgress(st *Status, idx, done, total int) {
	st.CurrentBrandProgress = percent(done, total)
	if st.TotalBrands > 0 {
		st.Progress = (float64(idx) + float64(done)/float64(total)) / float64(st.TotalBrands) * 100
	}
}

func percent(n, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}
