package engine

import "sync"

type State int

const (
	Idle State = iota
	Running
	Paused
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type CompletedBrand struct {
	Name     string `json:"name"`
	Devices  int    `json:"devices"`
	Expected int    `json:"expected"`
}

// Status is an immutable snapshot of a session. Progress values are 0-100.
type Status struct {
	RunID                string           `json:"run_id"`
	State                State            `json:"state"`
	Message              string           `json:"message"`
	Progress             float64          `json:"progress"`
	CurrentBrand         string           `json:"current_brand"`
	CurrentBrandDevices  int              `json:"current_brand_devices"`
	CurrentBrandProgress float64          `json:"current_brand_progress"`
	BrandsProcessed      int              `json:"brands_processed"`
	TotalBrands          int              `json:"total_brands"`
	DevicesProcessed     int              `json:"devices_processed"`
	TotalDevices         int              `json:"total_devices"`
	NewDevices           int              `json:"new_devices"`
	UpdatedDevices       int              `json:"updated_devices"`
	FailedDevices        int              `json:"failed_devices"`
	Paused               bool             `json:"paused"`
	CompletedBrands      []CompletedBrand `json:"completed_brands"`
}

func (s Status) clone() Status {
	s.CompletedBrands = append([]CompletedBrand{}, s.CompletedBrands...)
	return s
}

// feed is the push side of the status. It never blocks the publisher: when
// the buffer is full the oldest half of the queued snapshots is dropped.
type feed struct {
	mu     sync.Mutex
	ch     chan Status
	closed bool
}

func newFeed(size int) *feed {
	if size < 1 {
		size = 1
	}
	return &feed{ch: make(chan Status, size)}
}

func (f *feed) publish(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	select {
	case f.ch <- s:
		return
	default:
	}

	drop := cap(f.ch) / 2
	if drop < 1 {
		drop = 1
	}
drain:
	for i := 0; i < drop; i++ {
		select {
		case <-f.ch:
		default:
			break drain
		}
	}

	// only this method sends, so there is room now
	select {
	case f.ch <- s:
	default:
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
