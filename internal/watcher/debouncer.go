package watcher

import (
	"sort"
	"sync"
	"time"
)

// Op is what happened to a watched file
type Op int

const (
	OpWrite Op = iota
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Change is one file touched during a burst
type Change struct {
	Path string
	Op   Op
}

// Batch is every change seen between two quiet periods
type Batch struct {
	Changes []Change
	At      time.Time
}

// Paths returns the changed paths in sorted order
func (b Batch) Paths() []string {
	paths := make([]string, 0, len(b.Changes))
	for _, c := range b.Changes {
		paths = append(paths, c.Path)
	}
	return paths
}

// Debouncer folds bursts of file events into a single Batch once no new
// event has arrived for the configured delay
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]Op
	timer   *time.Timer
	stopped bool

	output chan Batch
	stopCh chan struct{}
	// wg tracks scheduled and running emits so Stop can close output safely
	wg sync.WaitGroup
}

// NewDebouncer creates a new debouncer
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]Op),
		output:  make(chan Batch, 16),
		stopCh:  make(chan struct{}),
	}
}

// Batches returns the channel of debounced batches. It is closed by Stop.
func (d *Debouncer) Batches() <-chan Batch {
	return d.output
}

// Add records a change and restarts the quiet period
func (d *Debouncer) Add(path string, op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	// a removal sticks until the batch is emitted
	if prev, ok := d.pending[path]; !ok || prev != OpRemove {
		d.pending[path] = op
	}

	d.cancelTimer()
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.emit()
	})
}

// cancelTimer must be called with mu held
func (d *Debouncer) cancelTimer() {
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
}

func (d *Debouncer) emit() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}

	batch := Batch{At: time.Now(), Changes: make([]Change, 0, len(d.pending))}
	for path, op := range d.pending {
		batch.Changes = append(batch.Changes, Change{Path: path, Op: op})
	}
	d.pending = make(map[string]Op)
	d.mu.Unlock()

	sort.Slice(batch.Changes, func(i, j int) bool { return batch.Changes[i].Path < batch.Changes[j].Path })

	select {
	case d.output <- batch:
	case <-d.stopCh:
	}
}

// Flush emits pending changes without waiting for the quiet period
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.cancelTimer()
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.emit()
}

// Stop discards pending changes and closes the batch channel
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stopCh)
	d.cancelTimer()
	d.pending = make(map[string]Op)
	d.mu.Unlock()

	d.wg.Wait()
	close(d.output)
}

// Pending returns the number of paths waiting to be emitted
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
