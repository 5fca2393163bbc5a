package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so coalescing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Task is a deferred unit of remote work.
type Task func(ctx context.Context) error

// Debouncer coalesces tasks per key: scheduling a key that already has a pending
// task replaces it and restarts the quiet period. At most one task per key runs
// at a time; a key that comes due while its previous task is still running waits
// for that task to finish.
type Debouncer struct {
	clock Clock
	delay time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingTask
	running map[string]chan struct{}
}

type pendingTask struct {
	order uint64
	gen   uint64
	timer Timer
	task  Task
	due   bool
}

func NewDebouncer(clock Clock, delay time.Duration, log *zap.Logger) *Debouncer {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Debouncer{
		clock:   clock,
		delay:   delay,
		log:     log,
		pending: make(map[string]*pendingTask),
		running: make(map[string]chan struct{}),
	}
}

// Schedule queues task under key, replacing any pending task for the same key.
func (d *Debouncer) Schedule(key string, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		p.task = task
		p.gen++
		p.due = false
	} else {
		d.seq++
		p = &pendingTask{order: d.seq, task: task}
		d.pending[key] = p
	}
	gen := p.gen
	p.timer = d.clock.AfterFunc(d.delay, func() { d.fire(key, gen) })
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	if _, busy := d.running[key]; busy {
		// picked up by the running task's drain loop
		p.due = true
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	done := make(chan struct{})
	d.running[key] = done
	d.mu.Unlock()

	if err := d.drain(context.Background(), key, p.task, done); err != nil {
		d.log.Warn("deferred task failed", zap.String("key", key), zap.Error(err))
	}
}

// drain runs task for a key the caller has marked running, then any task for the
// same key that came due meanwhile. It returns the first task's error.
func (d *Debouncer) drain(ctx context.Context, key string, task Task, done chan struct{}) error {
	first := task(ctx)
	for {
		d.mu.Lock()
		p, ok := d.pending[key]
		if !ok || !p.due {
			delete(d.running, key)
			close(done)
			d.mu.Unlock()
			return first
		}
		delete(d.pending, key)
		d.mu.Unlock()

		if err := p.task(context.Background()); err != nil {
			d.log.Warn("deferred task failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// acquire marks key running once no other task for it is in flight.
func (d *Debouncer) acquire(ctx context.Context, key string) (chan struct{}, error) {
	for {
		d.mu.Lock()
		busy, ok := d.running[key]
		if !ok {
			done := make(chan struct{})
			d.running[key] = done
			d.mu.Unlock()
			return done, nil
		}
		d.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel drops the pending task for key and reports whether one existed.
// A task already running is not interrupted.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending returns the number of queued keys.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush runs every pending task now, oldest key first, and joins their errors.
// It returns once no task for any key is still in flight.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	type queued struct {
		key string
		p   *pendingTask
	}
	tasks := make([]queued, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		tasks = append(tasks, queued{key: key, p: p})
	}
	d.pending = make(map[string]*pendingTask)
	d.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].p.order < tasks[j].p.order })

	var errs []error
	for _, q := range tasks {
		done, err := d.acquire(ctx, q.key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q.key, err))
			continue
		}
		if err := d.drain(ctx, q.key, q.p.task, done); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q.key, err))
		}
	}

	d.mu.Lock()
	inflight := make([]chan struct{}, 0, len(d.running))
	for _, done := range d.running {
		inflight = append(inflight, done)
	}
	d.mu.Unlock()
	for _, done := range inflight {
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}
