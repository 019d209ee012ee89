package cleaner

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Stats is a snapshot of cleaner activity.
type Stats struct {
	Queued    int64 // waiting for or running on the worker
	Collected int64 // tasks run after their owner was collected
	Closed    int64 // tasks run by Registration.Close
	Failed    int64 // tasks that returned an error or panicked
}

// Cleaner runs cleanup tasks after their owners become unreachable.
//
// The runtime notification only enqueues. A single worker goroutine drains
// the queue, so slow native releases never stall the runtime's cleanup
// goroutine. The queue is unbounded and unordered with respect to
// collection order.
type Cleaner struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []*Task
	stopped bool

	signal chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	queued    atomic.Int64
	collected atomic.Int64
	closed    atomic.Int64
	failed    atomic.Int64
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithLogger sets the logger for task failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cleaner and starts its worker.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

var (
	defaultCleaner *Cleaner
	defaultOnce    sync.Once
)

// Default returns the process-wide cleaner. It is created on first use and
// lives until the process exits.
func Default() *Cleaner {
	defaultOnce.Do(func() {
		defaultCleaner = New()
	})
	return defaultCleaner
}

// Track registers task on the process-wide cleaner.
func Track[T any](owner *T, task *Task) *Registration {
	return Register(Default(), owner, task)
}

// Register arranges for task to run on c after owner becomes unreachable.
func Register[T any](c *Cleaner, owner *T, task *Task) *Registration {
	r := &Registration{cleaner: c, task: task}
	r.cleanup = runtime.AddCleanup(owner, c.enqueue, task)
	return r
}

// Stats returns current counters.
func (c *Cleaner) Stats() Stats {
	return Stats{
		Queued:    c.queued.Load(),
		Collected: c.collected.Load(),
		Closed:    c.closed.Load(),
		Failed:    c.failed.Load(),
	}
}

// Pending returns the number of tasks not yet finished by the worker.
func (c *Cleaner) Pending() int64 {
	return c.queued.Load()
}

// Stop drains queued tasks and stops the worker. Notifications arriving
// afterwards run their task on the notifying goroutine.
// The process-wide cleaner is never stopped.
func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	first := !c.stopped
	c.stopped = true
	c.mu.Unlock()
	if first {
		close(c.stopCh)
	}

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cleaner) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return Logger()
}

func (c *Cleaner) enqueue(task *Task) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.run(task, &c.collected)
		return
	}
	c.queue = append(c.queue, task)
	c.queued.Add(1)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Cleaner) loop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.signal:
			c.drain()
		case <-c.stopCh:
			c.drain()
			return
		}
	}
}

func (c *Cleaner) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.queue = nil
			c.mu.Unlock()
			return
		}
		task := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.run(task, &c.collected)
		c.queued.Add(-1)
	}
}

func (c *Cleaner) run(task *Task, counter *atomic.Int64) error {
	ran, err := task.execute()
	if !ran {
		return nil
	}
	counter.Add(1)
	if err != nil {
		c.failed.Add(1)
		c.log().Warn("cleanup task failed",
			zap.String("task", task.Label()),
			zap.Error(err))
	}
	return err
}

// Registration ties one task to one owner.
type Registration struct {
	cleaner *Cleaner
	task    *Task
	cleanup runtime.Cleanup
}

// Close runs the task now and makes the collector notification inert.
// It is safe to call more than once.
func (r *Registration) Close() error {
	r.cleanup.Stop()
	return r.cleaner.run(r.task, &r.cleaner.closed)
}

// Done reports whether the task already ran.
func (r *Registration) Done() bool {
	return r.task.Done()
}
