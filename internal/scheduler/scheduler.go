// ============================================================================
// algorun task scheduler - cost ordered worker pool
// ============================================================================
//
// Package: internal/scheduler
//
// Algorithm bodies split independent work (typically one task per histogram)
// into Tasks with an estimated cost and hand them to a Scheduler. RunAll runs
// them on a fixed number of workers:
//
//   Submit(task) ──> queue (max-heap on cost, FIFO on ties)
//                        │
//              ┌─────────┼─────────┐
//           worker 1  worker 2 … worker N   (each pops the next task)
//                        │
//                     results ──> []Result + errors.Join(failures)
//
// Starting the longest tasks first keeps the tail of the run short when costs
// are uneven. A failing task never cancels its siblings; every dispatched
// task runs to completion and RunAll returns only after all of them have.
// Panics inside a task become that task's error.
//
// ============================================================================

package scheduler

import (
	"cmp"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/ChuLiYu/algorun/internal/metrics"
	"github.com/ChuLiYu/algorun/pkg/types"
)

// Policy selects the dispatch order.
type Policy int

const (
	// LargestCostFirst dispatches the highest cost first, FIFO among equal costs.
	LargestCostFirst Policy = iota
	// FIFO dispatches in submission order.
	FIFO
)

func (p Policy) String() string {
	switch p {
	case LargestCostFirst:
		return "largest-cost"
	case FIFO:
		return "fifo"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "largest-cost":
		return LargestCostFirst, nil
	case "fifo":
		return FIFO, nil
	}
	return 0, fmt.Errorf("scheduler: unknown policy %q: %w", s, types.ErrValidation)
}

// Task is one unit of independent work.
type Task struct {
	Name string
	Cost float64
	Run  func(ctx context.Context) error
}

// Result records how a task went.
type Result struct {
	Name     string
	Cost     float64
	Order    int // dispatch position, starting at 0
	Err      error
	Started  time.Time
	Finished time.Time
}

// Scheduler runs submitted tasks on a fixed worker pool. A Scheduler can be
// reused: each RunAll drains the tasks submitted before or during it.
type Scheduler struct {
	workers    int
	policy     Policy
	onComplete func(Result)
	metrics    *metrics.Collector
	log        *slog.Logger

	mu      sync.Mutex
	queue   taskHeap
	seq     int
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPolicy sets the dispatch order.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithOnComplete registers fn to be called after each task finishes. It is
// called from worker goroutines.
func WithOnComplete(fn func(Result)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// WithMetrics records task outcomes and queue depth in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a scheduler with the given number of workers. Zero or a
// negative count means one worker per CPU.
func New(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 1)
	}
	s := &Scheduler{workers: workers, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.queue.policy = s.policy
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Policy returns the dispatch order in use.
func (s *Scheduler) Policy() Policy { return s.policy }

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Submit queues t.
func (s *Scheduler) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("scheduler: task %q has no body: %w", t.Name, types.ErrValidation)
	}
	s.mu.Lock()
	heap.Push(&s.queue, &queued{task: t, seq: s.seq})
	s.seq++
	depth := s.queue.Len()
	s.mu.Unlock()

	s.metrics.SetQueueDepth(depth)
	return nil
}

// RunAll runs every queued task and blocks until all dispatched tasks have
// returned. Results are in dispatch order. The returned error joins every
// task failure and is nil when all tasks succeeded.
//
// Cancelling ctx stops dispatching: tasks still queued are reported with the
// context error without being run. Running tasks receive ctx and decide for
// themselves whether to stop.
func (s *Scheduler) RunAll(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler: RunAll already in progress: %w", types.ErrInvalidState)
	}
	s.running = true
	n := min(s.workers, s.queue.Len())
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results []Result
		order   int
	)
	// next pops under the queue lock and assigns the dispatch position.
	next := func() (Task, int, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.queue.Len() == 0 {
			return Task{}, 0, false
		}
		q := heap.Pop(&s.queue).(*queued)
		pos := order
		order++
		s.metrics.SetQueueDepth(s.queue.Len())
		return q.task, pos, true
	}

	for w := 0; w < n; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				t, pos, ok := next()
				if !ok {
					return
				}
				r := s.runOne(ctx, id, t, pos)
				resMu.Lock()
				results = append(results, r)
				resMu.Unlock()
				if s.onComplete != nil {
					s.onComplete(r)
				}
			}
		}(w)
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b Result) int { return cmp.Compare(a.Order, b.Order) })
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", r.Name, r.Err))
		}
	}
	if len(errs) > 0 {
		s.log.Warn("scheduler run finished with failures", "tasks", len(results), "failed", len(errs))
	}
	return results, errors.Join(errs...)
}

func (s *Scheduler) runOne(ctx context.Context, worker int, t Task, pos int) (r Result) {
	r = Result{Name: t.Name, Cost: t.Cost, Order: pos, Started: time.Now()}
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("panic: %v", p)
		}
		r.Finished = time.Now()
		s.metrics.RecordTask(r.Finished.Sub(r.Started), r.Err)
		s.log.Debug("task finished", "task", t.Name, "worker", worker, "cost", t.Cost, "error", r.Err)
	}()

	if err := ctx.Err(); err != nil {
		r.Err = err
		return r
	}
	r.Err = t.Run(ctx)
	return r
}

// ============================================================================
// queue
// ============================================================================

type queued struct {
	task Task
	seq  int
}

type taskHeap struct {
	items  []*queued
	policy Policy
}

func (h taskHeap) Len() int { return len(h.items) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.policy == LargestCostFirst && a.task.Cost != b.task.Cost {
		return a.task.Cost > b.task.Cost
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *taskHeap) Push(x any) { h.items = append(h.items, x.(*queued)) }

func (h *taskHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
