// Package coordinator serializes long-running maintenance jobs (history
// scans, store repairs, flag clears) per community partition. At most one
// job runs per partition at a time; live message handling shares the
// partition's write lock so a scan and the live pipeline never interleave
// writes to the same records.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrPartitionBusy is returned by Start when the partition already has
	// a running job. The caller reports it to the operator; it is not a
	// fault.
	ErrPartitionBusy = errors.New("a job is already running for this partition")

	// ErrSinkExpired is returned by a ReportSink whose underlying surface
	// (typically a status message) no longer accepts edits. The coordinator
	// reacts by building a replacement sink.
	ErrSinkExpired = errors.New("report sink expired")
)

// State is the lifecycle of one partition's job slot.
type State int

const (
	Idle State = iota
	Running
	Cancelling
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Key identifies a job slot: one community, one store partition.
type Key struct {
	Community string
	Partition string
}

func (k Key) String() string {
	if k.Partition == "" {
		return k.Community
	}
	return k.Community + "/" + k.Partition
}

// Progress is a point-in-time view of a running job, suitable for editing
// into a status surface.
type Progress struct {
	JobID     string
	Kind      string
	Processed int
	Total     int // 0 when unknown
	Note      string
}

// Summary is the final accounting of a finished job.
type Summary struct {
	JobID     string
	Kind      string
	Community string
	Partition string
	Started   time.Time
	Finished  time.Time
	Counts    map[string]int
	Canceled  bool
	Err       error
}

// ReportSink receives progress updates and the final summary. Update is
// best-effort: ErrSinkExpired asks for a replacement sink, any other error
// is logged and the job continues. Finalize is delivered even when the job
// failed or was cancelled.
type ReportSink interface {
	Update(ctx context.Context, p Progress) error
	Finalize(ctx context.Context, s Summary) error
}

// SinkFactory builds a fresh sink when the previous one expires.
type SinkFactory func(ctx context.Context) (ReportSink, error)

// JobFunc is the job body. It calls report once per processed item; the
// coordinator throttles delivery to the sink. It must return promptly once
// ctx is cancelled, returning ctx.Err().
type JobFunc func(ctx context.Context, report func(Progress)) (map[string]int, error)

// Config tunes reporting cadence and action pacing.
type Config struct {
	// ProgressInterval is the number of processed items between sink
	// updates.
	ProgressInterval int
	// ActionDelay is the minimum spacing between rate-limited punitive
	// actions (replies, reactions, deletions) issued by jobs.
	ActionDelay time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		ProgressInterval: 100,
		ActionDelay:      350 * time.Millisecond,
	}
}

// Validate checks the configuration for sane values.
func (c Config) Validate() error {
	if c.ProgressInterval < 1 {
		return fmt.Errorf("progress interval must be at least 1, got %d", c.ProgressInterval)
	}
	if c.ActionDelay < 0 {
		return fmt.Errorf("action delay must not be negative, got %v", c.ActionDelay)
	}
	return nil
}

type job struct {
	id       string
	kind     string
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	progress Progress
}

// Coordinator owns the per-partition job slots and write locks.
type Coordinator struct {
	cfg     Config
	limiter *rate.Limiter

	mu    sync.Mutex
	jobs  map[Key]*job
	locks map[Key]*sync.Mutex

	wg sync.WaitGroup
}

// New creates a coordinator. The config must already be validated.
func New(cfg Config) *Coordinator {
	limit := rate.Inf
	if cfg.ActionDelay > 0 {
		limit = rate.Every(cfg.ActionDelay)
	}
	return &Coordinator{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		jobs:    make(map[Key]*job),
		locks:   make(map[Key]*sync.Mutex),
	}
}

// PartitionLock returns the write lock for a partition. Live message
// handling takes it around store mutations; job bodies take it around
// theirs. The lock is created on first use and lives for the process.
func (c *Coordinator) PartitionLock(key Key) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// PaceAction blocks until the next rate-limited action may be issued, or
// until ctx is cancelled.
func (c *Coordinator) PaceAction(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Start launches fn for the partition. It returns the job ID immediately;
// the job runs on its own goroutine. ErrPartitionBusy if a job is already
// running there.
func (c *Coordinator) Start(ctx context.Context, key Key, kind string, sinkFactory SinkFactory, fn JobFunc) (string, error) {
	c.mu.Lock()
	if existing, ok := c.jobs[key]; ok && existing.state != Idle {
		c.mu.Unlock()
		return "", fmt.Errorf("%s: %w", key, ErrPartitionBusy)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id:     uuid.NewString(),
		kind:   kind,
		state:  Running,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.jobs[key] = j
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(jobCtx, key, j, sinkFactory, fn)
	return j.id, nil
}

func (c *Coordinator) run(ctx context.Context, key Key, j *job, sinkFactory SinkFactory, fn JobFunc) {
	defer c.wg.Done()
	defer close(j.done)
	defer j.cancel()

	started := time.Now().UTC()
	sink, sinkErr := sinkFactory(ctx)

	lastReported := 0
	report := func(p Progress) {
		p.JobID = j.id
		p.Kind = j.kind
		c.mu.Lock()
		j.progress = p
		c.mu.Unlock()

		if sink == nil || p.Processed-lastReported < c.cfg.ProgressInterval {
			return
		}
		lastReported = p.Processed
		sink = c.deliverUpdate(ctx, sink, sinkFactory, p)
	}

	counts, err := fn(ctx, report)

	summary := Summary{
		JobID:     j.id,
		Kind:      j.kind,
		Community: key.Community,
		Partition: key.Partition,
		Started:   started,
		Finished:  time.Now().UTC(),
		Counts:    counts,
		Canceled:  errors.Is(err, context.Canceled),
		Err:       err,
	}
	if summary.Canceled {
		summary.Err = nil
	}

	// Finalize must land even if the job's context is gone: give the sink
	// a short grace window of its own.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if sink == nil && sinkErr != nil {
		sink, sinkErr = sinkFactory(finalCtx)
	}
	if sink != nil {
		if err := sink.Finalize(finalCtx, summary); errors.Is(err, ErrSinkExpired) {
			if fresh, ferr := sinkFactory(finalCtx); ferr == nil {
				_ = fresh.Finalize(finalCtx, summary)
			}
		}
	}

	c.mu.Lock()
	j.state = Idle
	delete(c.jobs, key)
	c.mu.Unlock()
}

// deliverUpdate pushes a progress update, replacing the sink once if it
// has expired. Any other delivery error is swallowed: progress is
// best-effort.
func (c *Coordinator) deliverUpdate(ctx context.Context, sink ReportSink, sinkFactory SinkFactory, p Progress) ReportSink {
	err := sink.Update(ctx, p)
	if !errors.Is(err, ErrSinkExpired) {
		return sink
	}
	fresh, ferr := sinkFactory(ctx)
	if ferr != nil {
		return sink
	}
	_ = fresh.Update(ctx, p)
	return fresh
}

// Cancel requests cooperative cancellation of the partition's job. It
// returns false when nothing is running there.
func (c *Coordinator) Cancel(key Key) bool {
	c.mu.Lock()
	j, ok := c.jobs[key]
	if !ok || j.state != Running {
		c.mu.Unlock()
		return false
	}
	j.state = Cancelling
	c.mu.Unlock()
	j.cancel()
	return true
}

// Status reports the partition's slot state and, when a job is running,
// its latest progress.
func (c *Coordinator) Status(key Key) (State, Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[key]
	if !ok {
		return Idle, Progress{}
	}
	return j.state, j.progress
}

// Running lists the keys with active jobs.
func (c *Coordinator) Running() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.jobs))
	for k := range c.jobs {
		keys = append(keys, k)
	}
	return keys
}

// Wait blocks until every launched job has finished. Call after cancelling
// during shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
