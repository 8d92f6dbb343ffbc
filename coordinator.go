package chunking

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// BatchProcessor runs one job's documents end to end. ingest.Processor is
// the production implementation; tests substitute stubs.
type BatchProcessor interface {
	ProcessDocuments(ctx context.Context, documentIDs []string) (BatchResult, error)
}

// LoadFunc reports a normalized system load signal in [0,1]. The coordinator
// samples it before starting each job; values at or above the backpressure
// threshold delay dispatch until a later completion or tick.
type LoadFunc func() float64

// MemoryLoad is the default LoadFunc: the fraction of the OS-claimed heap
// currently in use. It rises under allocation pressure and falls after GC,
// so a paused coordinator always recovers without outside help.
func MemoryLoad() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	load := float64(ms.HeapAlloc) / float64(ms.HeapSys)
	if load > 1 {
		load = 1
	}
	return load
}

// CoordinatorStats is a point-in-time snapshot of the job registry.
type CoordinatorStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobHook is called after a job reaches a terminal state — completed or
// failed. Use it to route results without coupling the coordinator to a
// specific destination.
type JobHook func(job ProcessingJob)

// coordinatorConfig holds options accumulated by CoordinatorOption calls.
type coordinatorConfig struct {
	maxJobs           int
	queueCap          int
	jobBatch          int
	backpressure      float64
	loadFn            LoadFunc
	source            DocumentSource
	discoveryInterval time.Duration
	discoveryLimit    int
	keepFinished      int
	onJobDone         JobHook
	logger            *slog.Logger
	meter             Meter
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorConfig)

// WithMaxConcurrentJobs sets how many jobs may run at once. Default: 2.
func WithMaxConcurrentJobs(n int) CoordinatorOption {
	return func(c *coordinatorConfig) { c.maxJobs = n }
}

// WithQueueCapacity bounds the pending queue; submissions beyond it fail
// with ErrQueueFull. Zero means unbounded. Default: 64.
func WithQueueCapacity(n int) CoordinatorOption {
	return func(c *coordinatorConfig) { c.queueCap = n }
}

// WithJobBatchSize sets how many documents SubmitBatchJobs packs into each
// job. Default: 25.
func WithJobBatchSize(n int) CoordinatorOption {
	return func(c *coordinatorConfig) { c.jobBatch = n }
}

// WithBackpressureThreshold sets the load level at which dispatch pauses.
// Default: 0.9.
func WithBackpressureThreshold(v float64) CoordinatorOption {
	return func(c *coordinatorConfig) { c.backpressure = v }
}

// WithLoadFunc replaces the load signal. Default: MemoryLoad.
func WithLoadFunc(fn LoadFunc) CoordinatorOption {
	return func(c *coordinatorConfig) { c.loadFn = fn }
}

// WithDiscovery enables the backlog sweep: every interval, when the
// coordinator is idle, it asks source for up to limit unprocessed document
// IDs and enqueues them at low priority.
func WithDiscovery(source DocumentSource, interval time.Duration, limit int) CoordinatorOption {
	return func(c *coordinatorConfig) {
		c.source = source
		c.discoveryInterval = interval
		c.discoveryLimit = limit
	}
}

// WithKeepFinished caps how many terminal jobs stay queryable; the oldest
// are evicted past the cap. Default: 1000. Zero keeps everything.
func WithKeepFinished(n int) CoordinatorOption {
	return func(c *coordinatorConfig) { c.keepFinished = n }
}

// WithOnJobDone registers a hook called after each job completes or fails.
func WithOnJobDone(hook JobHook) CoordinatorOption {
	return func(c *coordinatorConfig) { c.onJobDone = hook }
}

// WithCoordinatorLogger sets the structured logger.
// If not set, a no-op logger is used (no output).
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *coordinatorConfig) { c.logger = l }
}

// WithCoordinatorMeter sets the metrics sink for the active_jobs and
// job_queue_size gauges.
func WithCoordinatorMeter(m Meter) CoordinatorOption {
	return func(c *coordinatorConfig) { c.meter = m }
}

// Coordinator owns the job lifecycle: a priority queue of pending jobs, a
// bounded worker pool executing them, and an optional discovery sweep that
// keeps the backlog draining when nobody submits work explicitly.
//
// Priorities are strict — urgent beats high beats normal beats low — with
// FIFO order inside each priority. Job records live in memory and the
// coordinator is their only writer; readers get copies.
//
//	coord, err := chunking.NewCoordinator(processor,
//	    chunking.WithMaxConcurrentJobs(4),
//	    chunking.WithDiscovery(store, time.Minute, 100),
//	    chunking.WithCoordinatorLogger(logger),
//	)
//	g.Go(func() error { return coord.Run(ctx) })
type Coordinator struct {
	processor BatchProcessor
	cfg       coordinatorConfig
	pool      *ants.Pool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu        sync.Mutex
	queue     jobQueue
	jobs      map[string]*ProcessingJob
	finished  []string // terminal job IDs, oldest first, for eviction
	seq       uint64
	pending   int
	running   int
	completed int
	failed    int
	cancelled int
	closed    bool
}

// NewCoordinator creates a Coordinator. Dispatch gating keeps at most
// MaxConcurrentJobs jobs running; submissions never block on pool capacity.
func NewCoordinator(processor BatchProcessor, opts ...CoordinatorOption) (*Coordinator, error) {
	cfg := coordinatorConfig{
		maxJobs:      2,
		queueCap:     64,
		jobBatch:     25,
		backpressure: 0.9,
		keepFinished: 1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxJobs < 1 {
		cfg.maxJobs = 1
	}
	if cfg.jobBatch < 1 {
		cfg.jobBatch = 1
	}
	if cfg.loadFn == nil {
		cfg.loadFn = MemoryLoad
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}

	// Concurrency is gated by the running counter in dispatch, not by pool
	// capacity: a finishing worker still occupies its slot while it submits
	// the successor job, so a pool capped at maxJobs would refuse the
	// handoff. An unbounded pool keeps worker reuse and expiry without that
	// failure mode; Submit can only fail once the pool is released.
	pool, err := ants.NewPool(-1, ants.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("coordinator: create worker pool: %w", err)
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Coordinator{
		processor:  processor,
		cfg:        cfg,
		pool:       pool,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		jobs:       make(map[string]*ProcessingJob),
	}, nil
}

// SubmitJob enqueues one job over the given documents and returns its ID.
// The job starts as soon as a worker slot and the load budget allow.
func (c *Coordinator) SubmitJob(ctx context.Context, documentIDs []string, priority JobPriority) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(documentIDs) == 0 {
		return "", fmt.Errorf("coordinator: no document IDs")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fmt.Errorf("coordinator: closed")
	}
	if c.cfg.queueCap > 0 && c.pending >= c.cfg.queueCap {
		depth := c.pending
		c.mu.Unlock()
		return "", &ErrQueueFull{Depth: depth, Capacity: c.cfg.queueCap}
	}
	job := &ProcessingJob{
		ID:          NewID(),
		DocumentIDs: slices.Clone(documentIDs),
		Priority:    priority,
		Status:      JobPending,
		CreatedAt:   NowUnix(),
	}
	c.jobs[job.ID] = job
	c.seq++
	heap.Push(&c.queue, &queuedJob{id: job.ID, priority: priority, seq: c.seq})
	c.pending++
	c.mu.Unlock()

	c.cfg.logger.Info("job submitted",
		"job_id", job.ID,
		"priority", priority.String(),
		"documents", len(documentIDs))
	c.gauges()
	c.dispatch()
	return job.ID, nil
}

// SubmitBatchJobs slices documentIDs into jobs of the configured batch size,
// all at the same priority, and returns their IDs in order. On a mid-way
// submission error the already-submitted IDs are returned with the error.
func (c *Coordinator) SubmitBatchJobs(ctx context.Context, documentIDs []string, priority JobPriority) ([]string, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var jobIDs []string
	for start := 0; start < len(documentIDs); start += c.cfg.jobBatch {
		end := min(start+c.cfg.jobBatch, len(documentIDs))
		id, err := c.SubmitJob(ctx, documentIDs[start:end], priority)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, id)
	}
	return jobIDs, nil
}

// CancelJob cancels a pending job. Running jobs cannot be cancelled — the
// call fails with ErrJobState and the job runs to completion.
func (c *Coordinator) CancelJob(id string) error {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: unknown job %q", id)
	}
	if job.Status != JobPending {
		status := job.Status
		c.mu.Unlock()
		return &ErrJobState{ID: id, Status: status}
	}
	// The heap entry stays behind; dispatch skips non-pending jobs.
	job.Status = JobCancelled
	job.CompletedAt = NowUnix()
	c.pending--
	c.cancelled++
	c.finished = append(c.finished, id)
	c.evictLocked()
	c.mu.Unlock()

	c.cfg.logger.Info("job cancelled", "job_id", id)
	c.gauges()
	return nil
}

// Job returns a copy of the job record. The Result pointer is shared but
// immutable once the job is terminal.
func (c *Coordinator) Job(id string) (ProcessingJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return ProcessingJob{}, fmt.Errorf("coordinator: unknown job %q", id)
	}
	return *job, nil
}

// Stats returns a snapshot of queue and registry counters.
func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinatorStats{
		Queued:    c.pending,
		Running:   c.running,
		Completed: c.completed,
		Failed:    c.failed,
		Cancelled: c.cancelled,
	}
}

// Run starts the discovery loop and blocks until ctx is cancelled. Returns
// nil on clean shutdown. Run is optional — submission and dispatch work
// without it — but without Run nothing sweeps the backlog and backpressure
// pauses only lift on job completions.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.cfg.discoveryInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		c.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// tick performs one cycle: re-try dispatch (load may have eased), then sweep
// for unprocessed documents if the coordinator is idle. The idle gate keeps
// a slow sweep from enqueueing the same backlog twice.
func (c *Coordinator) tick(ctx context.Context) {
	c.dispatch()

	if c.cfg.source == nil {
		return
	}
	c.mu.Lock()
	idle := c.pending == 0 && c.running == 0 && !c.closed
	c.mu.Unlock()
	if !idle {
		return
	}

	limit := c.cfg.discoveryLimit
	if limit <= 0 {
		limit = 100
	}
	ids, err := c.cfg.source.FindUnprocessed(ctx, limit)
	if err != nil {
		c.cfg.logger.Warn("discovery sweep failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	c.cfg.logger.Info("discovered unprocessed documents", "count", len(ids))
	if _, err := c.SubmitBatchJobs(ctx, ids, PriorityLow); err != nil {
		c.cfg.logger.Warn("discovery enqueue failed", "error", err)
	}
}

// Close cancels all pending jobs, stops the worker pool, and cancels the
// execution context of running jobs. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for c.queue.Len() > 0 {
		item := heap.Pop(&c.queue).(*queuedJob)
		job := c.jobs[item.id]
		if job == nil || job.Status != JobPending {
			continue
		}
		job.Status = JobCancelled
		job.CompletedAt = NowUnix()
		c.cancelled++
		c.finished = append(c.finished, job.ID)
	}
	c.pending = 0
	c.evictLocked()
	c.mu.Unlock()

	c.lifeCancel()
	c.pool.Release()
	c.cfg.logger.Info("coordinator closed")
	c.gauges()
}

// dispatch starts queued jobs while a worker slot is free and the load
// signal stays under the backpressure threshold. Called after every
// submission, completion, and tick.
func (c *Coordinator) dispatch() {
	for {
		load := c.cfg.loadFn()

		c.mu.Lock()
		if c.closed || c.queue.Len() == 0 || c.running >= c.cfg.maxJobs {
			c.mu.Unlock()
			return
		}
		if load >= c.cfg.backpressure {
			depth := c.pending
			c.mu.Unlock()
			c.cfg.logger.Warn("dispatch paused by backpressure",
				"load", load,
				"threshold", c.cfg.backpressure,
				"queued", depth)
			return
		}
		item := heap.Pop(&c.queue).(*queuedJob)
		job := c.jobs[item.id]
		if job == nil || job.Status != JobPending {
			// Cancelled while queued; entry was left for lazy removal.
			c.mu.Unlock()
			continue
		}
		job.Status = JobRunning
		job.StartedAt = NowUnix()
		c.pending--
		c.running++
		id := job.ID
		c.mu.Unlock()

		c.gauges()
		c.cfg.logger.Info("job started", "job_id", id, "priority", job.Priority.String())
		if err := c.pool.Submit(func() { c.runJob(id) }); err != nil {
			// Pool released mid-shutdown. Not the job's fault: requeueJob
			// sees the closed flag and cancels it instead of failing it.
			c.cfg.logger.Warn("worker pool refused job", "job_id", id, "error", err)
			c.requeueJob(item)
			return
		}
	}
}

// requeueJob returns a job the pool refused to the pending queue, reusing
// the original heap entry so its place in the FIFO order survives. If the
// coordinator closed in the meantime the job is cancelled instead.
func (c *Coordinator) requeueJob(item *queuedJob) {
	c.mu.Lock()
	job, ok := c.jobs[item.id]
	if !ok || job.Status != JobRunning {
		c.mu.Unlock()
		return
	}
	c.running--
	job.StartedAt = 0
	if c.closed {
		job.Status = JobCancelled
		job.CompletedAt = NowUnix()
		c.cancelled++
		c.finished = append(c.finished, job.ID)
		c.evictLocked()
		c.mu.Unlock()
		c.gauges()
		return
	}
	job.Status = JobPending
	heap.Push(&c.queue, item)
	c.pending++
	c.mu.Unlock()
	c.gauges()
}

// runJob executes one job on a pool worker. Panics inside the processor are
// converted into a failed job instead of taking the worker down.
func (c *Coordinator) runJob(id string) {
	defer func() {
		if p := recover(); p != nil {
			c.finishJob(id, nil, fmt.Errorf("panic: %v", p))
		}
	}()

	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok || job.Status != JobRunning {
		c.mu.Unlock()
		return
	}
	ids := job.DocumentIDs
	c.mu.Unlock()

	result, err := c.processor.ProcessDocuments(c.lifeCtx, ids)
	if err != nil {
		c.finishJob(id, nil, err)
		return
	}
	c.finishJob(id, &result, nil)
}

// finishJob moves a running job to its terminal state, fires the hook, and
// re-runs dispatch to fill the freed slot. No-ops unless the job is running,
// which makes the panic path safe to call unconditionally.
func (c *Coordinator) finishJob(id string, result *BatchResult, err error) {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok || job.Status != JobRunning {
		c.mu.Unlock()
		return
	}
	c.running--
	job.CompletedAt = NowUnix()
	if err != nil {
		job.Status = JobFailed
		job.ErrorMessage = err.Error()
		c.failed++
	} else {
		job.Status = JobCompleted
		job.Result = result
		c.completed++
	}
	c.finished = append(c.finished, id)
	c.evictLocked()
	hook := c.cfg.onJobDone
	snapshot := *job
	c.mu.Unlock()

	if err != nil {
		c.cfg.logger.Error("job failed", "job_id", id, "error", err)
	} else {
		c.cfg.logger.Info("job completed",
			"job_id", id,
			"documents", result.DocumentsProcessed,
			"chunks", result.ChunksCreated,
			"duration", result.Duration)
	}
	c.gauges()
	if hook != nil {
		hook(snapshot)
	}
	c.dispatch()
}

// evictLocked drops the oldest terminal jobs past the retention cap.
// Caller must hold c.mu.
func (c *Coordinator) evictLocked() {
	keep := c.cfg.keepFinished
	if keep <= 0 {
		return
	}
	for len(c.finished) > keep {
		delete(c.jobs, c.finished[0])
		c.finished = c.finished[1:]
	}
}

// gauges publishes queue depth and active-job count.
func (c *Coordinator) gauges() {
	if c.cfg.meter == nil {
		return
	}
	c.mu.Lock()
	running, pending := c.running, c.pending
	c.mu.Unlock()
	c.cfg.meter.Gauge(MetricActiveJobs, int64(running))
	c.cfg.meter.Gauge(MetricJobQueueSize, int64(pending))
}

// --- priority queue ---

// queuedJob is a heap entry; job records themselves live in the registry.
// seq breaks ties so equal priorities dispatch in submission order.
type queuedJob struct {
	id       string
	priority JobPriority
	seq      uint64
}

type jobQueue []*queuedJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(*queuedJob)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// compile-time check
var _ heap.Interface = (*jobQueue)(nil)
