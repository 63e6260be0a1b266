package supervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/metrics"
	"github.com/cortexops/drover/pkg/types"
)

// DecisionType is the outcome of an Evaluate call.
type DecisionType string

const (
	DecideAssign       DecisionType = "assign"
	DecideQueue        DecisionType = "queue"
	DecideBackpressure DecisionType = "backpressure"
)

// BackpressureReason names which threshold triggered backpressure.
type BackpressureReason string

const (
	ReasonWorkerSaturation BackpressureReason = "worker_saturation"
	ReasonQueueDepth       BackpressureReason = "queue_depth"
)

// Config holds the supervisor's scheduling parameters.
type Config struct {
	// MaxWorkers is the ceiling on concurrent busy workers and the
	// denominator floor for the saturation metric.
	MaxWorkers int

	Backpressure BackpressureConfig
	Retry        RetryConfig
}

// BackpressureConfig sets the saturation and queue-depth thresholds.
type BackpressureConfig struct {
	SaturationRatio float64
	QueueDepth      int
	Cooldown        time.Duration
}

// RetryConfig sets the exponential backoff schedule.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 16,
		Backpressure: BackpressureConfig{
			SaturationRatio: 0.8,
			QueueDepth:      100,
			Cooldown:        5 * time.Second,
		},
		Retry: RetryConfig{
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 3,
		},
	}
}

// WorkerDescriptor registers a worker with the supervisor.
type WorkerDescriptor struct {
	ID           string
	Capabilities map[string]string
}

// EvalRequest asks the supervisor to place one task.
type EvalRequest struct {
	QueueDepth           int
	Priority             types.Priority
	RequiredCapabilities []string
}

// Metrics is the point-in-time pool arithmetic behind a decision.
type Metrics struct {
	SaturationRatio float64
	QueueDepth      int
	BusyWorkers     int
	TotalWorkers    int
}

// Decision is the supervisor's verdict for one task: exactly one of
// assign (with a worker), queue, or backpressure.
type Decision struct {
	Type     DecisionType
	WorkerID string
	Metrics  Metrics
}

// BackpressureState describes whether backpressure is active and why.
type BackpressureState struct {
	Active bool
	Reason BackpressureReason
	Since  time.Time
}

type workerSlot struct {
	id           string
	capabilities map[string]string
	busy         bool
	taskID       string
}

// Supervisor owns the idle/busy partition of the worker pool and decides
// assign/queue/backpressure for each task. All operations are in-memory
// and return in O(workers).
type Supervisor struct {
	mu  sync.Mutex
	cfg Config

	workers map[string]*workerSlot
	// order preserves registration order so idle scans are deterministic
	order []string

	attempts map[string]int // taskID -> failed attempts
	bp       BackpressureState

	logger zerolog.Logger
}

// New creates a supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Supervisor{
		cfg:      cfg,
		workers:  make(map[string]*workerSlot),
		attempts: make(map[string]int),
		logger:   log.WithComponent("supervisor"),
	}
}

// Register adds a worker to the pool in the idle set. Registering an
// existing id updates its capabilities and keeps its position.
func (s *Supervisor) Register(desc WorkerDescriptor) error {
	if desc.ID == "" {
		return errdefs.InvalidArgument("worker id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.workers[desc.ID]; ok {
		slot.capabilities = desc.Capabilities
		return nil
	}
	s.workers[desc.ID] = &workerSlot{
		id:           desc.ID,
		capabilities: desc.Capabilities,
	}
	s.order = append(s.order, desc.ID)
	return nil
}

// Deregister removes a worker from the pool.
func (s *Supervisor) Deregister(workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[workerID]; !ok {
		return errdefs.NotFound("worker %s", workerID)
	}
	delete(s.workers, workerID)
	for i, id := range s.order {
		if id == workerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// MarkBusy moves a worker to the busy set for a task.
func (s *Supervisor) MarkBusy(workerID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.workers[workerID]
	if !ok {
		return errdefs.NotFound("worker %s", workerID)
	}
	slot.busy = true
	slot.taskID = taskID
	return nil
}

// MarkIdle returns a worker to the idle set.
func (s *Supervisor) MarkIdle(workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.workers[workerID]
	if !ok {
		return errdefs.NotFound("worker %s", workerID)
	}
	slot.busy = false
	slot.taskID = ""
	return nil
}

// Evaluate decides placement for one task. An idle worker covering every
// required capability yields assign; otherwise saturation and queue depth
// against the configured thresholds decide between backpressure and queue.
func (s *Supervisor) Evaluate(req EvalRequest) Decision {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.poolMetrics(req.QueueDepth)

	// Eligible worker selection: first idle worker in registration order
	// whose capability set covers the requirement.
	for _, id := range s.order {
		slot := s.workers[id]
		if slot.busy {
			continue
		}
		if !coversCapabilities(slot.capabilities, req.RequiredCapabilities) {
			continue
		}

		// An assignment clears any active backpressure.
		if s.bp.Active {
			s.bp = BackpressureState{}
			metrics.BackpressureActive.Set(0)
		}
		metrics.SchedulingDecisions.WithLabelValues(string(DecideAssign)).Inc()
		return Decision{Type: DecideAssign, WorkerID: id, Metrics: m}
	}

	// No eligible worker: decide between backpressure and queue.
	if m.SaturationRatio >= s.cfg.Backpressure.SaturationRatio {
		s.activateBackpressure(ReasonWorkerSaturation)
		metrics.SchedulingDecisions.WithLabelValues(string(DecideBackpressure)).Inc()
		return Decision{Type: DecideBackpressure, Metrics: m}
	}
	if req.QueueDepth >= s.cfg.Backpressure.QueueDepth {
		s.activateBackpressure(ReasonQueueDepth)
		metrics.SchedulingDecisions.WithLabelValues(string(DecideBackpressure)).Inc()
		return Decision{Type: DecideBackpressure, Metrics: m}
	}

	metrics.SchedulingDecisions.WithLabelValues(string(DecideQueue)).Inc()
	return Decision{Type: DecideQueue, Metrics: m}
}

// RecordFailure frees the worker back to idle, bumps the task's attempt
// counter, and returns the retry plan. Failure metadata must carry an
// errorType tag.
func (s *Supervisor) RecordFailure(workerID, taskID string, failure map[string]string) (types.RetryPlan, error) {
	if failure["errorType"] == "" {
		return types.RetryPlan{}, errdefs.InvalidArgument("failure metadata missing errorType")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.workers[workerID]; ok {
		slot.busy = false
		slot.taskID = ""
	}

	s.attempts[taskID]++
	attempt := s.attempts[taskID]

	meta := make(map[string]string, len(failure)+1)
	for k, v := range failure {
		meta[k] = v
	}
	meta["workerId"] = workerID

	plan := types.RetryPlan{
		Snapshot: types.FailureSnapshot{
			TaskID:        taskID,
			Attempt:       attempt,
			LastFailureAt: time.Now(),
			Metadata:      meta,
		},
	}

	if attempt <= s.cfg.Retry.MaxAttempts {
		plan.ShouldRetry = true
		plan.RetryAfter = retryDelay(s.cfg.Retry, attempt)
		metrics.RetriesScheduled.Inc()
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Str("worker_id", workerID).
		Int("attempt", attempt).
		Bool("retry", plan.ShouldRetry).
		Str("error_type", failure["errorType"]).
		Msg("failure recorded")

	return plan, nil
}

// ResetAttempts clears a task's failure counter, typically on completion.
func (s *Supervisor) ResetAttempts(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, taskID)
}

// Attempts returns the recorded failure count for a task.
func (s *Supervisor) Attempts(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[taskID]
}

// BackpressureState returns the current backpressure observation.
func (s *Supervisor) BackpressureState() BackpressureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bp
}

// PoolMetrics returns a point-in-time view of the pool.
func (s *Supervisor) PoolMetrics(queueDepth int) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolMetrics(queueDepth)
}

// TaskFor returns the task a busy worker is executing, if any.
func (s *Supervisor) TaskFor(workerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.workers[workerID]
	if !ok || !slot.busy {
		return "", false
	}
	return slot.taskID, true
}

func (s *Supervisor) poolMetrics(queueDepth int) Metrics {
	busy := 0
	for _, slot := range s.workers {
		if slot.busy {
			busy++
		}
	}
	denom := len(s.workers)
	if s.cfg.MaxWorkers > denom {
		denom = s.cfg.MaxWorkers
	}
	return Metrics{
		SaturationRatio: float64(busy) / float64(denom),
		QueueDepth:      queueDepth,
		BusyWorkers:     busy,
		TotalWorkers:    len(s.workers),
	}
}

func (s *Supervisor) activateBackpressure(reason BackpressureReason) {
	if !s.bp.Active {
		s.bp = BackpressureState{Active: true, Reason: reason, Since: time.Now()}
		metrics.BackpressureActive.Set(1)
	} else {
		s.bp.Reason = reason
	}
}

// retryDelay computes min(base * 2^(attempt-1), max).
func retryDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

func coversCapabilities(have map[string]string, required []string) bool {
	for _, c := range required {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}
