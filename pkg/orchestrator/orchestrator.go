package orchestrator

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/arbitration"
	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/lifecycle"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/metrics"
	"github.com/cortexops/drover/pkg/registry"
	"github.com/cortexops/drover/pkg/snapshot"
	"github.com/cortexops/drover/pkg/supervisor"
	"github.com/cortexops/drover/pkg/types"
)

// DefaultDispatchInterval is the queue drain period.
const DefaultDispatchInterval = time.Second

// Config holds the orchestrator's own knobs; component configuration lives
// with the components.
type Config struct {
	DispatchInterval time.Duration

	// ArbitrationQuorum is how many pleadings a task collects before the
	// coordinator resolves them.
	ArbitrationQuorum int
}

// Deps are the components the orchestrator drives. Events flow from the
// components themselves; the orchestrator publishes nothing directly.
type Deps struct {
	Machine    *lifecycle.StateMachine
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Snapshots  *snapshot.Store
	Arbiter    *arbitration.Coordinator
}

// Result is a worker's report for a finished attempt. A non-empty Decision
// marks the report as a pleading to be arbitrated against competing
// reports; an empty Decision completes the task directly.
type Result struct {
	Decision   types.Decision
	Confidence float64
	Reasoning  string
	Evidence   []string
}

// Orchestrator ties the state machine, registry, supervisor, snapshot
// store and arbitration coordinator into the task intake and dispatch
// control flow.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	tasks       map[string]*types.Task
	queue       taskQueue
	assignments map[string]string // taskID -> workerID
	pleadings   map[string][]types.PleadingDecision
	retryTimers map[string]*time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	logger zerolog.Logger
}

// New creates an orchestrator over the given components.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = DefaultDispatchInterval
	}
	if cfg.ArbitrationQuorum <= 0 {
		cfg.ArbitrationQuorum = arbitration.DefaultConfig().MinParticipants
	}
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		tasks:       make(map[string]*types.Task),
		assignments: make(map[string]string),
		pleadings:   make(map[string][]types.PleadingDecision),
		retryTimers: make(map[string]*time.Timer),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      log.WithComponent("orchestrator"),
	}
}

// Start launches the dispatch loop.
func (o *Orchestrator) Start() {
	go o.run()
}

// Shutdown stops the dispatch loop and aborts pending retries.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
	<-o.doneCh

	o.mu.Lock()
	for taskID, timer := range o.retryTimers {
		timer.Stop()
		delete(o.retryTimers, taskID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) run() {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.Dispatch()
		case <-o.stopCh:
			return
		}
	}
}

// Submit admits a task. It returns the task in its admitted state, or a
// backpressure error when the pool refuses new work; a refused task is
// never created.
func (o *Orchestrator) Submit(payload []byte, meta types.TaskMetadata) (*types.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	decision := o.deps.Supervisor.Evaluate(supervisor.EvalRequest{
		QueueDepth:           o.queue.len(),
		Priority:             meta.PriorityHint,
		RequiredCapabilities: meta.RequiredCapabilities,
	})
	if decision.Type == supervisor.DecideBackpressure {
		bp := o.deps.Supervisor.BackpressureState()
		return nil, errdefs.Backpressure("task rejected (%s)", bp.Reason)
	}

	taskID := uuid.New().String()
	if err := o.deps.Machine.Initialize(taskID); err != nil {
		return nil, err
	}
	metrics.TasksSubmitted.Inc()

	task := &types.Task{
		ID:       taskID,
		Payload:  payload,
		Metadata: meta,
	}
	o.tasks[taskID] = task

	if err := o.deps.Machine.Transition(taskID, types.TaskStateQueued, "admitted", nil); err != nil {
		return nil, err
	}

	switch decision.Type {
	case supervisor.DecideAssign:
		if err := o.assignLocked(taskID, decision.WorkerID); err != nil {
			// Assignment raced away; the task stays queued for dispatch.
			o.queue.push(taskID, meta.PriorityHint)
		}
	case supervisor.DecideQueue:
		o.queue.push(taskID, meta.PriorityHint)
	}

	o.updateStateGauges()
	return o.statusLocked(taskID)
}

// assignLocked walks an admitted task through assigned and running and
// marks the worker busy. On error the task is rolled back to queued so a
// later dispatch can place it again. Caller holds o.mu.
func (o *Orchestrator) assignLocked(taskID, workerID string) error {
	meta := map[string]string{"workerId": workerID}
	if err := o.deps.Machine.Transition(taskID, types.TaskStateAssigned, "scheduled", meta); err != nil {
		return err
	}
	if err := o.deps.Supervisor.MarkBusy(workerID, taskID); err != nil {
		o.unassignLocked(taskID, "")
		return err
	}
	o.assignments[taskID] = workerID
	if err := o.deps.Machine.Transition(taskID, types.TaskStateRunning, "started", meta); err != nil {
		delete(o.assignments, taskID)
		o.unassignLocked(taskID, workerID)
		return err
	}

	o.logger.Debug().
		Str("task_id", taskID).
		Str("worker_id", workerID).
		Msg("task assigned")
	return nil
}

// Dispatch drains the queue in priority order, assigning tasks while idle
// capacity remains. It returns the number of tasks placed.
func (o *Orchestrator) Dispatch() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	placed := 0
	for {
		taskID, ok := o.queue.pop()
		if !ok {
			break
		}

		state, err := o.deps.Machine.State(taskID)
		if err != nil || state != types.TaskStateQueued {
			// Cancelled or otherwise moved on while queued.
			o.logger.Debug().Err(err).
				Str("task_id", taskID).
				Str("state", string(state)).
				Msg("dequeued task no longer queued, dropping")
			continue
		}
		task := o.tasks[taskID]

		decision := o.deps.Supervisor.Evaluate(supervisor.EvalRequest{
			QueueDepth:           o.queue.len(),
			Priority:             task.Metadata.PriorityHint,
			RequiredCapabilities: task.Metadata.RequiredCapabilities,
		})
		if decision.Type != supervisor.DecideAssign {
			// No capacity now; put the task back where it was.
			o.queue.pushFront(taskID, task.Metadata.PriorityHint)
			break
		}

		if err := o.assignLocked(taskID, decision.WorkerID); err != nil {
			o.logger.Error().Err(err).Str("task_id", taskID).Msg("assignment failed")
			o.queue.pushFront(taskID, task.Metadata.PriorityHint)
			break
		}
		placed++
	}

	if placed > 0 {
		o.updateStateGauges()
	}
	return placed
}

// RegisterWorker adds a worker to the registry and the scheduling pool.
func (o *Orchestrator) RegisterWorker(workerID string, capabilities map[string]string, health types.HealthState, saturation float64) error {
	if err := o.deps.Registry.Register(workerID, capabilities, health, saturation); err != nil {
		return err
	}
	return o.deps.Supervisor.Register(supervisor.WorkerDescriptor{
		ID:           workerID,
		Capabilities: capabilities,
	})
}

// DeregisterWorker removes a worker from both the registry and the pool.
func (o *Orchestrator) DeregisterWorker(workerID string) error {
	if err := o.deps.Registry.Deregister(workerID); err != nil {
		return err
	}
	return o.deps.Supervisor.Deregister(workerID)
}

// Heartbeat stamps the worker's liveness.
func (o *Orchestrator) Heartbeat(workerID string) error {
	return o.deps.Registry.Heartbeat(workerID)
}

// UpdateWorkerHealth updates a worker's reported health and saturation.
func (o *Orchestrator) UpdateWorkerHealth(workerID string, health types.HealthState, saturation float64) error {
	return o.deps.Registry.UpdateHealth(workerID, health, saturation)
}

// ReportResult records a worker's report for a running task. Reports for
// cancelled tasks are discarded without error. A report carrying a
// decision is collected as a pleading; once the quorum is reached the
// coordinator's verdict completes or fails the task.
func (o *Orchestrator) ReportResult(taskID, workerID string, res Result) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.deps.Machine.State(taskID)
	if err != nil {
		return err
	}
	if state == types.TaskStateCancelled {
		o.releaseWorkerLocked(taskID, workerID)
		o.logger.Debug().Str("task_id", taskID).Str("worker_id", workerID).
			Msg("result for cancelled task discarded")
		return nil
	}
	if state != types.TaskStateRunning {
		return errdefs.IllegalTransition("task %s not running (%s)", taskID, state)
	}

	o.releaseWorkerLocked(taskID, workerID)

	if res.Decision != "" {
		return o.collectPleadingLocked(taskID, workerID, res)
	}

	if err := o.deps.Machine.Transition(taskID, types.TaskStateCompleted, "result reported",
		map[string]string{"workerId": workerID}); err != nil {
		return err
	}
	o.finishLocked(taskID, types.TaskStateCompleted)
	return nil
}

func (o *Orchestrator) collectPleadingLocked(taskID, workerID string, res Result) error {
	o.pleadings[taskID] = append(o.pleadings[taskID], types.PleadingDecision{
		ID:         uuid.New().String(),
		WorkerID:   workerID,
		Decision:   res.Decision,
		Confidence: res.Confidence,
		Reasoning:  res.Reasoning,
		Evidence:   res.Evidence,
		Timestamp:  time.Now(),
	})
	if len(o.pleadings[taskID]) < o.cfg.ArbitrationQuorum {
		return nil
	}

	verdict, err := o.deps.Arbiter.Arbitrate(o.pleadings[taskID], arbitration.Context{})
	if err != nil {
		// An unresolvable panel (everyone abstained) fails the task.
		meta := map[string]string{"errorType": "arbitration_unresolved"}
		if terr := o.deps.Machine.Transition(taskID, types.TaskStateFailed, "arbitration unresolved", meta); terr != nil {
			return terr
		}
		delete(o.pleadings, taskID)
		o.finishLocked(taskID, types.TaskStateFailed)
		return err
	}
	delete(o.pleadings, taskID)

	meta := map[string]string{
		"consensus":  string(verdict.ConsensusLevel),
		"confidence": strconv.FormatFloat(verdict.Confidence, 'f', 2, 64),
		"escalation": strconv.FormatBool(verdict.EscalationRequired),
	}
	if verdict.FinalDecision == types.DecisionApprove {
		if err := o.deps.Machine.Transition(taskID, types.TaskStateCompleted, "arbitration approved", meta); err != nil {
			return err
		}
		o.finishLocked(taskID, types.TaskStateCompleted)
		return nil
	}

	meta["errorType"] = "arbitration_denied"
	if err := o.deps.Machine.Transition(taskID, types.TaskStateFailed, "arbitration denied", meta); err != nil {
		return err
	}
	o.finishLocked(taskID, types.TaskStateFailed)
	return nil
}

// ReportFailure records a failed attempt. The failure metadata must carry
// an errorType tag. A retryable task re-enters the queue after the plan's
// backoff; an exhausted one stays failed with the last errorType in its
// final transition.
func (o *Orchestrator) ReportFailure(taskID, workerID string, failure map[string]string) (types.RetryPlan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.deps.Machine.State(taskID)
	if err != nil {
		return types.RetryPlan{}, err
	}
	if state == types.TaskStateCancelled {
		o.releaseWorkerLocked(taskID, workerID)
		o.logger.Debug().Str("task_id", taskID).Str("worker_id", workerID).
			Msg("failure for cancelled task discarded")
		return types.RetryPlan{}, nil
	}
	if state != types.TaskStateRunning {
		return types.RetryPlan{}, errdefs.IllegalTransition("task %s not running (%s)", taskID, state)
	}

	plan, err := o.deps.Supervisor.RecordFailure(workerID, taskID, failure)
	if err != nil {
		return types.RetryPlan{}, err
	}
	delete(o.assignments, taskID)

	if o.deps.Snapshots != nil {
		if _, serr := o.deps.Snapshots.Save(snapshot.SaveRequest{
			TaskID: taskID,
			Data: types.SnapshotData{
				Checkpoint: "failure",
				Metadata:   plan.Snapshot.Metadata,
				Timestamp:  plan.Snapshot.LastFailureAt,
			},
		}); serr != nil {
			o.logger.Warn().Err(serr).Str("task_id", taskID).Msg("failed to save failure snapshot")
		}
	}

	meta := map[string]string{
		"errorType": failure["errorType"],
		"workerId":  workerID,
		"attempt":   strconv.Itoa(plan.Snapshot.Attempt),
	}
	if err := o.deps.Machine.Transition(taskID, types.TaskStateFailed, "attempt failed", meta); err != nil {
		return types.RetryPlan{}, err
	}

	if plan.ShouldRetry {
		o.scheduleRetryLocked(taskID, plan)
	} else {
		o.finishLocked(taskID, types.TaskStateFailed)
	}
	o.updateStateGauges()
	return plan, nil
}

// scheduleRetryLocked re-queues the task after the backoff delay. A cancel
// arriving first stops the timer and the task stays failed.
func (o *Orchestrator) scheduleRetryLocked(taskID string, plan types.RetryPlan) {
	o.retryTimers[taskID] = time.AfterFunc(plan.RetryAfter, func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		if _, ok := o.retryTimers[taskID]; !ok {
			return
		}
		delete(o.retryTimers, taskID)

		attempt := plan.Snapshot.Attempt
		if err := o.deps.Machine.Transition(taskID, types.TaskStateQueued, "retry",
			map[string]string{"attempt": strconv.Itoa(attempt)}); err != nil {
			o.logger.Error().Err(err).Str("task_id", taskID).Msg("retry requeue failed")
			return
		}
		task := o.tasks[taskID]
		o.queue.push(taskID, task.Metadata.PriorityHint)
		o.updateStateGauges()
	})
}

// Cancel requests cancellation. Cancelling an already-cancelled task is a
// no-op; a task failed with a pending retry is left failed and the retry
// aborted.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.deps.Machine.State(taskID)
	if err != nil {
		return err
	}

	switch state {
	case types.TaskStateCancelled:
		return nil
	case types.TaskStateFailed:
		if timer, ok := o.retryTimers[taskID]; ok {
			timer.Stop()
			delete(o.retryTimers, taskID)
			return nil
		}
		return errdefs.IllegalTransition("task %s already failed", taskID)
	case types.TaskStateCompleted:
		return errdefs.IllegalTransition("task %s already completed", taskID)
	}

	if err := o.deps.Machine.Transition(taskID, types.TaskStateCancelled, "cancel requested", nil); err != nil {
		return err
	}

	if workerID, ok := o.assignments[taskID]; ok {
		o.releaseWorkerLocked(taskID, workerID)
	}
	o.queue.remove(taskID)
	delete(o.pleadings, taskID)
	o.finishLocked(taskID, types.TaskStateCancelled)
	return nil
}

// Status returns the task with lifecycle timestamps filled in.
func (o *Orchestrator) Status(taskID string) (*types.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked(taskID)
}

func (o *Orchestrator) statusLocked(taskID string) (*types.Task, error) {
	task, ok := o.tasks[taskID]
	if !ok {
		return nil, errdefs.NotFound("task %s", taskID)
	}

	state, err := o.deps.Machine.State(taskID)
	if err != nil {
		return nil, err
	}
	created, updated, started, completed, err := o.deps.Machine.Timestamps(taskID)
	if err != nil {
		return nil, err
	}

	copied := *task
	copied.State = state
	copied.CreatedAt = created
	copied.UpdatedAt = updated
	copied.StartedAt = started
	copied.CompletedAt = completed
	return &copied, nil
}

// History returns the task's transition log.
func (o *Orchestrator) History(taskID string) ([]types.TaskTransition, error) {
	return o.deps.Machine.History(taskID)
}

// QueueDepth returns the number of tasks waiting for capacity.
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.len()
}

// releaseWorkerLocked returns the task's assigned worker to the idle pool
// and drops the assignment. A report from a worker that does not hold the
// assignment leaves the pool untouched: pleading workers stay busy on
// their own tasks. Caller holds o.mu.
func (o *Orchestrator) releaseWorkerLocked(taskID, workerID string) {
	if assigned, ok := o.assignments[taskID]; !ok || assigned != workerID {
		return
	}
	delete(o.assignments, taskID)
	if err := o.deps.Supervisor.MarkIdle(workerID); err != nil && !errdefs.IsNotFound(err) {
		o.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to idle worker")
	}
}

// unassignLocked rolls a half-assigned task back to queued. A non-empty
// workerID is returned to the idle pool first. Caller holds o.mu.
func (o *Orchestrator) unassignLocked(taskID, workerID string) {
	if workerID != "" {
		if err := o.deps.Supervisor.MarkIdle(workerID); err != nil && !errdefs.IsNotFound(err) {
			o.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to idle worker")
		}
	}
	if err := o.deps.Machine.Transition(taskID, types.TaskStateQueued, "assignment aborted", nil); err != nil {
		o.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to requeue aborted assignment")
	}
}

// finishLocked handles terminal bookkeeping. Caller holds o.mu.
func (o *Orchestrator) finishLocked(taskID string, state types.TaskState) {
	o.deps.Supervisor.ResetAttempts(taskID)
	if timer, ok := o.retryTimers[taskID]; ok {
		timer.Stop()
		delete(o.retryTimers, taskID)
	}
	metrics.TasksCompleted.WithLabelValues(string(state)).Inc()
	o.updateStateGauges()
}

func (o *Orchestrator) updateStateGauges() {
	for _, state := range []types.TaskState{
		types.TaskStatePending, types.TaskStateQueued, types.TaskStateAssigned,
		types.TaskStateRunning, types.TaskStateSuspended, types.TaskStateCompleted,
		types.TaskStateFailed, types.TaskStateCancelled,
	} {
		metrics.TasksTotal.WithLabelValues(string(state)).
			Set(float64(len(o.deps.Machine.TasksByState(state))))
	}
}
