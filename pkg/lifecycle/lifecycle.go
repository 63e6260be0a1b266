package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/events"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/types"
)

// allowedTransitions is the full legal-transition table. Terminal states
// have no outgoing edges except failed -> queued (retry).
var allowedTransitions = map[types.TaskState][]types.TaskState{
	types.TaskStatePending:   {types.TaskStateQueued, types.TaskStateCancelled},
	types.TaskStateQueued:    {types.TaskStateAssigned, types.TaskStateCancelled},
	types.TaskStateAssigned:  {types.TaskStateRunning, types.TaskStateQueued, types.TaskStateCancelled},
	types.TaskStateRunning:   {types.TaskStateCompleted, types.TaskStateFailed, types.TaskStateSuspended, types.TaskStateCancelled},
	types.TaskStateSuspended: {types.TaskStateRunning, types.TaskStateCancelled},
	types.TaskStateFailed:    {types.TaskStateQueued},
	types.TaskStateCompleted: {},
	types.TaskStateCancelled: {},
}

// CanTransition reports whether from -> to is in the legal-transition table.
func CanTransition(from, to types.TaskState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type record struct {
	state       types.TaskState
	history     []types.TaskTransition
	createdAt   time.Time
	updatedAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// StateMachine tracks every task's current state and its append-only
// transition log. It is the only component that mutates task state.
type StateMachine struct {
	mu     sync.RWMutex
	tasks  map[string]*record
	broker *events.Broker
	logger zerolog.Logger
}

// NewStateMachine creates a state machine publishing to broker. A nil
// broker disables event emission.
func NewStateMachine(broker *events.Broker) *StateMachine {
	return &StateMachine{
		tasks:  make(map[string]*record),
		broker: broker,
		logger: log.WithComponent("lifecycle"),
	}
}

// Initialize registers a new task in the pending state.
func (m *StateMachine) Initialize(taskID string) error {
	if taskID == "" {
		return errdefs.InvalidArgument("task id must not be empty")
	}

	m.mu.Lock()
	if _, ok := m.tasks[taskID]; ok {
		m.mu.Unlock()
		return errdefs.AlreadyExists("task %s", taskID)
	}

	now := time.Now()
	m.tasks[taskID] = &record{
		state:     types.TaskStatePending,
		createdAt: now,
		updatedAt: now,
	}
	m.mu.Unlock()

	m.emit(events.EventTaskInitialized, taskID, nil)
	return nil
}

// Transition moves a task to a new state after validating the edge against
// the legal-transition table. The transition is appended to the task's log
// before events are published; emission failures never roll it back.
func (m *StateMachine) Transition(taskID string, to types.TaskState, reason string, metadata map[string]string) error {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return errdefs.NotFound("task %s", taskID)
	}

	from := rec.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return errdefs.IllegalTransition("task %s: %s -> %s", taskID, from, to)
	}

	now := time.Now()
	rec.state = to
	rec.updatedAt = now
	switch to {
	case types.TaskStateRunning:
		if rec.startedAt.IsZero() {
			rec.startedAt = now
		}
	case types.TaskStateCompleted, types.TaskStateFailed, types.TaskStateCancelled:
		rec.completedAt = now
	}
	rec.history = append(rec.history, types.TaskTransition{
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Metadata:  metadata,
	})
	m.mu.Unlock()

	m.logger.Debug().
		Str("task_id", taskID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("task transitioned")

	meta := map[string]string{"from": string(from), "to": string(to)}
	if reason != "" {
		meta["reason"] = reason
	}
	m.emit(events.EventTaskTransition, taskID, meta)
	m.emit(events.TaskStateEvent(to), taskID, meta)
	return nil
}

// State returns the task's current state.
func (m *StateMachine) State(taskID string) (types.TaskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return "", errdefs.NotFound("task %s", taskID)
	}
	return rec.state, nil
}

// History returns a copy of the task's transition log, oldest first.
func (m *StateMachine) History(taskID string) ([]types.TaskTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return nil, errdefs.NotFound("task %s", taskID)
	}
	out := make([]types.TaskTransition, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

// TasksByState returns the ids of all tasks currently in the given state.
func (m *StateMachine) TasksByState(state types.TaskState) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.tasks {
		if rec.state == state {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsTerminal reports whether the task has reached a terminal state.
func (m *StateMachine) IsTerminal(taskID string) (bool, error) {
	state, err := m.State(taskID)
	if err != nil {
		return false, err
	}
	return state.Terminal(), nil
}

// Timestamps returns the lifecycle timestamps recorded for the task.
func (m *StateMachine) Timestamps(taskID string) (created, updated, started, completed time.Time, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		err = errdefs.NotFound("task %s", taskID)
		return
	}
	return rec.createdAt, rec.updatedAt, rec.startedAt, rec.completedAt, nil
}

// Clear evicts a task and its history. Needed for GC of terminal tasks;
// clearing an unknown task is a no-op.
func (m *StateMachine) Clear(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// ClearAll evicts every task.
func (m *StateMachine) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]*record)
}

// Count returns the number of tracked tasks.
func (m *StateMachine) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func (m *StateMachine) emit(t events.EventType, taskID string, metadata map[string]string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     t,
		TaskID:   taskID,
		Metadata: metadata,
	})
}
