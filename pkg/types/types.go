package types

import (
	"encoding/json"
	"time"
)

// Task is the unit of work tracked by the control plane.
type Task struct {
	ID        string
	Payload   []byte // Opaque; parsed only at the boundary
	Metadata  TaskMetadata
	State     TaskState
	CreatedAt time.Time
	UpdatedAt time.Time

	// Set on the corresponding transitions, zero until then
	StartedAt   time.Time
	CompletedAt time.Time
}

// TaskMetadata is the typed envelope around an opaque task payload.
type TaskMetadata struct {
	ContentType          string   `json:"contentType"`
	Encoding             string   `json:"encoding"`
	PriorityHint         Priority `json:"priorityHint"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
	Surface              string   `json:"surface"`
}

// Priority is the submitter's scheduling hint.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight orders priorities for queue draining. Unknown hints are treated
// as normal.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateQueued    TaskState = "queued"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateRunning   TaskState = "running"
	TaskStateSuspended TaskState = "suspended"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether no outgoing transitions exist from the state.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// TaskTransition is one entry in a task's append-only transition log.
type TaskTransition struct {
	From      TaskState
	To        TaskState
	Timestamp time.Time
	Reason    string
	Metadata  map[string]string
}

// Worker is a registered executor in the fleet.
type Worker struct {
	ID            string
	Capabilities  map[string]string // Capability name -> opaque descriptor
	Health        HealthState
	Saturation    float64 // Fraction of capacity in use, in [0,1]
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// HealthState is a worker's reported health.
type HealthState string

const (
	HealthUnhealthy HealthState = "unhealthy"
	HealthDegraded  HealthState = "degraded"
	HealthHealthy   HealthState = "healthy"
)

// Rank orders health states: unhealthy < degraded < healthy.
func (h HealthState) Rank() int {
	switch h {
	case HealthHealthy:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

// Valid reports whether h is one of the three known states.
func (h HealthState) Valid() bool {
	return h == HealthUnhealthy || h == HealthDegraded || h == HealthHealthy
}

// HasCapabilities reports whether the worker declares every named capability.
func (w *Worker) HasCapabilities(required []string) bool {
	for _, c := range required {
		if _, ok := w.Capabilities[c]; !ok {
			return false
		}
	}
	return true
}

// SnapshotData is the opaque checkpoint payload stored per snapshot version.
type SnapshotData struct {
	Checkpoint string            `json:"checkpoint"`
	Progress   float64           `json:"progress"`
	State      json.RawMessage   `json:"state,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TaskSnapshot is a versioned checkpoint of a task's execution state.
type TaskSnapshot struct {
	TaskID       string       `json:"taskId"`
	Version      int          `json:"snapshotVersion"`
	Data         SnapshotData `json:"snapshotData"`
	TTLExpiresAt time.Time    `json:"ttlExpiresAt"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Expired reports whether the snapshot's TTL has passed. Expiry is a closed
// interval: a snapshot at exactly its expiration instant is expired.
func (s *TaskSnapshot) Expired(now time.Time) bool {
	return !s.TTLExpiresAt.After(now)
}

// SnapshotMetadata describes a stored snapshot without its payload.
type SnapshotMetadata struct {
	TaskID       string    `json:"taskId"`
	Version      int       `json:"snapshotVersion"`
	Checkpoint   string    `json:"checkpoint"`
	Progress     float64   `json:"progress"`
	TTLExpiresAt time.Time `json:"ttlExpiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Decision is a worker's vote in an arbitration.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
	DecisionAbstain Decision = "abstain"
)

// PleadingDecision is a single worker's decision submitted for arbitration.
type PleadingDecision struct {
	ID         string
	WorkerID   string
	Decision   Decision
	Confidence float64 // In [0,1]
	Reasoning  string
	Evidence   []string
	Timestamp  time.Time
}

// ConsensusLevel labels how closely a set of pleadings agree.
type ConsensusLevel string

const (
	ConsensusUnanimous ConsensusLevel = "unanimous"
	ConsensusStrong    ConsensusLevel = "strong"
	ConsensusWeak      ConsensusLevel = "weak"
	ConsensusContested ConsensusLevel = "contested"
)

// DecisionTally aggregates the pleadings that landed in one category.
type DecisionTally struct {
	Count           int
	TotalConfidence float64
	Workers         []string
}

// ArbitrationResult is the coordinator's final verdict over N pleadings.
type ArbitrationResult struct {
	FinalDecision      Decision // Always approve or deny, never abstain
	Confidence         float64
	Reasoning          []string
	DecisionBreakdown  map[Decision]*DecisionTally
	ConsensusLevel     ConsensusLevel
	EscalationRequired bool
	ParticipantIDs     []string
}

// FailureSnapshot captures the supervisor's view of a failed attempt.
type FailureSnapshot struct {
	TaskID        string
	Attempt       int
	LastFailureAt time.Time
	Metadata      map[string]string
}

// RetryPlan is the supervisor's verdict after a recorded failure.
type RetryPlan struct {
	ShouldRetry bool
	RetryAfter  time.Duration
	Snapshot    FailureSnapshot
}
