package a2a

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the lifecycle states of a task.
type TaskState string

const (
	TaskSubmitted TaskState = "submitted"
	TaskWorking   TaskState = "working"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// validTransition encodes the task state machine. Canceled is reachable from
// submitted and working only.
func validTransition(from, to TaskState) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskSubmitted:
		return to == TaskWorking || to == TaskCanceled
	case TaskWorking:
		return to == TaskCompleted || to == TaskFailed || to == TaskCanceled
	}
	return false
}

// TaskStatus is the current state of a task with its transition timestamp.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

// Artifact is a named, structured task output.
type Artifact struct {
	ArtifactID string            `json:"artifactId"`
	Name       string            `json:"name"`
	Parts      []json.RawMessage `json:"parts,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// Task is a stateful unit of work tracked by the engine across one or more
// messages. History grows only by append and the status timestamp is
// monotonically non-decreasing.
type Task struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTask builds a task of the given kind in the submitted state.
func NewTask(kind string) *Task {
	return &Task{
		ID:   uuid.NewString(),
		Kind: kind,
		Status: TaskStatus{
			State:     TaskSubmitted,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Transition moves the task to the given state, enforcing the state machine
// and timestamp monotonicity. Transitioning a terminal task to its own state
// is a no-op so cancellation stays idempotent.
func (t *Task) Transition(state TaskState, now time.Time) error {
	if t.Status.State == state {
		return nil
	}
	if !validTransition(t.Status.State, state) {
		return ValidationError("invalid task transition %s -> %s", t.Status.State, state)
	}
	if now.Before(t.Status.Timestamp) {
		now = t.Status.Timestamp
	}
	t.Status = TaskStatus{State: state, Timestamp: now}
	return nil
}

// AppendHistory appends a message to the task history.
func (t *Task) AppendHistory(msg *Message) {
	t.History = append(t.History, msg)
}

// AddArtifact adds or replaces an artifact by id. When appendParts is set
// and the artifact already exists, the new parts are appended instead.
func (t *Task) AddArtifact(artifact Artifact, appendParts bool) {
	for i, existing := range t.Artifacts {
		if existing.ArtifactID != artifact.ArtifactID {
			continue
		}
		if appendParts {
			t.Artifacts[i].Parts = append(t.Artifacts[i].Parts, artifact.Parts...)
		} else {
			t.Artifacts[i] = artifact
		}
		return
	}
	t.Artifacts = append(t.Artifacts, artifact)
}
