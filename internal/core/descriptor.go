package core

import "time"

// SourceKind tells which source a task came from.
type SourceKind string

const (
	KindStored   SourceKind = "stored"
	KindDeclared SourceKind = "declared"
)

// Descriptor is the read view of a task used for listing, ordering and routing
// bookkeeping back to the right source. It is never persisted.
type Descriptor struct {
	Kind         SourceKind
	ID           string
	Status       TaskStatus
	Enabled      string
	Expression   string
	Target       string
	NextRunAt    time.Time
	NextRunEpoch int64
	LastRunAt    *time.Time
	Description  string
	Task         *Task
}

// EnabledLabel renders a status as the "On"/"Off" label used in listings.
func EnabledLabel(s TaskStatus) string {
	if s == StatusEnabled {
		return "On"
	}
	return "Off"
}

// Describe wraps a task in a descriptor of the given kind.
func Describe(kind SourceKind, task *Task) Descriptor {
	next := task.NextRunAt()
	return Descriptor{
		Kind:         kind,
		ID:           task.ID(),
		Status:       task.Status(),
		Enabled:      EnabledLabel(task.Status()),
		Expression:   task.Expression(),
		Target:       task.Target(),
		NextRunAt:    next,
		NextRunEpoch: next.Unix(),
		LastRunAt:    task.LastRunAt(),
		Description:  task.Description(),
		Task:         task,
	}
}
