package models

import (
	"time"
)

// Job status lifecycle: queued -> running -> completed | failed.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Analysis job kinds. Each kind is resolved by its own producer.
const (
	KindScan       = "scan"
	KindBytecode   = "bytecode"
	KindSimulation = "simulation"
)

// Priority classes. Higher classes are admitted sooner.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Subject identifies the target of an analysis. Opaque to the engine.
type Subject struct {
	Address string `json:"address"`
	Block   string `json:"block,omitempty"`
}

// Result is the payload a producer returns on success. The engine stores it
// without interpreting anything beyond the Success flag, which feeds the
// stats success rate.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
}

// Job represents an analysis task held in the in-memory store.
type Job struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Subject      Subject        `json:"subject"`
	Priority     string         `json:"priority"`
	Status       string         `json:"status"`
	Progress     int            `json:"progress"`
	CurrentStage string         `json:"current_stage,omitempty"`
	Attempts     int            `json:"attempts"`
	Params       map[string]any `json:"params,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	Error        *string        `json:"error,omitempty"`
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ValidKind reports whether k names a known job kind.
func ValidKind(k string) bool {
	switch k {
	case KindScan, KindBytecode, KindSimulation:
		return true
	}
	return false
}

// ValidPriority reports whether p names a known priority class.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// PriorityRank orders classes for admission; lower ranks are served first.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Priorities lists all classes in admission order.
func Priorities() []string {
	return []string{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// Kinds lists all known job kinds.
func Kinds() []string {
	return []string{KindScan, KindBytecode, KindSimulation}
}

// Clone returns a deep copy safe to hand to callers.
func (j Job) Clone() Job {
	out := j
	if j.Params != nil {
		out.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			out.Params[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Result != nil {
		r := Result{Success: j.Result.Success}
		if j.Result.Data != nil {
			r.Data = make(map[string]any, len(j.Result.Data))
			for k, v := range j.Result.Data {
				r.Data[k] = v
			}
		}
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
