package schema

import "strings"

// JobStatus is the lifecycle state of a job as reported by the job queue.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusExecuted  JobStatus = "executed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusEvicted   JobStatus = "evicted"
)

// ParseJobStatus accepts a status name in any letter case.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JobStatusPending, JobStatusExecuted, JobStatusFailed, JobStatusCancelled, JobStatusEvicted:
		return st, nil
	}
	return "", NewErrorf(ErrCodeInvalidStatus, "unknown job status %q", s)
}

// ExecContext is the ambient chain state visible to functions and conditions.
type ExecContext struct {
	BlockHeight uint64 `json:"block_height"`
	Timestamp   uint64 `json:"timestamp"` // unix seconds
	ChainID     string `json:"chain_id,omitempty"`
}

// Execution pairs a condition with the instructions it guards.
type Execution struct {
	Condition string `json:"condition"`
	Msgs      string `json:"msgs"`
}

// JobDefinition is the serialized job content the engine operates on. All
// fields are text, as stored in the job record.
type JobDefinition struct {
	Condition          string `json:"condition"`
	TerminateCondition string `json:"terminate_condition,omitempty"`
	Vars               string `json:"vars"`
	Msgs               string `json:"msgs"`
}

// SimulateResponse wraps a raw query response.
type SimulateResponse struct {
	Response string `json:"response"`
}
