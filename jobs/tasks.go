package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskComplianceProcess runs batches of due compliance jobs.
	TaskComplianceProcess = "compliance:process"
	// TaskComplianceReap requeues compliance jobs whose lease expired.
	TaskComplianceReap = "compliance:reap"
)

// ComplianceProcessPayload tunes one processing run.
type ComplianceProcessPayload struct {
	// MaxBatches bounds how many batches one task drains; zero means one.
	MaxBatches int `json:"maxBatches"`
}

// NewComplianceProcessTask constructs a processing task. Scheduled runs are
// unique per minute so a slow run never stacks up behind itself.
func NewComplianceProcessTask(payload ComplianceProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskComplianceProcess, data, asynq.MaxRetry(0), asynq.Unique(time.Minute)), nil
}

// NewComplianceReapTask constructs a lease reaper task.
func NewComplianceReapTask() *asynq.Task {
	return asynq.NewTask(TaskComplianceReap, nil, asynq.MaxRetry(0), asynq.Unique(time.Minute))
}
