package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fawtara/fawtara/internal/compliance"
	jobmetrics "github.com/fawtara/fawtara/internal/jobs"
)

// BatchProcessor is the part of compliance.Processor the tasks drive.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (compliance.Result, error)
	Reap(ctx context.Context) (int, error)
}

// ComplianceJob handles the processing and reaping tasks.
type ComplianceJob struct {
	Processor BatchProcessor
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewComplianceJob initialises the compliance task handlers.
func NewComplianceJob(processor BatchProcessor, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComplianceJob {
	return &ComplianceJob{Processor: processor, Logger: logger, Metrics: metrics}
}

// HandleProcess drains up to MaxBatches batches, stopping early once a batch
// comes back short. Job failures live on the job rows; only configuration
// and storage errors fail the task.
func (j *ComplianceJob) HandleProcess(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Processor == nil {
		return errors.New("compliance process: handler not configured")
	}
	var payload ComplianceProcessPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.MaxBatches <= 0 {
		payload.MaxBatches = 1
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskComplianceProcess)
	var total compliance.Result
	var resultErr error
	defer func() {
		_ = tracker.End(resultErr)
	}()

	for i := 0; i < payload.MaxBatches; i++ {
		res, err := j.Processor.ProcessBatch(ctx)
		if err != nil {
			resultErr = err
			j.logger().Error("compliance batch failed", slog.Any("error", err))
			return resultErr
		}
		total.Processed += res.Processed
		total.Succeeded += res.Succeeded
		total.Failed += res.Failed
		if res.Short() || ctx.Err() != nil {
			break
		}
	}
	if total.Processed > 0 {
		j.logger().Info("compliance processing run",
			slog.String("result", total.String()),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// HandleReap requeues expired leases.
func (j *ComplianceJob) HandleReap(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Processor == nil {
		return errors.New("compliance reap: handler not configured")
	}
	tracker := j.Metrics.Track(TaskComplianceReap)
	_, err := j.Processor.Reap(ctx)
	if err != nil {
		j.logger().Error("compliance reap failed", slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *ComplianceJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
