package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/authority"
	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/events"
	jobmetrics "github.com/fawtara/fawtara/internal/jobs"
	"github.com/fawtara/fawtara/internal/signing"
)

// ErrMissingPayload is returned by InvoiceSource when the invoice has no
// canonical document.
var ErrMissingPayload = errors.New("compliance: invoice has no xml payload")

// InvoiceSource gives the processor read access to documents and a way to
// apply successful submissions to invoices.
type InvoiceSource interface {
	LoadDocument(ctx context.Context, invoiceID uuid.UUID) (Document, error)
	RecordSubmission(ctx context.Context, sub Submission) error
}

// Signer signs a document with the business's active certificate.
type Signer interface {
	SignDocument(ctx context.Context, businessID uuid.UUID, xml string) (signing.Signed, error)
}

// Authority submits and validates payloads.
type Authority interface {
	Endpoint(jobType string) (string, error)
	Validate(ctx context.Context, payload string) (authority.Validation, error)
	Submit(ctx context.Context, endpoint, payload string) (authority.Response, error)
}

// Config tunes batch processing.
type Config struct {
	BatchSize    int
	RetryBackoff time.Duration
	Lease        time.Duration
}

// Result summarises one batch.
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Limit is the claim size the batch ran with.
	Limit int `json:"-"`
}

// Short reports whether the batch claimed fewer jobs than it asked for,
// meaning the queue had nothing more due.
func (r Result) Short() bool {
	return r.Processed == 0 || r.Processed < r.Limit
}

// Processor executes claimed jobs one after another.
type Processor struct {
	store     Store
	invoices  InvoiceSource
	signer    Signer
	authority Authority
	events    events.Publisher
	metrics   *jobmetrics.Metrics
	cfg       Config
	logger    *slog.Logger
}

// NewProcessor wires a processor. Zero config values take the defaults: batch
// of 5, 5 minute backoff, 10 minute lease.
func NewProcessor(store Store, invoices InvoiceSource, signer Signer, auth Authority, publisher events.Publisher, metrics *jobmetrics.Metrics, cfg Config, logger *slog.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     store,
		invoices:  invoices,
		signer:    signer,
		authority: auth,
		events:    publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessBatch claims one batch and runs every job in it. Job failures are
// recorded on the job and never returned; the error covers configuration and
// claim problems only.
func (p *Processor) ProcessBatch(ctx context.Context) (Result, error) {
	if _, err := p.authority.Endpoint(string(JobReport)); err != nil {
		return Result{}, err
	}
	jobs, err := p.store.Claim(ctx, p.cfg.BatchSize, p.cfg.Lease)
	if err != nil {
		return Result{}, err
	}
	res := Result{Processed: len(jobs), Limit: p.cfg.BatchSize}
	for _, job := range jobs {
		if p.runIsolated(ctx, job) {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	if len(jobs) > 0 {
		p.logger.Info("compliance batch processed",
			slog.Int("processed", res.Processed),
			slog.Int("succeeded", res.Succeeded),
			slog.Int("failed", res.Failed))
	}
	return res, nil
}

// Reap requeues running jobs whose lease expired.
func (p *Processor) Reap(ctx context.Context) (int, error) {
	n, err := p.store.ReapExpired(ctx, p.cfg.RetryBackoff)
	if err != nil {
		return 0, err
	}
	p.metrics.AddReaped(n)
	if n > 0 {
		p.logger.Warn("compliance leases expired", slog.Int("jobs", n))
	}
	return n, nil
}

func (p *Processor) runIsolated(ctx context.Context, job Job) (ok bool) {
	logger := p.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("invoice_id", job.InvoiceID.String()),
		slog.String("job_type", string(job.Type)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("compliance job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			p.recordFailure(ctx, logger, job, fail(FailureInternal, "unexpected error: %v", r))
			ok = false
		}
	}()

	sub, failure := p.execute(ctx, job)
	if failure != nil {
		p.recordFailure(ctx, logger, job, failure)
		return false
	}
	if err := p.invoices.RecordSubmission(ctx, sub); err != nil {
		p.recordFailure(ctx, logger, job, &Failure{Kind: FailureInternal, Message: err.Error(), Response: &sub.Response})
		return false
	}
	if err := p.store.MarkDone(ctx, job.ID, sub.Response); err != nil {
		// The invoice is already reconciled; the lease reaper will retry the
		// job and the authority deduplicates by document.
		logger.Error("mark compliance job done", slog.Any("error", err))
		return false
	}
	p.metrics.ObserveSubmission(string(job.Type), "done")
	p.publish(ctx, logger, events.SubjectJobDone, jobEvent(job, sub.Response.Status, ""))
	logger.Info("compliance job done", slog.Int("response_status", sub.Response.Status))
	return true
}

func (p *Processor) execute(ctx context.Context, job Job) (Submission, *Failure) {
	doc, err := p.invoices.LoadDocument(ctx, job.InvoiceID)
	switch {
	case errors.Is(err, ErrMissingPayload):
		return Submission{}, fail(FailureMissingPayload, "Missing XML payload")
	case err != nil:
		return Submission{}, fail(FailureInternal, "load invoice: %v", err)
	case strings.TrimSpace(doc.XML) == "":
		return Submission{}, fail(FailureMissingPayload, "Missing XML payload")
	}

	signed, err := p.signer.SignDocument(ctx, doc.BusinessID, doc.XML)
	switch {
	case errors.Is(err, signing.ErrNoActiveCertificate):
		return Submission{}, fail(FailureNoCertificate, "No active certificate")
	case errors.Is(err, certificates.ErrDecryption):
		f := fail(FailureDecryption, "Certificate private key failed integrity check; reissue required")
		f.Permanent = true
		return Submission{}, f
	case errors.Is(err, certificates.ErrConfiguration):
		f := fail(FailureConfiguration, "%v", err)
		f.Permanent = true
		return Submission{}, f
	case err != nil:
		return Submission{}, fail(FailureInternal, "sign: %v", err)
	}

	verdict, err := p.authority.Validate(ctx, signed.Payload)
	if err != nil {
		return Submission{}, fail(FailureTransport, "validator: %v", err)
	}
	if !verdict.OK {
		return Submission{}, fail(FailureValidation, "Validation failed: %s", strings.Join(verdict.Errors, "; "))
	}

	endpoint, err := p.authority.Endpoint(string(job.Type))
	if err != nil {
		return Submission{}, fail(FailureConfiguration, "%v", err)
	}
	resp, err := p.authority.Submit(ctx, endpoint, signed.Payload)
	if err != nil {
		return Submission{}, fail(FailureTransport, "%v", err)
	}
	recorded := Response{Status: resp.Status, Body: resp.Body}
	if !resp.OK {
		f := fail(FailureHTTP, "Authority error %d", resp.Status)
		f.Response = &recorded
		return Submission{}, f
	}
	return Submission{
		JobID:      job.ID,
		InvoiceID:  job.InvoiceID,
		BusinessID: doc.BusinessID,
		Type:       job.Type,
		Response:   recorded,
	}, nil
}

func (p *Processor) recordFailure(ctx context.Context, logger *slog.Logger, job Job, f *Failure) {
	backoff := p.cfg.RetryBackoff
	if f.Permanent {
		backoff = 0
	}
	if err := p.store.MarkFailed(ctx, job.ID, *f, backoff); err != nil {
		logger.Error("mark compliance job failed", slog.Any("error", err), slog.String("failure", f.Error()))
		return
	}
	p.metrics.ObserveSubmission(string(job.Type), string(f.Kind))
	status := 0
	if f.Response != nil {
		status = f.Response.Status
	}
	p.publish(ctx, logger, events.SubjectJobFailed, jobEvent(job, status, f.Message))
	logger.Warn("compliance job failed",
		slog.String("failure_kind", string(f.Kind)),
		slog.String("error", f.Message),
		slog.Int("attempts", job.Attempts+1))
}

func (p *Processor) publish(ctx context.Context, logger *slog.Logger, subject string, payload any) {
	if err := p.events.Publish(ctx, subject, payload); err != nil {
		logger.Warn("publish event", slog.String("subject", subject), slog.Any("error", err))
	}
}

// JobEvent is the payload of job outcome events.
type JobEvent struct {
	JobID          string `json:"jobId"`
	BusinessID     string `json:"businessId"`
	InvoiceID      string `json:"invoiceId"`
	JobType        string `json:"jobType"`
	ResponseStatus int    `json:"responseStatus,omitempty"`
	Error          string `json:"error,omitempty"`
}

func jobEvent(job Job, status int, msg string) JobEvent {
	return JobEvent{
		JobID:          job.ID.String(),
		BusinessID:     job.BusinessID.String(),
		InvoiceID:      job.InvoiceID.String(),
		JobType:        string(job.Type),
		ResponseStatus: status,
		Error:          msg,
	}
}

// String renders the result for logs and the CLI.
func (r Result) String() string {
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d", r.Processed, r.Succeeded, r.Failed)
}
