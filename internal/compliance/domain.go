// Package compliance is the durable queue of outbound submissions to the tax
// authority: enqueue, claim with a lease, execute, retry with backoff and
// reconcile the invoice on success.
package compliance

import (
	"time"

	"github.com/google/uuid"
)

// JobType selects the authority endpoint.
type JobType string

const (
	JobReport JobType = "report"
	JobClear  JobType = "clear"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobReport || t == JobClear
}

// JobStatus is the lifecycle state of a job row.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

// Job is one submission attempt series for an invoice. Rows are never deleted.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	BusinessID     uuid.UUID  `json:"businessId"`
	InvoiceID      uuid.UUID  `json:"invoiceId"`
	Type           JobType    `json:"jobType"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"lastError,omitempty"`
	FailureKind    *string    `json:"failureKind,omitempty"`
	ResponseStatus *int       `json:"responseStatus,omitempty"`
	ResponseBody   *string    `json:"-"`
	ResponseAt     *time.Time `json:"responseAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Document is the invoice data a job needs.
type Document struct {
	InvoiceID  uuid.UUID
	BusinessID uuid.UUID
	XML        string
}

// Response is the raw authority answer recorded on the job.
type Response struct {
	Status int
	Body   string
}

// Submission is a successful authority answer applied to the invoice.
type Submission struct {
	JobID      uuid.UUID
	InvoiceID  uuid.UUID
	BusinessID uuid.UUID
	Type       JobType
	Response   Response
}
