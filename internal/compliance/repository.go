package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fawtara/fawtara/internal/platform/db"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("compliance: job not found")

// Store is the job queue persistence.
type Store interface {
	// Claim atomically moves up to limit eligible jobs to running, oldest
	// first, and gives each a lease.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Job, error)
	MarkDone(ctx context.Context, id uuid.UUID, resp Response) error
	// MarkFailed records failure and increments attempts. A zero backoff parks
	// the job: it is not claimable again until requeued by hand.
	MarkFailed(ctx context.Context, id uuid.UUID, failure Failure, backoff time.Duration) error
	// ReapExpired fails running jobs whose lease is over and reschedules them
	// after backoff.
	ReapExpired(ctx context.Context, backoff time.Duration) (int, error)
	List(ctx context.Context, businessID uuid.UUID, limit int) ([]Job, error)
}

// Enqueue inserts a queued job on conn, usually the transaction that changed
// the invoice.
func Enqueue(ctx context.Context, conn db.DBTX, businessID, invoiceID uuid.UUID, jobType JobType) (uuid.UUID, error) {
	if !jobType.Valid() {
		return uuid.Nil, fmt.Errorf("compliance: unknown job type %q", jobType)
	}
	id := uuid.New()
	_, err := conn.Exec(ctx, `INSERT INTO compliance_jobs (id, business_id, invoice_id, job_type, status, attempts, next_run_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, NOW())`, id, businessID, invoiceID, string(jobType))
	if err != nil {
		return uuid.Nil, fmt.Errorf("compliance: enqueue: %w", err)
	}
	return id, nil
}

// PostgresStore implements Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Postgres store.
func NewStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const jobColumns = `id, business_id, invoice_id, job_type, status, attempts, last_error, failure_kind,
	response_status, response_body, response_at, next_run_at, lease_expires_at, created_at, updated_at`

// Claim implements Store. Selection and the status flip share a transaction;
// SKIP LOCKED keeps concurrent claimers off each other's rows.
func (s *PostgresStore) Claim(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []Job
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+jobColumns+`
			FROM compliance_jobs j
			WHERE j.status IN ('queued', 'failed')
			  AND j.next_run_at <= NOW()
			  AND NOT EXISTS (
			    SELECT 1 FROM compliance_jobs r
			    WHERE r.invoice_id = j.invoice_id AND r.job_type = j.job_type AND r.status = 'running')
			ORDER BY j.created_at ASC, j.id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("compliance: select claimable: %w", err)
		}
		candidates, err := collectJobs(rows)
		if err != nil {
			return err
		}
		picked := dedupeClaims(candidates)
		if len(picked) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(picked))
		for i, j := range picked {
			ids[i] = j.ID
		}
		rows, err = tx.Query(ctx, `UPDATE compliance_jobs
			SET status = 'running', lease_expires_at = NOW() + ($2::float8 * INTERVAL '1 second'), updated_at = NOW()
			WHERE id = ANY($1)
			RETURNING `+jobColumns, ids, lease.Seconds())
		if err != nil {
			return fmt.Errorf("compliance: mark running: %w", err)
		}
		claimed, err = collectJobs(rows)
		return err
	})
	if db.IsUniqueViolation(err) {
		// Another claimer took a job for the same invoice and type.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sortByCreated(claimed)
	return claimed, nil
}

// MarkDone implements Store.
func (s *PostgresStore) MarkDone(ctx context.Context, id uuid.UUID, resp Response) error {
	tag, err := s.pool.Exec(ctx, `UPDATE compliance_jobs
		SET status = 'done', response_status = $2, response_body = $3, response_at = NOW(),
		    last_error = NULL, failure_kind = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, resp.Status, resp.Body)
	if err != nil {
		return fmt.Errorf("compliance: mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed implements Store.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, failure Failure, backoff time.Duration) error {
	var status *int
	var body *string
	if failure.Response != nil {
		status = &failure.Response.Status
		body = &failure.Response.Body
	}
	var delay *float64
	if !failure.Permanent && backoff > 0 {
		secs := backoff.Seconds()
		delay = &secs
	}
	tag, err := s.pool.Exec(ctx, `UPDATE compliance_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = $2, failure_kind = $3,
		    response_status = COALESCE($4, response_status),
		    response_body = COALESCE($5, response_body),
		    response_at = CASE WHEN $4::int IS NULL THEN response_at ELSE NOW() END,
		    next_run_at = CASE WHEN $6::float8 IS NULL THEN NULL ELSE NOW() + ($6::float8 * INTERVAL '1 second') END,
		    lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1`, id, failure.Message, string(failure.Kind), status, body, delay)
	if err != nil {
		return fmt.Errorf("compliance: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ReapExpired implements Store.
func (s *PostgresStore) ReapExpired(ctx context.Context, backoff time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE compliance_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = 'lease expired', failure_kind = $1,
		    next_run_at = NOW() + ($2::float8 * INTERVAL '1 second'), lease_expires_at = NULL, updated_at = NOW()
		WHERE status = 'running' AND lease_expires_at < NOW()`, string(FailureLeaseExpired), backoff.Seconds())
	if err != nil {
		return 0, fmt.Errorf("compliance: reap: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, businessID uuid.UUID, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+`
		FROM compliance_jobs WHERE business_id = $1
		ORDER BY created_at DESC LIMIT $2`, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("compliance: list: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var j Job
		var jobType, status string
		if err := rows.Scan(&j.ID, &j.BusinessID, &j.InvoiceID, &jobType, &status, &j.Attempts,
			&j.LastError, &j.FailureKind, &j.ResponseStatus, &j.ResponseBody, &j.ResponseAt,
			&j.NextRunAt, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("compliance: scan job: %w", err)
		}
		j.Type = JobType(jobType)
		j.Status = JobStatus(status)
		out = append(out, j)
	}
	return out, rows.Err()
}
