// Package compliancetest provides an in-memory job store for tests.
package compliancetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/compliance"
)

// MemoryStore implements compliance.Store with the same claim rules as the
// Postgres store. Now drives every timestamp.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*compliance.Job
	Now  func() time.Time
	seq  time.Duration
}

// NewMemoryStore returns an empty store on a fixed clock.
func NewMemoryStore(now time.Time) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*compliance.Job),
		Now:  func() time.Time { return now },
	}
}

// Advance moves a fixed clock forward.
func (m *MemoryStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.Now().Add(d)
	m.Now = func() time.Time { return at }
}

// Enqueue adds a queued job. Jobs enqueued in the same instant keep their
// insertion order.
func (m *MemoryStore) Enqueue(businessID, invoiceID uuid.UUID, jobType compliance.JobType) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.seq += time.Microsecond
	created := now.Add(m.seq)
	job := &compliance.Job{
		ID:         uuid.New(),
		BusinessID: businessID,
		InvoiceID:  invoiceID,
		Type:       jobType,
		Status:     compliance.StatusQueued,
		NextRunAt:  &now,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	m.jobs[job.ID] = job
	return job.ID
}

// Insert stores job as given.
func (m *MemoryStore) Insert(job compliance.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.jobs[job.ID] = &j
}

// Job returns a copy of a stored job.
func (m *MemoryStore) Job(id uuid.UUID) (compliance.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return compliance.Job{}, false
	}
	return *j, true
}

// Jobs returns every job, oldest first.
func (m *MemoryStore) Jobs() []compliance.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

// Claim implements compliance.Store.
func (m *MemoryStore) Claim(_ context.Context, limit int, lease time.Duration) ([]compliance.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	type key struct {
		invoice uuid.UUID
		typ     compliance.JobType
	}
	busy := make(map[key]bool)
	for _, j := range m.jobs {
		if j.Status == compliance.StatusRunning {
			busy[key{j.InvoiceID, j.Type}] = true
		}
	}
	var out []compliance.Job
	for _, j := range m.sortedLocked() {
		if len(out) >= limit {
			break
		}
		if j.Status != compliance.StatusQueued && j.Status != compliance.StatusFailed {
			continue
		}
		if j.NextRunAt == nil || j.NextRunAt.After(now) {
			continue
		}
		k := key{j.InvoiceID, j.Type}
		if busy[k] {
			continue
		}
		busy[k] = true
		stored := m.jobs[j.ID]
		stored.Status = compliance.StatusRunning
		expires := now.Add(lease)
		stored.LeaseExpiresAt = &expires
		stored.UpdatedAt = now
		out = append(out, *stored)
	}
	return out, nil
}

// MarkDone implements compliance.Store.
func (m *MemoryStore) MarkDone(_ context.Context, id uuid.UUID, resp compliance.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return compliance.ErrJobNotFound
	}
	now := m.Now()
	j.Status = compliance.StatusDone
	j.ResponseStatus = &resp.Status
	body := resp.Body
	j.ResponseBody = &body
	j.ResponseAt = &now
	j.LastError = nil
	j.FailureKind = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

// MarkFailed implements compliance.Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, failure compliance.Failure, backoff time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return compliance.ErrJobNotFound
	}
	now := m.Now()
	j.Status = compliance.StatusFailed
	j.Attempts++
	msg := failure.Message
	j.LastError = &msg
	kind := string(failure.Kind)
	j.FailureKind = &kind
	if failure.Response != nil {
		status := failure.Response.Status
		body := failure.Response.Body
		j.ResponseStatus = &status
		j.ResponseBody = &body
		j.ResponseAt = &now
	}
	if failure.Permanent || backoff <= 0 {
		j.NextRunAt = nil
	} else {
		next := now.Add(backoff)
		j.NextRunAt = &next
	}
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

// ReapExpired implements compliance.Store.
func (m *MemoryStore) ReapExpired(_ context.Context, backoff time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	n := 0
	for _, j := range m.jobs {
		if j.Status != compliance.StatusRunning || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		j.Status = compliance.StatusFailed
		j.Attempts++
		msg := "lease expired"
		j.LastError = &msg
		kind := string(compliance.FailureLeaseExpired)
		j.FailureKind = &kind
		next := now.Add(backoff)
		j.NextRunAt = &next
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// List implements compliance.Store.
func (m *MemoryStore) List(_ context.Context, businessID uuid.UUID, limit int) ([]compliance.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedLocked()
	var out []compliance.Job
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].BusinessID == businessID {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) sortedLocked() []compliance.Job {
	out := make([]compliance.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}
