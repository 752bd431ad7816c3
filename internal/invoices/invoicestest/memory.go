// Package invoicestest provides an in-memory invoice repository for tests.
package invoicestest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/compliance/compliancetest"
	"github.com/fawtara/fawtara/internal/einvoice/ubl"
	"github.com/fawtara/fawtara/internal/invoices"
	"github.com/fawtara/fawtara/internal/shared"
)

type state struct {
	invoices map[uuid.UUID]invoices.Invoice
	items    map[uuid.UUID][]invoices.Item
	chains   map[uuid.UUID]invoices.Chain
	audits   []shared.AuditLog
	pending  []pendingJob
}

type pendingJob struct {
	business, invoice uuid.UUID
	jobType           compliance.JobType
}

func (s state) clone() state {
	c := state{
		invoices: make(map[uuid.UUID]invoices.Invoice, len(s.invoices)),
		items:    make(map[uuid.UUID][]invoices.Item, len(s.items)),
		chains:   make(map[uuid.UUID]invoices.Chain, len(s.chains)),
		audits:   append([]shared.AuditLog(nil), s.audits...),
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]invoices.Item(nil), v...)
	}
	for k, v := range s.chains {
		c.chains[k] = v
	}
	return c
}

// Repository implements invoices.Repository in memory. Transactions are
// serialized and roll back every change, queued jobs included, on error.
type Repository struct {
	mu      sync.Mutex
	state   state
	sellers map[uuid.UUID]ubl.Party
	jobs    *compliancetest.MemoryStore
	links   map[uuid.UUID]string
}

// NewRepository returns an empty repository that queues jobs on jobs.
func NewRepository(jobs *compliancetest.MemoryStore) *Repository {
	return &Repository{
		state: state{
			invoices: make(map[uuid.UUID]invoices.Invoice),
			items:    make(map[uuid.UUID][]invoices.Item),
			chains:   make(map[uuid.UUID]invoices.Chain),
		},
		sellers: make(map[uuid.UUID]ubl.Party),
		jobs:    jobs,
		links:   make(map[uuid.UUID]string),
	}
}

// SetSeller configures a business's seller party.
func (r *Repository) SetSeller(businessID uuid.UUID, p ubl.Party) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sellers[businessID] = p
}

// Audits returns recorded audit entries.
func (r *Repository) Audits() []shared.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.AuditLog(nil), r.state.audits...)
}

// Chain returns a business's chain head.
func (r *Repository) Chain(businessID uuid.UUID) invoices.Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.chains[businessID]
}

// Raw returns the stored invoice, XML included.
func (r *Repository) Raw(id uuid.UUID) (invoices.Invoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	return inv, ok
}

// Put stores inv and items directly, bypassing the service.
func (r *Repository) Put(inv invoices.Invoice, items []invoices.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.invoices[inv.ID] = inv
	r.state.items[inv.ID] = items
}

// WithTx implements invoices.Repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, invoices.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &txRepo{repo: r, state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	r.state.pending = nil
	for _, j := range tx.state.pending {
		if r.jobs != nil {
			r.jobs.Enqueue(j.business, j.invoice, j.jobType)
		}
	}
	return nil
}

// Get implements invoices.Repository.
func (r *Repository) Get(_ context.Context, businessID, id uuid.UUID) (invoices.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok || inv.BusinessID != businessID {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	inv.Items = append([]invoices.Item(nil), r.state.items[id]...)
	if link, ok := r.links[id]; ok {
		inv.PaymentLink = &link
	}
	return inv, nil
}

// List implements invoices.Repository.
func (r *Repository) List(_ context.Context, businessID uuid.UUID, filter invoices.ListFilter) ([]invoices.Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []invoices.Invoice
	for _, inv := range r.state.invoices {
		if inv.BusinessID != businessID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		all = append(all, inv)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].ICV > all[k].ICV })
	total := len(all)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return all[filter.Offset:end], total, nil
}

// NextNumber implements invoices.Repository.
func (r *Repository) NextNumber(_ context.Context, businessID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return nextNumber(r.state, businessID), nil
}

// SetPaymentLink implements invoices.Repository.
func (r *Repository) SetPaymentLink(_ context.Context, businessID, id uuid.UUID, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok || inv.BusinessID != businessID {
		return invoices.ErrNotFound
	}
	r.links[id] = link
	return nil
}

// Document implements invoices.Repository.
func (r *Repository) Document(_ context.Context, invoiceID uuid.UUID) (compliance.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[invoiceID]
	if !ok {
		return compliance.Document{}, invoices.ErrNotFound
	}
	if strings.TrimSpace(inv.XML) == "" {
		return compliance.Document{}, compliance.ErrMissingPayload
	}
	return compliance.Document{InvoiceID: inv.ID, BusinessID: inv.BusinessID, XML: inv.XML}, nil
}

// Seller implements invoices.Repository.
func (r *Repository) Seller(_ context.Context, businessID uuid.UUID) (ubl.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sellers[businessID], nil
}

func nextNumber(s state, businessID uuid.UUID) int64 {
	var highest int64
	for _, inv := range s.invoices {
		if inv.BusinessID != businessID {
			continue
		}
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, inv.Number)
		n, err := strconv.ParseInt(digits, 10, 64)
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}

type txRepo struct {
	repo  *Repository
	state state
}

func (t *txRepo) Seller(_ context.Context, businessID uuid.UUID) (ubl.Party, error) {
	return t.repo.sellers[businessID], nil
}

func (t *txRepo) LockChain(_ context.Context, businessID uuid.UUID) (invoices.Chain, error) {
	return t.state.chains[businessID], nil
}

func (t *txRepo) AdvanceChain(_ context.Context, businessID uuid.UUID, icv int64, hash string) error {
	t.state.chains[businessID] = invoices.Chain{LastICV: icv, LastHash: hash}
	return nil
}

func (t *txRepo) NextNumber(_ context.Context, businessID uuid.UUID) (int64, error) {
	return nextNumber(t.state, businessID), nil
}

func (t *txRepo) GetForUpdate(_ context.Context, businessID, id uuid.UUID) (invoices.Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok || inv.BusinessID != businessID {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	return inv, nil
}

func (t *txRepo) InsertInvoice(_ context.Context, inv invoices.Invoice) error {
	for _, existing := range t.state.invoices {
		if existing.BusinessID == inv.BusinessID && existing.Number == inv.Number {
			return invoices.ErrDuplicateNumber
		}
	}
	inv.Items = nil
	t.state.invoices[inv.ID] = inv
	return nil
}

func (t *txRepo) InsertItems(_ context.Context, items []invoices.Item) error {
	for _, it := range items {
		t.state.items[it.InvoiceID] = append(t.state.items[it.InvoiceID], it)
	}
	return nil
}

func (t *txRepo) CountItems(_ context.Context, invoiceID uuid.UUID) (int, error) {
	return len(t.state.items[invoiceID]), nil
}

func (t *txRepo) UpdateStatus(_ context.Context, businessID, id uuid.UUID, from, to invoices.Status, at time.Time) (bool, error) {
	inv, ok := t.state.invoices[id]
	if !ok || inv.BusinessID != businessID || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	inv.StatusChangedAt = &at
	t.state.invoices[id] = inv
	return true, nil
}

func (t *txRepo) StampSubmission(_ context.Context, id uuid.UUID, stamp invoices.SubmissionStamp) error {
	inv, ok := t.state.invoices[id]
	if !ok {
		return invoices.ErrNotFound
	}
	if stamp.ReportedAt != nil {
		inv.ReportedAt = stamp.ReportedAt
	}
	if stamp.ClearedAt != nil {
		inv.ClearedAt = stamp.ClearedAt
	}
	status, body := stamp.AuthorityStatus, stamp.LastResponse
	inv.AuthorityStatus = &status
	inv.AuthorityLastResponse = &body
	t.state.invoices[id] = inv
	return nil
}

func (t *txRepo) EnqueueJob(_ context.Context, businessID, invoiceID uuid.UUID, jobType compliance.JobType) error {
	t.state.pending = append(t.state.pending, pendingJob{business: businessID, invoice: invoiceID, jobType: jobType})
	return nil
}

func (t *txRepo) Audit(_ context.Context, log shared.AuditLog) error {
	t.state.audits = append(t.state.audits, log)
	return nil
}
