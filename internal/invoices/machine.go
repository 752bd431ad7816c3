package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/shared"
)

type edge struct {
	// enqueue is the job a manual transition queues, empty for none.
	enqueue       compliance.JobType
	requiresItems bool
}

// transitions is the complete legal table; anything absent is rejected.
var transitions = map[Status]map[Status]edge{
	StatusDraft: {
		StatusIssued:   {enqueue: compliance.JobReport, requiresItems: true},
		StatusRejected: {},
	},
	StatusIssued: {
		StatusReported: {enqueue: compliance.JobReport},
		StatusCleared:  {enqueue: compliance.JobClear},
		StatusRejected: {},
	},
	StatusReported: {
		StatusCleared:  {enqueue: compliance.JobClear},
		StatusRejected: {},
	},
	StatusCleared:  {},
	StatusRejected: {},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Change describes an applied transition.
type Change struct {
	InvoiceID  string    `json:"invoiceId"`
	BusinessID string    `json:"businessId"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// ReconcileOutcome is what Reconcile did with a queue result.
type ReconcileOutcome string

const (
	OutcomeAdvanced ReconcileOutcome = "advanced"
	OutcomeAlready  ReconcileOutcome = "already"
	OutcomeKept     ReconcileOutcome = "kept"
)

// Machine is the only writer of invoice status.
type Machine struct {
	now func() time.Time
}

// NewMachine returns a machine using the wall clock.
func NewMachine() *Machine {
	return &Machine{now: time.Now}
}

// Transition applies a requested status change and queues the job the edge
// calls for. Illegal pairs fail with *TransitionError and change nothing.
func (m *Machine) Transition(ctx context.Context, tx TxRepository, inv Invoice, to Status, actor string) (Change, error) {
	return m.apply(ctx, tx, inv, to, actor, true)
}

// Reconcile moves inv towards target after a successful submission without
// queueing further jobs. A target already reached, or no longer reachable
// (e.g. the invoice was rejected meanwhile), leaves the status untouched.
func (m *Machine) Reconcile(ctx context.Context, tx TxRepository, inv Invoice, target Status, actor string) (ReconcileOutcome, *Change, error) {
	if inv.Status == target {
		return OutcomeAlready, nil, nil
	}
	if !CanTransition(inv.Status, target) {
		return OutcomeKept, nil, nil
	}
	change, err := m.apply(ctx, tx, inv, target, actor, false)
	if err != nil {
		return "", nil, err
	}
	return OutcomeAdvanced, &change, nil
}

func (m *Machine) apply(ctx context.Context, tx TxRepository, inv Invoice, to Status, actor string, enqueue bool) (Change, error) {
	e, ok := transitions[inv.Status][to]
	if !ok {
		return Change{}, &TransitionError{From: inv.Status, To: to}
	}
	if e.requiresItems {
		n, err := tx.CountItems(ctx, inv.ID)
		if err != nil {
			return Change{}, err
		}
		if n == 0 {
			return Change{}, ErrNoItems
		}
	}
	at := m.now().UTC()
	updated, err := tx.UpdateStatus(ctx, inv.BusinessID, inv.ID, inv.Status, to, at)
	if err != nil {
		return Change{}, err
	}
	if !updated {
		// Someone else moved the invoice since it was read.
		return Change{}, &TransitionError{From: inv.Status, To: to}
	}
	if err := tx.Audit(ctx, shared.AuditLog{
		BusinessID: inv.BusinessID,
		Actor:      actor,
		Action:     shared.AuditInvoiceStatus,
		Entity:     "invoice",
		EntityID:   inv.ID.String(),
		Meta:       map[string]any{"from": string(inv.Status), "to": string(to)},
		At:         at,
	}); err != nil {
		return Change{}, fmt.Errorf("invoices: audit transition: %w", err)
	}
	if enqueue && e.enqueue != "" {
		if err := tx.EnqueueJob(ctx, inv.BusinessID, inv.ID, e.enqueue); err != nil {
			return Change{}, err
		}
	}
	return Change{
		InvoiceID:  inv.ID.String(),
		BusinessID: inv.BusinessID.String(),
		From:       inv.Status,
		To:         to,
		Actor:      actor,
		At:         at,
	}, nil
}
