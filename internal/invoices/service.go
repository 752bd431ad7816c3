// Package invoices owns invoice creation, the canonical document of each
// invoice, and the status state machine.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/einvoice/ubl"
	"github.com/fawtara/fawtara/internal/events"
	"github.com/fawtara/fawtara/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxLinkLength   = 2048
)

// Config carries service defaults.
type Config struct {
	// DefaultSeller fills seller fields a business has not configured.
	DefaultSeller ubl.Party
}

// Service implements invoice use cases.
type Service struct {
	repo     Repository
	machine  *Machine
	builder  *ubl.Builder
	events   events.Publisher
	validate *validator.Validate
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service. A nil publisher drops events.
func NewService(repo Repository, publisher events.Publisher, cfg Config, logger *slog.Logger) (*Service, error) {
	builder, err := ubl.NewBuilder(ubl.CurrentVersion)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		machine:  NewMachine(),
		builder:  builder,
		events:   publisher,
		validate: newValidator(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Create validates req, builds and chains the canonical document, persists
// invoice and items, and issues the invoice when requested.
func (s *Service) Create(ctx context.Context, p shared.Principal, req CreateRequest) (Invoice, error) {
	if err := validateCreate(s.validate, &req); err != nil {
		return Invoice{}, err
	}

	items := make([]Item, len(req.Items))
	for i, in := range req.Items {
		items[i] = ComputeItem(in)
	}
	totals := ComputeTotals(items, req.InvoiceType)
	now := s.now().UTC()
	issueDate := now
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}

	inv := Invoice{
		ID:         uuid.New(),
		BusinessID: p.BusinessID,
		Number:     req.InvoiceNumber,
		Type:       req.InvoiceType,
		IssueDate:  issueDate,
		Subtotal:   totals.Subtotal,
		VATAmount:  totals.VATAmount,
		Total:      totals.Total,
		Status:     StatusDraft,
		CreatedAt:  now,
		XMLVersion: s.builder.Version(),
	}
	if req.CustomerName != "" {
		inv.CustomerName = &req.CustomerName
	}
	if req.CustomerVAT != "" {
		inv.CustomerVAT = &req.CustomerVAT
	}
	if req.NoteReason != "" && inv.Type.IsNote() {
		inv.NoteReason = &req.NoteReason
	}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].InvoiceID = inv.ID
		items[i].Position = i + 1
	}

	var change *Change
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header := ubl.Header{
			IssueDate: issueDate,
			Kind:      ubl.DocumentKind(inv.Type),
			Subtotal:  inv.Subtotal,
			VATAmount: inv.VATAmount,
			Total:     inv.Total,
		}
		if inv.Type.IsNote() {
			original, err := tx.GetForUpdate(ctx, p.BusinessID, *req.OriginalInvoiceID)
			if errors.Is(err, ErrNotFound) {
				return ErrOriginalNotFound
			}
			if err != nil {
				return err
			}
			inv.OriginalInvoiceID = &original.ID
			header.BillingReference = original.Number
			header.NoteReason = req.NoteReason
		}

		sellerParty, err := tx.Seller(ctx, p.BusinessID)
		if err != nil {
			return err
		}
		header.Seller = s.fillSeller(sellerParty)
		if inv.CustomerName != nil || inv.CustomerVAT != nil {
			header.Buyer = &ubl.Party{Name: req.CustomerName, VAT: req.CustomerVAT}
		}

		chain, err := tx.LockChain(ctx, p.BusinessID)
		if err != nil {
			return err
		}
		if inv.Number == "" {
			n, err := tx.NextNumber(ctx, p.BusinessID)
			if err != nil {
				return err
			}
			inv.Number = FormatNumber(n)
		}
		inv.ICV = chain.LastICV + 1
		inv.PreviousHash = chain.LastHash
		if inv.PreviousHash == "" {
			inv.PreviousHash = ubl.GenesisHash
		}
		header.InvoiceNumber = inv.Number
		header.ICV = inv.ICV
		header.PreviousHash = inv.PreviousHash

		doc, err := s.builder.Build(header, toLines(items))
		if err != nil {
			return fmt.Errorf("invoices: build document: %w", err)
		}
		inv.DocumentUUID = uuid.MustParse(doc.DocumentID)
		inv.XML = doc.XML
		inv.Hash = ubl.Hash(doc.XML)

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return err
		}
		if err := tx.AdvanceChain(ctx, p.BusinessID, inv.ICV, inv.Hash); err != nil {
			return err
		}
		if err := tx.Audit(ctx, shared.AuditLog{
			BusinessID: p.BusinessID,
			Actor:      p.Actor,
			Action:     shared.AuditInvoiceCreated,
			Entity:     "invoice",
			EntityID:   inv.ID.String(),
			Meta:       map[string]any{"invoiceNumber": inv.Number, "icv": inv.ICV, "hash": inv.Hash},
			At:         now,
		}); err != nil {
			return err
		}
		if req.Status == StatusIssued {
			c, err := s.machine.Transition(ctx, tx, inv, StatusIssued, p.Actor)
			if err != nil {
				return err
			}
			inv.Status = c.To
			inv.StatusChangedAt = &c.At
			change = &c
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	s.logger.Info("invoice created",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("business_id", inv.BusinessID.String()),
		slog.Int64("icv", inv.ICV),
		slog.String("status", string(inv.Status)))
	if change != nil {
		s.publishChange(ctx, *change)
	}
	return inv, nil
}

// Transition applies a manual status change.
func (s *Service) Transition(ctx context.Context, p shared.Principal, id uuid.UUID, to Status) (Invoice, error) {
	to = Status(strings.TrimSpace(string(to)))
	if to == "" {
		return Invoice{}, ValidationErrors{"status is required"}
	}
	var inv Invoice
	var change Change
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetForUpdate(ctx, p.BusinessID, id)
		if err != nil {
			return err
		}
		change, err = s.machine.Transition(ctx, tx, inv, to, p.Actor)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = change.To
	inv.StatusChangedAt = &change.At
	s.logger.Info("invoice status changed",
		slog.String("invoice_id", id.String()),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)))
	s.publishChange(ctx, change)
	return inv, nil
}

// LoadDocument implements compliance.InvoiceSource.
func (s *Service) LoadDocument(ctx context.Context, invoiceID uuid.UUID) (compliance.Document, error) {
	return s.repo.Document(ctx, invoiceID)
}

// RecordSubmission implements compliance.InvoiceSource: it stamps the
// authority response and reconciles the status with the job's target.
func (s *Service) RecordSubmission(ctx context.Context, sub compliance.Submission) error {
	target := StatusReported
	if sub.Type == compliance.JobClear {
		target = StatusCleared
	}
	var change *Change
	var outcome ReconcileOutcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, sub.BusinessID, sub.InvoiceID)
		if err != nil {
			return err
		}
		outcome, change, err = s.machine.Reconcile(ctx, tx, inv, target, shared.SystemActor)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		stamp := SubmissionStamp{AuthorityStatus: string(target), LastResponse: sub.Response.Body}
		if target == StatusCleared {
			stamp.ClearedAt = &now
		} else {
			stamp.ReportedAt = &now
		}
		if err := tx.StampSubmission(ctx, inv.ID, stamp); err != nil {
			return err
		}
		return tx.Audit(ctx, shared.AuditLog{
			BusinessID: inv.BusinessID,
			Actor:      shared.SystemActor,
			Action:     shared.AuditComplianceDone,
			Entity:     "invoice",
			EntityID:   inv.ID.String(),
			Meta: map[string]any{
				"jobId":          sub.JobID.String(),
				"jobType":        string(sub.Type),
				"responseStatus": sub.Response.Status,
				"outcome":        string(outcome),
			},
			At: now,
		})
	})
	if err != nil {
		return err
	}
	if outcome == OutcomeKept {
		s.logger.Warn("submission accepted but invoice status kept",
			slog.String("invoice_id", sub.InvoiceID.String()),
			slog.String("target", string(target)))
	}
	if change != nil {
		s.publishChange(ctx, *change)
	}
	return nil
}

// NextNumber previews the next generated invoice number.
func (s *Service) NextNumber(ctx context.Context, businessID uuid.UUID) (string, error) {
	n, err := s.repo.NextNumber(ctx, businessID)
	if err != nil {
		return "", err
	}
	return FormatNumber(n), nil
}

// SetPaymentLink attaches an http(s) payment link. Status is not touched.
func (s *Service) SetPaymentLink(ctx context.Context, businessID, id uuid.UUID, link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return ValidationErrors{"link is required"}
	}
	u, err := url.Parse(link)
	if err != nil || len(link) > maxLinkLength || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidLink
	}
	return s.repo.SetPaymentLink(ctx, businessID, id, link)
}

// Get returns an invoice with its items.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (Invoice, error) {
	return s.repo.Get(ctx, businessID, id)
}

// List returns a page of invoices.
func (s *Service) List(ctx context.Context, businessID uuid.UUID, filter ListFilter) ([]Invoice, int, error) {
	if filter.Status != "" {
		if _, known := transitions[filter.Status]; !known {
			return nil, 0, ValidationErrors{"status is invalid"}
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	filter.Limit = min(filter.Limit, maxPageSize)
	filter.Offset = max(filter.Offset, 0)
	return s.repo.List(ctx, businessID, filter)
}

// QR returns the base64 TLV payload for the invoice's QR code.
func (s *Service) QR(ctx context.Context, businessID, id uuid.UUID) (string, error) {
	inv, err := s.repo.Get(ctx, businessID, id)
	if err != nil {
		return "", err
	}
	party, err := s.repo.Seller(ctx, businessID)
	if err != nil {
		return "", err
	}
	party = s.fillSeller(party)
	return ubl.QRPayload(ubl.QRFields{
		SellerName: party.Name,
		VATNumber:  party.VAT,
		Timestamp:  inv.CreatedAt.UTC().Format(time.RFC3339),
		Total:      inv.Total.StringFixed(2),
		VATAmount:  inv.VATAmount.StringFixed(2),
	})
}

// FormatNumber renders the generated invoice number for n.
func FormatNumber(n int64) string {
	return fmt.Sprintf("INV-%04d", n)
}

func (s *Service) fillSeller(p ubl.Party) ubl.Party {
	if p.Name == "" {
		p.Name = s.cfg.DefaultSeller.Name
	}
	if p.VAT == "" {
		p.VAT = s.cfg.DefaultSeller.VAT
	}
	return p
}

func (s *Service) publishChange(ctx context.Context, c Change) {
	if err := s.events.Publish(ctx, events.SubjectInvoiceStatus, c); err != nil {
		s.logger.Warn("publish status change", slog.Any("error", err), slog.String("invoice_id", c.InvoiceID))
	}
}

func toLines(items []Item) []ubl.Line {
	lines := make([]ubl.Line, len(items))
	for i, it := range items {
		l := ubl.Line{
			Description: it.Description,
			Quantity:    it.Qty,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
			VATRate:     it.VATRate,
			VATAmount:   it.VATAmount,
		}
		if it.UnitCode != nil {
			l.UnitCode = *it.UnitCode
		}
		if it.VATCategory != nil {
			l.VATCategory = *it.VATCategory
		}
		if it.VATExemptReason != nil {
			l.ExemptReason = *it.VATExemptReason
		}
		lines[i] = l
	}
	return lines
}
