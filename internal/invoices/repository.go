package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/einvoice/ubl"
	"github.com/fawtara/fawtara/internal/platform/db"
	"github.com/fawtara/fawtara/internal/shared"
)

// Chain is the head of a business's document chain.
type Chain struct {
	LastICV  int64
	LastHash string
}

// SubmissionStamp records an accepted submission on the invoice.
type SubmissionStamp struct {
	ReportedAt      *time.Time
	ClearedAt       *time.Time
	AuthorityStatus string
	LastResponse    string
}

// Repository provides invoice persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, businessID, id uuid.UUID) (Invoice, error)
	List(ctx context.Context, businessID uuid.UUID, filter ListFilter) ([]Invoice, int, error)
	NextNumber(ctx context.Context, businessID uuid.UUID) (int64, error)
	SetPaymentLink(ctx context.Context, businessID, id uuid.UUID, link string) error
	Document(ctx context.Context, invoiceID uuid.UUID) (compliance.Document, error)
	Seller(ctx context.Context, businessID uuid.UUID) (ubl.Party, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Seller(ctx context.Context, businessID uuid.UUID) (ubl.Party, error)
	// LockChain locks the business's counter row until commit.
	LockChain(ctx context.Context, businessID uuid.UUID) (Chain, error)
	AdvanceChain(ctx context.Context, businessID uuid.UUID, icv int64, hash string) error
	NextNumber(ctx context.Context, businessID uuid.UUID) (int64, error)
	// GetForUpdate loads the invoice header and locks its row.
	GetForUpdate(ctx context.Context, businessID, id uuid.UUID) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	InsertItems(ctx context.Context, items []Item) error
	CountItems(ctx context.Context, invoiceID uuid.UUID) (int, error)
	// UpdateStatus changes status only while it still equals from.
	UpdateStatus(ctx context.Context, businessID, id uuid.UUID, from, to Status, at time.Time) (bool, error)
	StampSubmission(ctx context.Context, id uuid.UUID, stamp SubmissionStamp) error
	EnqueueJob(ctx context.Context, businessID, invoiceID uuid.UUID, jobType compliance.JobType) error
	Audit(ctx context.Context, log shared.AuditLog) error
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction. Chain allocation relies on
// the counter row lock, which under repeatable read would abort the second of
// two concurrent writers instead of serializing them.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `id, business_id, invoice_number, invoice_type, original_invoice_id, note_reason,
	customer_name, customer_vat, issue_date, subtotal::text, vat_amount::text, total::text, status,
	status_changed_at, uuid, icv, invoice_hash, previous_hash, COALESCE(xml_payload, ''), xml_version,
	reported_at, cleared_at, zatca_status, zatca_last_response, payment_link, created_at`

const itemColumns = `id, invoice_id, position, description, qty::text, unit_price::text, line_total::text,
	vat_rate::text, vat_amount::text, vat_exempt_reason, unit_code, vat_category`

// Get loads an invoice with its items.
func (r *PostgresRepository) Get(ctx context.Context, businessID, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+`
		FROM invoices WHERE business_id = $1 AND id = $2`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+`
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, id)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

// List returns invoice headers, newest first, and the total count.
func (r *PostgresRepository) List(ctx context.Context, businessID uuid.UUID, filter ListFilter) ([]Invoice, int, error) {
	var status *string
	if filter.Status != "" {
		s := string(filter.Status)
		status = &s
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices
		WHERE business_id = $1 AND ($2::text IS NULL OR status = $2)`, businessID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("invoices: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+`
		FROM invoices
		WHERE business_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, businessID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("invoices: list: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// NextNumber returns the next numeric invoice suffix for the business.
func (r *PostgresRepository) NextNumber(ctx context.Context, businessID uuid.UUID) (int64, error) {
	return nextNumber(ctx, r.pool, businessID)
}

// SetPaymentLink stores the payment link of an invoice.
func (r *PostgresRepository) SetPaymentLink(ctx context.Context, businessID, id uuid.UUID, link string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET payment_link = $3 WHERE business_id = $1 AND id = $2`,
		businessID, id, link)
	if err != nil {
		return fmt.Errorf("invoices: set payment link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Document returns the canonical document of an invoice for submission.
func (r *PostgresRepository) Document(ctx context.Context, invoiceID uuid.UUID) (compliance.Document, error) {
	var doc compliance.Document
	var xml *string
	err := r.pool.QueryRow(ctx, `SELECT id, business_id, xml_payload FROM invoices WHERE id = $1`, invoiceID).
		Scan(&doc.InvoiceID, &doc.BusinessID, &xml)
	if errors.Is(err, pgx.ErrNoRows) {
		return compliance.Document{}, ErrNotFound
	}
	if err != nil {
		return compliance.Document{}, fmt.Errorf("invoices: load document: %w", err)
	}
	if xml == nil || *xml == "" {
		return doc, compliance.ErrMissingPayload
	}
	doc.XML = *xml
	return doc, nil
}

// Seller returns the business's seller identity.
func (r *PostgresRepository) Seller(ctx context.Context, businessID uuid.UUID) (ubl.Party, error) {
	return seller(ctx, r.pool, businessID)
}

func (t *txRepo) Seller(ctx context.Context, businessID uuid.UUID) (ubl.Party, error) {
	return seller(ctx, t.tx, businessID)
}

func (t *txRepo) LockChain(ctx context.Context, businessID uuid.UUID) (Chain, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO business_counters (business_id) VALUES ($1)
		ON CONFLICT (business_id) DO NOTHING`, businessID); err != nil {
		return Chain{}, fmt.Errorf("invoices: init counter: %w", err)
	}
	var c Chain
	var hash *string
	if err := t.tx.QueryRow(ctx, `SELECT last_icv, last_hash FROM business_counters
		WHERE business_id = $1 FOR UPDATE`, businessID).Scan(&c.LastICV, &hash); err != nil {
		return Chain{}, fmt.Errorf("invoices: lock counter: %w", err)
	}
	if hash != nil {
		c.LastHash = *hash
	}
	return c, nil
}

func (t *txRepo) AdvanceChain(ctx context.Context, businessID uuid.UUID, icv int64, hash string) error {
	_, err := t.tx.Exec(ctx, `UPDATE business_counters SET last_icv = $2, last_hash = $3, updated_at = NOW()
		WHERE business_id = $1`, businessID, icv, hash)
	if err != nil {
		return fmt.Errorf("invoices: advance counter: %w", err)
	}
	return nil
}

func (t *txRepo) NextNumber(ctx context.Context, businessID uuid.UUID) (int64, error) {
	return nextNumber(ctx, t.tx, businessID)
}

func (t *txRepo) GetForUpdate(ctx context.Context, businessID, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+`
		FROM invoices WHERE business_id = $1 AND id = $2 FOR UPDATE`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoices
		(id, business_id, invoice_number, invoice_type, original_invoice_id, note_reason,
		 customer_name, customer_vat, issue_date, subtotal, vat_amount, total, status,
		 uuid, icv, invoice_hash, previous_hash, xml_payload, xml_version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11::numeric,$12::numeric,$13,$14,$15,$16,$17,$18,$19,$20)`,
		inv.ID, inv.BusinessID, inv.Number, string(inv.Type), inv.OriginalInvoiceID, inv.NoteReason,
		inv.CustomerName, inv.CustomerVAT, inv.IssueDate, inv.Subtotal.String(), inv.VATAmount.String(),
		inv.Total.String(), string(inv.Status), inv.DocumentUUID, inv.ICV, inv.Hash, inv.PreviousHash,
		inv.XML, inv.XMLVersion, inv.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	if err != nil {
		return fmt.Errorf("invoices: insert: %w", err)
	}
	return nil
}

func (t *txRepo) InsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO invoice_items
			(id, invoice_id, position, description, qty, unit_price, line_total, vat_rate, vat_amount,
			 vat_exempt_reason, unit_code, vat_category)
			VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10,$11,$12)`,
			it.ID, it.InvoiceID, it.Position, it.Description, it.Qty.String(), it.UnitPrice.String(),
			it.LineTotal.String(), it.VATRate.String(), it.VATAmount.String(),
			it.VATExemptReason, it.UnitCode, it.VATCategory)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("invoices: insert items: %w", err)
	}
	return nil
}

func (t *txRepo) CountItems(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_items WHERE invoice_id = $1`, invoiceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("invoices: count items: %w", err)
	}
	return n, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, businessID, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $4, status_changed_at = $5
		WHERE business_id = $1 AND id = $2 AND status = $3`, businessID, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("invoices: update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) StampSubmission(ctx context.Context, id uuid.UUID, stamp SubmissionStamp) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices
		SET reported_at = COALESCE($2, reported_at), cleared_at = COALESCE($3, cleared_at),
		    zatca_status = $4, zatca_last_response = $5
		WHERE id = $1`, id, stamp.ReportedAt, stamp.ClearedAt, stamp.AuthorityStatus, stamp.LastResponse)
	if err != nil {
		return fmt.Errorf("invoices: stamp submission: %w", err)
	}
	return nil
}

func (t *txRepo) EnqueueJob(ctx context.Context, businessID, invoiceID uuid.UUID, jobType compliance.JobType) error {
	_, err := compliance.Enqueue(ctx, t.tx, businessID, invoiceID, jobType)
	return err
}

func (t *txRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

func nextNumber(ctx context.Context, conn db.DBTX, businessID uuid.UUID) (int64, error) {
	var next int64
	err := conn.QueryRow(ctx, `SELECT COALESCE(
			MAX(NULLIF(regexp_replace(invoice_number, '[^0-9]', '', 'g'), '')::bigint), 0) + 1
		FROM invoices WHERE business_id = $1`, businessID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("invoices: next number: %w", err)
	}
	return next, nil
}

func seller(ctx context.Context, conn db.DBTX, businessID uuid.UUID) (ubl.Party, error) {
	var p ubl.Party
	var vat *string
	err := conn.QueryRow(ctx, `SELECT name, vat_number FROM businesses WHERE id = $1`, businessID).Scan(&p.Name, &vat)
	if errors.Is(err, pgx.ErrNoRows) {
		return ubl.Party{}, nil
	}
	if err != nil {
		return ubl.Party{}, fmt.Errorf("invoices: load seller: %w", err)
	}
	if vat != nil {
		p.VAT = *vat
	}
	return p, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var typ, status string
	var subtotal, vat, total string
	var docUUID *uuid.UUID
	var icv *int64
	var hash, prev, version *string
	err := row.Scan(&inv.ID, &inv.BusinessID, &inv.Number, &typ, &inv.OriginalInvoiceID, &inv.NoteReason,
		&inv.CustomerName, &inv.CustomerVAT, &inv.IssueDate, &subtotal, &vat, &total, &status,
		&inv.StatusChangedAt, &docUUID, &icv, &hash, &prev, &inv.XML, &version,
		&inv.ReportedAt, &inv.ClearedAt, &inv.AuthorityStatus, &inv.AuthorityLastResponse,
		&inv.PaymentLink, &inv.CreatedAt)
	if err != nil {
		return Invoice{}, err
	}
	inv.Type = Type(typ)
	inv.Status = Status(status)
	if docUUID != nil {
		inv.DocumentUUID = *docUUID
	}
	if icv != nil {
		inv.ICV = *icv
	}
	if hash != nil {
		inv.Hash = *hash
	}
	if prev != nil {
		inv.PreviousHash = *prev
	}
	if version != nil {
		inv.XMLVersion = *version
	}
	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return Invoice{}, fmt.Errorf("invoices: subtotal: %w", err)
	}
	if inv.VATAmount, err = decimal.NewFromString(vat); err != nil {
		return Invoice{}, fmt.Errorf("invoices: vat amount: %w", err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return Invoice{}, fmt.Errorf("invoices: total: %w", err)
	}
	return inv, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var qty, price, lineTotal, rate, vat string
	if err := row.Scan(&it.ID, &it.InvoiceID, &it.Position, &it.Description, &qty, &price, &lineTotal,
		&rate, &vat, &it.VATExemptReason, &it.UnitCode, &it.VATCategory); err != nil {
		return Item{}, fmt.Errorf("invoices: scan item: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&it.Qty, qty}, {&it.UnitPrice, price}, {&it.LineTotal, lineTotal}, {&it.VATRate, rate}, {&it.VATAmount, vat}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Item{}, fmt.Errorf("invoices: item amount: %w", err)
		}
		*f.dst = d
	}
	return it, nil
}
