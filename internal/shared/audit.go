package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fawtara/fawtara/internal/platform/db"
)

// Audit actions written by the compliance core.
const (
	AuditInvoiceCreated = "invoice.created"
	AuditInvoiceStatus  = "invoice.status"
	AuditComplianceDone = "compliance.job.done"
	AuditCertActivated  = "certificate.activated"
	AuditCertReissue    = "certificate.reissue_required"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	BusinessID uuid.UUID
	Actor      string
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	At         time.Time
}

// RecordAudit appends the entry to audit_logs on conn, usually the
// transaction that made the change.
func RecordAudit(ctx context.Context, conn db.DBTX, log AuditLog) error {
	if conn == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	var businessID *uuid.UUID
	if log.BusinessID != uuid.Nil {
		businessID = &log.BusinessID
	}
	_, err = conn.Exec(ctx, `INSERT INTO audit_logs (business_id, actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		businessID, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
