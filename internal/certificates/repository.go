package certificates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fawtara/fawtara/internal/platform/db"
	"github.com/fawtara/fawtara/internal/shared"
)

// Repository persists certificates.
type Repository interface {
	Insert(ctx context.Context, cert Certificate) error
	Get(ctx context.Context, businessID, id uuid.UUID) (Certificate, error)
	LatestActive(ctx context.Context, businessID uuid.UUID) (Certificate, error)
	List(ctx context.Context, businessID uuid.UUID) ([]Certificate, error)
	// Activate retires the business's current active certificate and
	// activates cert in one transaction.
	Activate(ctx context.Context, cert Certificate, actor string) error
	FlagReissue(ctx context.Context, cert Certificate, actor string) error
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const certificateColumns = `id, business_id, type, public_key, encrypted_private_key, private_key_iv,
	private_key_tag, csid, pcsid, certificate_pem, status, expires_at, reissue_required,
	activated_at, created_at`

// Insert stores a new draft certificate.
func (r *PostgresRepository) Insert(ctx context.Context, cert Certificate) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO certificates
		(id, business_id, type, public_key, encrypted_private_key, private_key_iv, private_key_tag, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		cert.ID, cert.BusinessID, cert.Type, cert.PublicKey,
		cert.PrivateKey.Ciphertext, cert.PrivateKey.IV, cert.PrivateKey.Tag, cert.Status)
	if err != nil {
		return fmt.Errorf("certificates: insert: %w", err)
	}
	return nil
}

// Get loads a certificate of the business.
func (r *PostgresRepository) Get(ctx context.Context, businessID, id uuid.UUID) (Certificate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+certificateColumns+`
		FROM certificates WHERE business_id = $1 AND id = $2`, businessID, id)
	cert, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Certificate{}, ErrNotFound
	}
	return cert, err
}

// LatestActive returns the most recently created active certificate that is
// not flagged for reissue.
func (r *PostgresRepository) LatestActive(ctx context.Context, businessID uuid.UUID) (Certificate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+certificateColumns+`
		FROM certificates
		WHERE business_id = $1 AND status = 'active' AND NOT reissue_required
		ORDER BY created_at DESC LIMIT 1`, businessID)
	cert, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Certificate{}, ErrNoActive
	}
	return cert, err
}

// List returns the business's certificates, newest first.
func (r *PostgresRepository) List(ctx context.Context, businessID uuid.UUID) ([]Certificate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+certificateColumns+`
		FROM certificates WHERE business_id = $1 ORDER BY created_at DESC`, businessID)
	if err != nil {
		return nil, fmt.Errorf("certificates: list: %w", err)
	}
	defer rows.Close()
	var out []Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

// Activate implements Repository.
func (r *PostgresRepository) Activate(ctx context.Context, cert Certificate, actor string) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE certificates SET status = 'retired'
			WHERE business_id = $1 AND status = 'active' AND id <> $2`, cert.BusinessID, cert.ID); err != nil {
			return fmt.Errorf("certificates: retire previous: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE certificates
			SET status = 'active', certificate_pem = $3, csid = $4, pcsid = $5, expires_at = $6, activated_at = NOW()
			WHERE business_id = $1 AND id = $2 AND status = 'draft'`,
			cert.BusinessID, cert.ID, cert.CertificatePEM, cert.CSID, cert.PCSID, cert.ExpiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotDraft
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			BusinessID: cert.BusinessID,
			Actor:      actor,
			Action:     shared.AuditCertActivated,
			Entity:     "certificate",
			EntityID:   cert.ID.String(),
		})
	})
	if db.IsUniqueViolation(err) {
		return ErrConcurrentActivation
	}
	return err
}

// FlagReissue marks cert as unusable until a new keypair is issued.
func (r *PostgresRepository) FlagReissue(ctx context.Context, cert Certificate, actor string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE certificates SET reissue_required = TRUE
			WHERE business_id = $1 AND id = $2`, cert.BusinessID, cert.ID); err != nil {
			return fmt.Errorf("certificates: flag reissue: %w", err)
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			BusinessID: cert.BusinessID,
			Actor:      actor,
			Action:     shared.AuditCertReissue,
			Entity:     "certificate",
			EntityID:   cert.ID.String(),
		})
	})
}

func scanCertificate(row pgx.Row) (Certificate, error) {
	var cert Certificate
	var status string
	err := row.Scan(&cert.ID, &cert.BusinessID, &cert.Type, &cert.PublicKey,
		&cert.PrivateKey.Ciphertext, &cert.PrivateKey.IV, &cert.PrivateKey.Tag,
		&cert.CSID, &cert.PCSID, &cert.CertificatePEM, &status, &cert.ExpiresAt,
		&cert.ReissueRequired, &cert.ActivatedAt, &cert.CreatedAt)
	if err != nil {
		return Certificate{}, err
	}
	cert.Status = Status(status)
	return cert, nil
}
