package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

func TestPrincipalRoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := ContextWithPrincipal(context.Background(), Principal{BusinessID: id, Actor: "token:ops"})

	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, p.BusinessID)
	require.Equal(t, "token:ops", p.Actor)

	_, ok = PrincipalFromContext(ContextWithPrincipal(context.Background(), Principal{}))
	require.False(t, ok)
	_, ok = PrincipalFromContext(context.Background())
	require.False(t, ok)
}

func TestNewPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 41, TotalPages: 3}, NewPagination(0, 0, 41))
	require.Equal(t, Pagination{Page: 2, PerPage: 10, Total: 0, TotalPages: 0}, NewPagination(2, 10, 0))
}

func TestErrorsMapToUnauthorized(t *testing.T) {
	require.True(t, errors.Is(ErrNoPrincipal, httpx.ErrUnauthorized))
	require.True(t, errors.Is(ErrInvalidToken, httpx.ErrUnauthorized))
}

type recordingConn struct {
	sql  string
	args []any
}

func (c *recordingConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql, c.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (c *recordingConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *recordingConn) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestRecordAudit(t *testing.T) {
	conn := &recordingConn{}
	business := uuid.New()
	err := RecordAudit(context.Background(), conn, AuditLog{
		BusinessID: business,
		Actor:      SystemActor,
		Action:     AuditInvoiceStatus,
		Entity:     "invoice",
		EntityID:   "inv-1",
		Meta:       map[string]any{"from": "issued", "to": "reported"},
	})
	require.NoError(t, err)
	require.Contains(t, conn.sql, "INSERT INTO audit_logs")
	require.Len(t, conn.args, 7)
	require.Equal(t, &business, conn.args[0])
	require.JSONEq(t, `{"from":"issued","to":"reported"}`, string(conn.args[5].([]byte)))
	require.Nil(t, conn.args[6])

	err = RecordAudit(context.Background(), conn, AuditLog{Action: AuditInvoiceStatus})
	require.Error(t, err)
	require.Error(t, RecordAudit(context.Background(), nil, AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
