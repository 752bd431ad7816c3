// Package tenant resolves the business a request acts for. Only the API-token
// path lives here; interactive session login is handled outside this service.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fawtara/fawtara/internal/platform/db"
	"github.com/fawtara/fawtara/internal/platform/httpx"
	"github.com/fawtara/fawtara/internal/shared"
)

// TokenHeader carries the caller's API token.
const TokenHeader = "X-API-Token"

// Token is an api_tokens row.
type Token struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	Name       string
}

// TokenStore looks tokens up by the hex SHA-256 of their value.
type TokenStore interface {
	FindActiveToken(ctx context.Context, tokenHash string) (Token, error)
}

// Repository is the Postgres TokenStore.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// FindActiveToken returns the non-revoked token with the given hash.
func (r *Repository) FindActiveToken(ctx context.Context, tokenHash string) (Token, error) {
	var t Token
	err := r.db.QueryRow(ctx, `
		SELECT id, business_id, name
		FROM api_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL
		LIMIT 1`, tokenHash).Scan(&t.ID, &t.BusinessID, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, shared.ErrInvalidToken
	}
	return t, err
}

// HashToken returns the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolver turns API tokens into request principals.
type Resolver struct {
	store  TokenStore
	logger *slog.Logger
}

// NewResolver constructs a resolver.
func NewResolver(store TokenStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Require rejects requests without a valid token and stores the principal in
// the request context otherwise.
func (res *Resolver) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(TokenHeader))
		if raw == "" {
			httpx.RespondError(w, shared.ErrInvalidToken)
			return
		}
		tok, err := res.store.FindActiveToken(r.Context(), HashToken(raw))
		if err != nil {
			if !errors.Is(err, shared.ErrInvalidToken) {
				res.logger.Error("resolve api token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{
			BusinessID: tok.BusinessID,
			Actor:      "token:" + tok.ID.String(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
