package shared

import (
	"fmt"

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

var (
	// ErrNoPrincipal occurs when a tenant-scoped call runs without a resolved business.
	ErrNoPrincipal = fmt.Errorf("no business in request context: %w", httpx.ErrUnauthorized)
	// ErrInvalidToken occurs when an API token is unknown or revoked.
	ErrInvalidToken = fmt.Errorf("invalid api token: %w", httpx.ErrUnauthorized)
)
