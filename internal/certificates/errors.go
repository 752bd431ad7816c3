package certificates

import (
	"errors"
	"fmt"

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

var (
	// ErrConfiguration means the master key-encryption secret is missing or
	// shorter than MinSecretLength.
	ErrConfiguration = fmt.Errorf("certificates: KEY_ENCRYPTION_SECRET must be at least %d bytes: %w", MinSecretLength, httpx.ErrConfiguration)
	// ErrDecryption means a stored private key failed authenticated decryption.
	// Retrying cannot fix it; the certificate is flagged for reissue.
	ErrDecryption = errors.New("certificates: private key failed integrity check")

	ErrNotFound    = fmt.Errorf("certificates: certificate not found: %w", httpx.ErrNotFound)
	ErrNoActive    = fmt.Errorf("certificates: no active certificate: %w", httpx.ErrNotFound)
	ErrNotDraft    = fmt.Errorf("certificates: only draft certificates can be activated: %w", httpx.ErrConflict)
	ErrInvalidPEM  = fmt.Errorf("certificates: certificate pem is not a valid x509 certificate: %w", httpx.ErrValidation)
	ErrKeyMismatch = fmt.Errorf("certificates: certificate does not match the stored public key: %w", httpx.ErrValidation)
	ErrInvalidArgs = fmt.Errorf("certificates: invalid request: %w", httpx.ErrValidation)
)

// ErrConcurrentActivation is returned when another activation for the same
// business committed first.
var ErrConcurrentActivation = fmt.Errorf("certificates: concurrent activation: %w", httpx.ErrConflict)
