package invoices

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

var (
	ErrNotFound          = fmt.Errorf("invoices: invoice not found: %w", httpx.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("invoices: invalid status transition: %w", httpx.ErrConflict)
	ErrNoItems           = fmt.Errorf("invoices: cannot issue invoice without items: %w", httpx.ErrValidation)
	ErrDuplicateNumber   = fmt.Errorf("invoices: invoice number already used: %w", httpx.ErrDuplicate)
	ErrOriginalNotFound  = fmt.Errorf("invoices: original invoice not found: %w", httpx.ErrValidation)
	ErrInvalidLink       = fmt.Errorf("invoices: payment link must be an http(s) url: %w", httpx.ErrValidation)
)

// TransitionError reports a status change outside the legal table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invoices: invalid status transition %s -> %s", e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == httpx.ErrConflict
}

// ProblemExtensions implements httpx.Extender.
func (e *TransitionError) ProblemExtensions() map[string]any {
	return map[string]any{"currentStatus": e.From, "nextStatus": e.To}
}

// ValidationErrors lists field problems, items prefixed "items[i]: ".
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "invoices: validation failed: " + strings.Join(v, "; ")
}

// Is matches httpx.ErrValidation.
func (v ValidationErrors) Is(target error) bool {
	return target == httpx.ErrValidation
}

// ProblemExtensions implements httpx.Extender.
func (v ValidationErrors) ProblemExtensions() map[string]any {
	return map[string]any{"errors": []string(v)}
}

// AsValidation extracts ValidationErrors from err.
func AsValidation(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	ok := errors.As(err, &v)
	return v, ok
}
