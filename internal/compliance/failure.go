package compliance

import "fmt"

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureMissingPayload FailureKind = "missing_payload"
	FailureNoCertificate  FailureKind = "no_certificate"
	FailureDecryption     FailureKind = "decryption"
	FailureValidation     FailureKind = "validation"
	FailureHTTP           FailureKind = "http"
	FailureTransport      FailureKind = "transport"
	FailureConfiguration  FailureKind = "configuration"
	FailureInternal       FailureKind = "internal"
	FailureLeaseExpired   FailureKind = "lease_expired"
)

// Failure is the structured result of a failed job step.
type Failure struct {
	Kind     FailureKind
	Message  string
	Response *Response
	// Permanent failures are parked instead of rescheduled: retrying cannot
	// succeed until someone intervenes (e.g. a certificate reissue).
	Permanent bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func fail(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
