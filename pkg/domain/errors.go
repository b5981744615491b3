package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClassification is returned internally when the classifier cannot
	// produce a verdict. Callers of the classifier never see it.
	ErrClassification = errors.New("classification failed")

	// ErrQuotaExhausted signals a rate or quota limit from the backend. It is
	// the only retryable error.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrSchemaMismatch means a structured reply could not be parsed.
	ErrSchemaMismatch = errors.New("reply does not match schema")

	// ErrEntitlementDenied means the plan does not grant the requested tier.
	ErrEntitlementDenied = errors.New("tier not available on plan")

	// ErrBackend wraps any other backend failure.
	ErrBackend = errors.New("backend error")

	// ErrInvalidRequest is returned for malformed chat requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned for unknown sessions.
	ErrNotFound = errors.New("not found")
)

// EntitlementError reports an explicit request for a tier the plan does not
// include.
type EntitlementError struct {
	Plan    Plan
	TierKey string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("tier %q requires a subscription (plan %q)", e.TierKey, e.Plan)
}

func (e *EntitlementError) Unwrap() error { return ErrEntitlementDenied }
