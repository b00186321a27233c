package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal: it halts startup. Raised for a malformed
// threshold table or a feature-schema mismatch between the extractor
// and the loaded model artifact.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError builds a ConfigurationError from a format string.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TransientScoringFailure indicates the model capability timed out or
// was unavailable. The coordinator retries with backoff; after
// exhaustion the transaction is dead-lettered and its offset commits.
type TransientScoringFailure struct {
	TransactionID string
	Cause         error
}

func (e *TransientScoringFailure) Error() string {
	return fmt.Sprintf("transient scoring failure for transaction %s: %v", e.TransactionID, e.Cause)
}

func (e *TransientScoringFailure) Unwrap() error { return e.Cause }

// IsTransientScoringFailure reports whether err wraps a
// TransientScoringFailure.
func IsTransientScoringFailure(err error) bool {
	var t *TransientScoringFailure
	return errors.As(err, &t)
}

// InvalidTransitionError rejects an alert status regression. No state
// is changed.
type InvalidTransitionError struct {
	From AlertStatus
	To   AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid alert transition %s -> %s", e.From, e.To)
}

// ErrAlertNotFound is returned for status updates on transactions that
// never produced an alert.
var ErrAlertNotFound = errors.New("alert not found")

// ErrCorruptTransaction marks a message that failed structural
// validation. It is dead-lettered without retry.
var ErrCorruptTransaction = errors.New("corrupt transaction")
