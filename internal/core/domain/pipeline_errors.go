package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies stage failures for retry and reporting.
type ErrorKind string

const (
	KindPrecursorMissing ErrorKind = "precursor_missing"
	KindSchemaViolation  ErrorKind = "schema_violation"
	KindTransient        ErrorKind = "capability_transient"
	KindPermanent        ErrorKind = "capability_permanent"
	KindGateRejected     ErrorKind = "gate_rejected"
	KindContractNotFound ErrorKind = "contract_not_found"
	KindReviewRejected   ErrorKind = "review_rejected"
	KindInternal         ErrorKind = "internal"
)

// PrecursorMissingError means a stage was asked to run before its required
// upstream stages passed. It indicates an ordering bug and is never retried.
type PrecursorMissingError struct {
	Stage   StageName
	Missing []StageName
}

func (e *PrecursorMissingError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = string(m)
	}
	return fmt.Sprintf("stage %s: missing passed precursor(s): %s", e.Stage, strings.Join(names, ", "))
}

// SchemaViolationError means the capability output did not match the
// stage's output schema.
type SchemaViolationError struct {
	Stage    StageName
	Problems []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("stage %s: output schema violation: %s", e.Stage, strings.Join(e.Problems, "; "))
}

// MaxExtraRetries caps schema violations at one corrective retry.
func (e *SchemaViolationError) MaxExtraRetries() int { return 1 }

// CapabilityError is returned by generation capabilities. Transient errors
// (timeouts, rate limits, 5xx) are retried with backoff.
type CapabilityError struct {
	Transient bool
	Err       error
}

func (e *CapabilityError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err == nil {
		return "capability error (" + kind + ")"
	}
	return fmt.Sprintf("capability error (%s): %v", kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable capability error.
func Transient(err error) error { return &CapabilityError{Transient: true, Err: err} }

// Permanent wraps err as a non-retryable capability error.
func Permanent(err error) error { return &CapabilityError{Err: err} }

// GateRejectedError means the quality gate rejected an attempt.
type GateRejectedError struct {
	Stage    StageName
	Findings []string
}

func (e *GateRejectedError) Error() string {
	return fmt.Sprintf("stage %s: rejected by quality gate: %s", e.Stage, strings.Join(e.Findings, "; "))
}

// StageError is the final, unrecoverable classification of a stage failure
// handed to the orchestrator.
type StageError struct {
	Stage     StageName
	Kind      ErrorKind
	Attempts  int
	Telemetry Telemetry
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s) [%s]: %v", e.Stage, e.Attempts, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Reason is the human-readable failure reason recorded on the run.
func (e *StageError) Reason() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// IsTransient reports whether err is a transient capability error.
func IsTransient(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce) && ce.Transient
}

// IsPrecursorMissing reports whether err is a PrecursorMissingError.
func IsPrecursorMissing(err error) bool {
	var pe *PrecursorMissingError
	return errors.As(err, &pe)
}

// IsSchemaViolation reports whether err is a SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var se *SchemaViolationError
	return errors.As(err, &se)
}

// IsGateRejected reports whether err is a GateRejectedError.
func IsGateRejected(err error) bool {
	var ge *GateRejectedError
	return errors.As(err, &ge)
}

// Classify returns the error kind for err.
func Classify(err error) ErrorKind {
	var (
		se *StageError
		ce *CapabilityError
	)
	switch {
	case errors.As(err, &se):
		return se.Kind
	case IsPrecursorMissing(err):
		return KindPrecursorMissing
	case IsSchemaViolation(err):
		return KindSchemaViolation
	case IsGateRejected(err):
		return KindGateRejected
	case errors.Is(err, ErrContractNotFound):
		return KindContractNotFound
	case errors.As(err, &ce):
		if ce.Transient {
			return KindTransient
		}
		return KindPermanent
	default:
		return KindInternal
	}
}
