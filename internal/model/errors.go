package model

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("entity not found")

// ValidationError rejects a payload before any store write. Non-retryable
// without fixing the payload.
type ValidationError struct {
	Kind    Kind
	Field   string
	Reason  string
	KeyFail bool // true for KeyDerivationFailure, false for SchemaViolation
}

func (e *ValidationError) Error() string {
	if e.KeyFail {
		return fmt.Sprintf("key derivation failed for %s: %s", e.Kind, e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("schema violation on %s.%s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema violation on %s: %s", e.Kind, e.Reason)
}

// ConflictError is a duplicate-key race during insert. The canonical adapter
// retries it internally as an update; callers should never see it.
type ConflictError struct {
	Kind       Kind
	NaturalKey string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate key %s/%s during insert", e.Kind, e.NaturalKey)
}

// DependencyPending marks a graph edge whose target has not been projected
// yet. It is queued for the next projection pass, not treated as a failure.
type DependencyPending struct {
	Ref Reference
}

func (e *DependencyPending) Error() string {
	return fmt.Sprintf("edge %s -[%s]-> %s deferred: target not projected",
		e.Ref.SourceKey, e.Ref.EdgeType, e.Ref.TargetKey)
}

// StoreUnavailable wraps a connection or timeout failure for one store.
type StoreUnavailable struct {
	Store string
	Err   error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("store %s unavailable: %v", e.Store, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }
