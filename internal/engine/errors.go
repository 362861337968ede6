package engine

import (
	"errors"
	"fmt"

	"adoptline/internal/db"
	"adoptline/internal/repo"
)

// ValidationError reports input or state the engine refuses to act on.
type ValidationError struct {
	Message string
	Field   string
	Value   any
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(v any) *ValidationError {
	e.Value = v
	return e
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// NotFoundError reports a missing plan, task, attribute or entitlement.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return target == repo.ErrNotFound
}

// ConflictError reports that another writer modified the plan concurrently.
// The caller may retry the whole operation.
type ConflictError struct {
	PlanID string
	Reason string
	cause  error
}

func (e *ConflictError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("plan %s was modified concurrently", e.PlanID)
	}
	return fmt.Sprintf("plan %s was modified concurrently: %s", e.PlanID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.cause }

func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}

// notFound converts repo.ErrNotFound into a NotFoundError for the resource.
func notFound(err error, resource, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NewNotFoundError(resource, id)
	}
	return err
}

// classify maps storage contention and version misses to ConflictError and
// leaves every other error untouched.
func classify(planID string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		return &ConflictError{PlanID: planID, Reason: "version changed", cause: err}
	}
	if db.IsContention(err) {
		return &ConflictError{PlanID: planID, Reason: "storage busy", cause: err}
	}
	return err
}
