// Package registry implements the coordinator that owns all mutating
// variable operations: registration, validated updates, advisory
// optimization locks, observer fan-out, and usage/impact ingestion.
package registry

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("coordinator closed")

// Wire error codes. The bridge reconstructs the matching error kind from
// these, so a coordinator error keeps its identity across the runtime
// boundary.
const (
	CodeValidation      = "validation"
	CodeConstraint      = "constraint-violation"
	CodeNotFound        = "not-found"
	CodeNameTaken       = "name-taken"
	CodeAlreadyLocked   = "already-locked"
	CodeUnmetDependency = "unmet-dependency"
	CodeTimeout         = "timeout"
	CodeInternal        = "internal"
)

// ValidationError reports a type mismatch or an uncoercible value.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConstraintViolationError reports a value outside a declared constraint.
// It names the failed constraint and its bound.
type ConstraintViolationError struct {
	Constraint string
	Bound      any
	Value      any
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint %q violated: value %v does not satisfy bound %v", e.Constraint, e.Value, e.Bound)
}

// NotFoundError reports an unknown variable id or name.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("variable %q not found", e.Key)
}

// NameTakenError reports a duplicate registration.
type NameTakenError struct {
	Name string
}

func (e *NameTakenError) Error() string {
	return fmt.Sprintf("variable name %q already registered", e.Name)
}

// AlreadyLockedError reports lock contention and carries the current holder.
type AlreadyLockedError struct {
	VariableID string
	Holder     string
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("variable %s is locked by session %q", e.VariableID, e.Holder)
}

// UnmetDependencyError reports a declared dependency that no longer resolves.
type UnmetDependencyError struct {
	VariableID string
	Dependency string
}

func (e *UnmetDependencyError) Error() string {
	return fmt.Sprintf("variable %s depends on %q, which does not resolve", e.VariableID, e.Dependency)
}

// TimeoutError reports a cross-runtime call that exceeded its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out", e.Op)
}

// Code maps an error to its wire code.
func Code(err error) string {
	var (
		validation *ValidationError
		constraint *ConstraintViolationError
		notFound   *NotFoundError
		nameTaken  *NameTakenError
		locked     *AlreadyLockedError
		unmetDep   *UnmetDependencyError
		timeout    *TimeoutError
	)
	switch {
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &constraint):
		return CodeConstraint
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &nameTaken):
		return CodeNameTaken
	case errors.As(err, &locked):
		return CodeAlreadyLocked
	case errors.As(err, &unmetDep):
		return CodeUnmetDependency
	case errors.As(err, &timeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Details extracts the structured fields a wire error carries alongside its
// code, such as the lock holder or the violated constraint.
func Details(err error) map[string]string {
	var (
		constraint *ConstraintViolationError
		notFound   *NotFoundError
		nameTaken  *NameTakenError
		locked     *AlreadyLockedError
		unmetDep   *UnmetDependencyError
	)
	switch {
	case errors.As(err, &constraint):
		return map[string]string{
			"constraint": constraint.Constraint,
			"bound":      fmt.Sprint(constraint.Bound),
			"value":      fmt.Sprint(constraint.Value),
		}
	case errors.As(err, &notFound):
		return map[string]string{"key": notFound.Key}
	case errors.As(err, &nameTaken):
		return map[string]string{"name": nameTaken.Name}
	case errors.As(err, &locked):
		return map[string]string{"holder": locked.Holder, "variable": locked.VariableID}
	case errors.As(err, &unmetDep):
		return map[string]string{"dependency": unmetDep.Dependency, "variable": unmetDep.VariableID}
	default:
		return nil
	}
}

// FromCode reconstructs the error kind for a wire code. The bridge uses it
// so callers on the consumer side can errors.As against the same types the
// coordinator returns locally.
func FromCode(code, description string, details map[string]string) error {
	switch code {
	case CodeValidation:
		return &ValidationError{Reason: description}
	case CodeConstraint:
		return &ConstraintViolationError{
			Constraint: details["constraint"],
			Bound:      details["bound"],
			Value:      details["value"],
		}
	case CodeNotFound:
		return &NotFoundError{Key: details["key"]}
	case CodeNameTaken:
		return &NameTakenError{Name: details["name"]}
	case CodeAlreadyLocked:
		return &AlreadyLockedError{VariableID: details["variable"], Holder: details["holder"]}
	case CodeUnmetDependency:
		return &UnmetDependencyError{VariableID: details["variable"], Dependency: details["dependency"]}
	case CodeTimeout:
		return &TimeoutError{Op: details["op"]}
	default:
		return errors.New(description)
	}
}
