package octoframe

import (
	"errors"
	"fmt"
)

// SchemaError is returned for unknown columns, duplicate column names and row count mismatches.
type SchemaError struct {
	Message string
	Cause   error
}

func NewSchemaError(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

func (e *SchemaError) Error() string { return formatError("schema error", e.Message, e.Cause) }
func (e *SchemaError) Unwrap() error { return e.Cause }

// TypeError is returned for incompatible operand types, invalid casts and unsupported aggregate inputs.
type TypeError struct {
	Message string
	Cause   error
}

func NewTypeError(format string, args ...interface{}) *TypeError {
	return &TypeError{Message: fmt.Sprintf(format, args...)}
}

func (e *TypeError) Error() string { return formatError("type error", e.Message, e.Cause) }
func (e *TypeError) Unwrap() error { return e.Cause }

// PlanError is returned for expressions used outside of their valid context and malformed plan nodes.
type PlanError struct {
	Message string
	Cause   error
}

func NewPlanError(format string, args ...interface{}) *PlanError {
	return &PlanError{Message: fmt.Sprintf(format, args...)}
}

func (e *PlanError) Error() string { return formatError("plan error", e.Message, e.Cause) }
func (e *PlanError) Unwrap() error { return e.Cause }

// ExecutionError wraps a failure raised by an operator while running a plan.
type ExecutionError struct {
	Operator string
	Message  string
	Cause    error
}

func NewExecutionError(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// ExecutionFailure wraps err as an ExecutionError raised by the given operator.
// Errors which already carry one of the engine's kinds are returned unchanged.
func ExecutionFailure(operator string, err error) error {
	if err == nil {
		return nil
	}
	if IsEngineError(err) {
		return err
	}
	return &ExecutionError{
		Operator: operator,
		Message:  "operator failed",
		Cause:    err,
	}
}

func (e *ExecutionError) Error() string {
	if e.Operator != "" {
		return formatError(fmt.Sprintf("execution error in %s", e.Operator), e.Message, e.Cause)
	}
	return formatError("execution error", e.Message, e.Cause)
}
func (e *ExecutionError) Unwrap() error { return e.Cause }

// CapacityError is returned when a chunk or a result would exceed the addressable limits
// of the engine's row index width, or the configured memory limit.
type CapacityError struct {
	Message string
	Cause   error
}

func NewCapacityError(format string, args ...interface{}) *CapacityError {
	return &CapacityError{Message: fmt.Sprintf(format, args...)}
}

func (e *CapacityError) Error() string { return formatError("capacity error", e.Message, e.Cause) }
func (e *CapacityError) Unwrap() error { return e.Cause }

func formatError(kind, message string, cause error) string {
	if cause != nil {
		return fmt.Sprintf("%s: %s: %s", kind, message, cause)
	}
	return fmt.Sprintf("%s: %s", kind, message)
}

func IsSchemaError(err error) bool {
	var target *SchemaError
	return errors.As(err, &target)
}

func IsTypeError(err error) bool {
	var target *TypeError
	return errors.As(err, &target)
}

func IsPlanError(err error) bool {
	var target *PlanError
	return errors.As(err, &target)
}

func IsExecutionError(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

func IsCapacityError(err error) bool {
	var target *CapacityError
	return errors.As(err, &target)
}

// IsEngineError reports whether err carries any of the engine's error kinds.
func IsEngineError(err error) bool {
	return IsSchemaError(err) || IsTypeError(err) || IsPlanError(err) || IsExecutionError(err) || IsCapacityError(err)
}
