/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors implements the pipeline's error taxonomy: the five
// categories a caller (CLI, runner, reconciler) needs to distinguish in
// order to decide whether to retry, surface an operator message, or treat
// a partition as terminal.
package errors

import (
	"fmt"
	"net/http"
	"strings"

	gfe "github.com/go-faster/errors"
)

// ErrorType classifies a failure by the category of remediation it expects.
type ErrorType string

const (
	// ErrorTypeConfig covers malformed or missing configuration: bad YAML,
	// failed validation, a query definition that does not exist.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTransport covers failures talking to the raw sink backend
	// (filesystem or object store) or the upstream report source.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeValidation covers payload/metadata mismatches discovered by
	// the validator (record count mismatch, unreadable payload).
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConsistency covers control-plane invariant violations: an
	// authority rule conflict, a missing partition state row that should
	// exist, a reconciliation plan that can't be reconciled.
	ErrorTypeConsistency ErrorType = "consistency"
	// ErrorTypeOperatorGuard covers a deliberate refusal of a bulk
	// operation pending operator confirmation (retry/mark-terminal
	// without filters or --force, backfill ranges over the threshold).
	ErrorTypeOperatorGuard ErrorType = "operator_guard"
)

// httpStatus mirrors each category to the status code an observability
// HTTP surface would report it as, even though the CLI itself never serves
// HTTP.
var httpStatus = map[ErrorType]int{
	ErrorTypeConfig:        http.StatusBadRequest,
	ErrorTypeTransport:     http.StatusBadGateway,
	ErrorTypeValidation:    http.StatusUnprocessableEntity,
	ErrorTypeConsistency:   http.StatusConflict,
	ErrorTypeOperatorGuard: http.StatusPreconditionRequired,
}

// PipelineError is the structured error value returned across package
// boundaries in this module.
type PipelineError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates a PipelineError with no underlying cause.
func New(t ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:       t,
		Message:    message,
		StatusCode: httpStatus[t],
	}
}

// Newf creates a PipelineError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *PipelineError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying cause to a new PipelineError of type t.
func Wrap(cause error, t ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:       t,
		Message:    message,
		StatusCode: httpStatus[t],
		Cause:      gfe.Wrap(cause, message),
	}
}

// Wrapf attaches an underlying cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *PipelineError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns the receiver.
func (e *PipelineError) WithDetails(details string) *PipelineError {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details string in place.
func (e *PipelineError) WithDetailsf(format string, args ...any) *PipelineError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Predefined constructors for the error paths spelled out in the component
// design: the validator's mismatch messages, the operator guard refusals,
// and transport failures against either raw sink backend.

func NewValidationError(message string) *PipelineError {
	return New(ErrorTypeValidation, message)
}

func NewValidationErrorf(format string, args ...any) *PipelineError {
	return Newf(ErrorTypeValidation, format, args...)
}

func NewTransportError(op string, cause error) *PipelineError {
	return Wrapf(cause, ErrorTypeTransport, "transport operation failed: %s", op)
}

func NewConfigError(message string) *PipelineError {
	return New(ErrorTypeConfig, message)
}

func NewConsistencyError(message string) *PipelineError {
	return New(ErrorTypeConsistency, message)
}

func NewOperatorGuardError(message string) *PipelineError {
	return New(ErrorTypeOperatorGuard, message)
}

// IsType reports whether err is a *PipelineError of the given type.
func IsType(err error, t ErrorType) bool {
	var pe *PipelineError
	if gfe.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

// GetType returns the category of err, or ErrorTypeConsistency if err is not
// a *PipelineError (an unclassified failure is treated as a consistency
// violation: something the caller did not expect to see at all).
func GetType(err error) ErrorType {
	var pe *PipelineError
	if gfe.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeConsistency
}

// GetStatusCode returns the HTTP-shaped status code for err.
func GetStatusCode(err error) int {
	var pe *PipelineError
	if gfe.As(err, &pe) {
		return pe.StatusCode
	}
	return http.StatusInternalServerError
}

// LogFields renders err as structured key/value pairs suitable for a zap
// SugaredLogger call or a log/slog attribute list.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}

	var pe *PipelineError
	if !gfe.As(err, &pe) {
		return fields
	}

	fields["error_type"] = string(pe.Type)
	fields["status_code"] = pe.StatusCode
	if pe.Details != "" {
		fields["error_details"] = pe.Details
	}
	if pe.Cause != nil {
		fields["underlying_error"] = pe.Cause.Error()
	}
	return fields
}

// Chain folds multiple errors (skipping nils) into one, joined with " -> ".
// It lets a caller that performs several independent state mutations
// surface every failure rather than just the first one.
func Chain(errs ...error) error {
	var nonNil []string
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err.Error())
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return gfe.New(nonNil[0])
	default:
		return gfe.New(strings.Join(nonNil, " -> "))
	}
}
