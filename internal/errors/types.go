// Package errors defines the error taxonomy of the build pipeline.
//
// Precondition errors are fatal and stop the process before any build runs.
// Evaluation and render errors belong to a single script: the build loop
// reports them and moves on to the next script.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents the category of a pipeline error.
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindEvaluation   Kind = "evaluation"
	KindRender       Kind = "render"
	KindInternal     Kind = "internal"
)

// Error is a structured pipeline error with context.
type Error struct {
	Kind        Kind
	Code        string
	Path        string
	Message     string
	Cause       error
	Output      string
	Diagnostics []Diagnostic
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path+":")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// Recoverable reports whether the build loop may continue after this error.
func (e *Error) Recoverable() bool {
	return e.Kind == KindEvaluation || e.Kind == KindRender
}

// Detail returns the diagnostic text to show an operator: the parsed
// diagnostics when there are any, otherwise the raw captured output.
func (e *Error) Detail() string {
	if len(e.Diagnostics) > 0 {
		lines := make([]string, 0, len(e.Diagnostics))
		for _, d := range e.Diagnostics {
			lines = append(lines, d.String())
		}
		return strings.Join(lines, "\n")
	}

	return strings.TrimSpace(e.Output)
}

// WithPath attaches the script or directory the error refers to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// WithOutput attaches captured process output.
func (e *Error) WithOutput(output string) *Error {
	e.Output = output

	return e
}

// WithDiagnostics attaches parsed diagnostics.
func (e *Error) WithDiagnostics(diags []Diagnostic) *Error {
	e.Diagnostics = diags

	return e
}

// Precondition creates a fatal error raised before the build loop starts.
func Precondition(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindPrecondition,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Evaluation creates an error for a script that did not yield a document.
func Evaluation(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindEvaluation,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Render creates an error for a failed engine invocation.
func Render(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindRender,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Internal creates an error that does not fit the other kinds.
func Internal(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsRecoverable checks if an error only affects a single script.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable()
	}

	return false
}

// IsPrecondition checks if an error must terminate the run.
func IsPrecondition(err error) bool {
	return KindOf(err) == KindPrecondition
}
