// Package script defines the contract with the external script evaluator
// that turns a document script into typesetting markup.
//
// The evaluator is a black box. It either returns a Document or fails with
// an evaluation error carrying the evaluator's diagnostics; nothing else in
// the pipeline runs for a script whose evaluation failed.
package script

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/quicktex/internal/errors"
)

// Document is the evaluated form of a script.
type Document interface {
	// Markup returns the document markup consumed by the typesetting engine.
	Markup() string
}

// Markup is a Document backed by literal markup text.
type Markup string

// Markup implements Document.
func (m Markup) Markup() string { return string(m) }

// Evaluator evaluates the script at path into a Document.
type Evaluator interface {
	Evaluate(ctx context.Context, path string) (Document, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, path string) (Document, error)

// Evaluate calls f(ctx, path).
func (f EvaluatorFunc) Evaluate(ctx context.Context, path string) (Document, error) {
	return f(ctx, path)
}

// BaseName returns the name used for a script's artifact: the file name
// with the script extension removed. ext may be a compound suffix such as
// ".tex.kts".
func BaseName(path, ext string) string {
	name := filepath.Base(path)
	if ext != "" && strings.HasSuffix(name, ext) && len(name) > len(ext) {
		return strings.TrimSuffix(name, ext)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// HasExtension reports whether path names a script with the given extension.
func HasExtension(path, ext string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ext) && len(name) > len(ext)
}

// CommandEvaluator runs an external interpreter with the script path as its
// last argument. Standard output is the document markup; standard error
// carries diagnostics.
type CommandEvaluator struct {
	command string
	args    []string
}

// NewCommandEvaluator creates an evaluator from a command line such as
// ["kotlinc", "-script"].
func NewCommandEvaluator(commandLine []string) (*CommandEvaluator, error) {
	if len(commandLine) == 0 || strings.TrimSpace(commandLine[0]) == "" {
		return nil, errors.Precondition("EVALUATOR_MISSING", "script evaluator command is empty", nil)
	}

	return &CommandEvaluator{
		command: commandLine[0],
		args:    append([]string(nil), commandLine[1:]...),
	}, nil
}

// Evaluate runs the interpreter on path and returns its output as Markup.
func (ce *CommandEvaluator) Evaluate(ctx context.Context, path string) (Document, error) {
	args := append(append([]string(nil), ce.args...), path)
	cmd := exec.CommandContext(ctx, ce.command, args...)
	cmd.Dir = filepath.Dir(path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Evaluation("EVAL_CANCELLED", "script evaluation was cancelled", ctx.Err()).WithPath(path)
		}

		diags := errors.FilterSeverity(errors.ParseDiagnostics(stderr.String()), errors.SeverityWarning)
		return nil, errors.Evaluation("EVAL_FAILED", "script failed to evaluate", err).
			WithPath(path).
			WithOutput(stderr.String()).
			WithDiagnostics(diags)
	}

	if strings.TrimSpace(stdout.String()) == "" {
		return nil, errors.Evaluation("NO_RESULT", "script does not return anything", nil).
			WithPath(path).
			WithOutput(stderr.String())
	}

	return Markup(stdout.String()), nil
}

// String describes the evaluator for logs.
func (ce *CommandEvaluator) String() string {
	return fmt.Sprintf("%s %s", ce.command, strings.Join(ce.args, " "))
}
