// Package renderer turns document markup into a PDF by piping it through
// the tectonic typesetting engine.
//
// The engine always writes its result as texput.pdf in the output directory,
// whatever the input. After a successful run the renderer renames that file
// to <base>.pdf, replacing any earlier artifact of the same name. A failing
// run never touches the target name.
package renderer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/script"
)

// DefaultArtifactName is the fixed file name the engine writes.
const DefaultArtifactName = "texput.pdf"

// ArtifactExt is the extension given to renamed artifacts.
const ArtifactExt = ".pdf"

// waitDelay bounds how long Wait keeps draining pipes after the engine has
// been killed by a timeout.
const waitDelay = 2 * time.Second

// Artifact describes the outcome of a render that did not fail.
type Artifact struct {
	// Path is the renamed artifact. Empty when Missing is set.
	Path string
	// Missing is set when the engine exited cleanly but wrote no
	// texput.pdf.
	Missing bool
	// Output is the engine's combined stdout and stderr.
	Output string
}

// Options configures a Renderer.
type Options struct {
	EnginePath string
	// Args precede "-o <dir> -". Defaults to "-c minimal".
	Args []string
	// Timeout bounds one engine run. Zero means no limit.
	Timeout time.Duration
	Logger  logging.Logger
}

// Renderer runs the typesetting engine for one document at a time.
type Renderer struct {
	enginePath string
	args       []string
	timeout    time.Duration
	logger     logging.Logger
}

// New creates a renderer for the engine described by opts.
func New(opts Options) *Renderer {
	args := opts.Args
	if args == nil {
		args = []string{"-c", "minimal"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Renderer{
		enginePath: opts.EnginePath,
		args:       append([]string(nil), args...),
		timeout:    opts.Timeout,
		logger:     logger.WithComponent("renderer"),
	}
}

// Command returns the engine invocation used for outDir.
func (r *Renderer) Command(outDir string) []string {
	cmdline := []string{r.enginePath}
	cmdline = append(cmdline, r.args...)
	return append(cmdline, "-o", outDir, "-")
}

// Render streams doc's markup into the engine and reconciles the fixed
// artifact name with baseName. Errors are of kind errors.KindRender.
func (r *Renderer) Render(ctx context.Context, doc script.Document, outDir, baseName string) (Artifact, error) {
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return Artifact{}, errors.Render("OUT_INVALID", "output directory is not a valid path", err).WithPath(outDir)
	}

	defaultPath := filepath.Join(absOut, DefaultArtifactName)
	targetPath := filepath.Join(absOut, baseName+ArtifactExt)

	// A texput.pdf left by an earlier run must not be mistaken for this
	// run's output.
	if err := removeIfExists(defaultPath); err != nil {
		return Artifact{}, errors.Render("STALE_ARTIFACT", "could not remove stale engine output", err).WithPath(defaultPath)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmdline := r.Command(absOut)
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Artifact{}, errors.Render("STDIN_PIPE", "could not open engine input", err)
	}

	r.logger.Debug(ctx, "Starting engine", "command", cmdline, "target", targetPath)

	if err := cmd.Start(); err != nil {
		return Artifact{}, errors.Render("ENGINE_START", "could not start engine", err).WithPath(r.enginePath)
	}

	_, writeErr := io.WriteString(stdin, doc.Markup())
	closeErr := stdin.Close()
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil && waitErr != nil:
		_ = removeIfExists(defaultPath)
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Artifact{}, errors.Render("ENGINE_TIMEOUT", "engine did not finish in time", ctx.Err()).
				WithOutput(output.String())
		}
		return Artifact{}, errors.Render("ENGINE_CANCELLED", "engine run was cancelled", ctx.Err()).
			WithOutput(output.String())
	case waitErr != nil:
		_ = removeIfExists(defaultPath)
		return Artifact{}, errors.Render("ENGINE_FAILED", "engine exited with an error", waitErr).
			WithOutput(output.String())
	case writeErr != nil:
		_ = removeIfExists(defaultPath)
		return Artifact{}, errors.Render("STDIN_WRITE", "could not stream document to engine", writeErr).
			WithOutput(output.String())
	case closeErr != nil:
		_ = removeIfExists(defaultPath)
		return Artifact{}, errors.Render("STDIN_WRITE", "could not close engine input", closeErr).
			WithOutput(output.String())
	}

	if _, err := os.Stat(defaultPath); err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug(ctx, "Engine produced no output", "expected", defaultPath)
			return Artifact{Missing: true, Output: output.String()}, nil
		}
		return Artifact{}, errors.Render("ARTIFACT_STAT", "could not inspect engine output", err).WithPath(defaultPath)
	}

	if err := os.Rename(defaultPath, targetPath); err != nil {
		return Artifact{}, errors.Render("ARTIFACT_RENAME", fmt.Sprintf("could not rename %s to %s", DefaultArtifactName, filepath.Base(targetPath)), err).
			WithPath(defaultPath)
	}

	return Artifact{Path: targetPath, Output: output.String()}, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
