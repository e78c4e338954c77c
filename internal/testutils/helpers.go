// Package testutils holds fixtures shared by the package tests: temporary
// project trees, script files and a fake typesetting engine.
package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// EngineMode selects the behaviour of a fake engine.
type EngineMode int

const (
	// EngineSucceeds copies stdin into <out>/texput.pdf and exits 0.
	EngineSucceeds EngineMode = iota
	// EngineFails writes a diagnostic to stderr and exits 1.
	EngineFails
	// EngineFailsWithArtifact writes texput.pdf and then exits 1.
	EngineFailsWithArtifact
	// EngineSilent consumes stdin and exits 0 without producing anything.
	EngineSilent
	// EngineHangs sleeps far longer than any test timeout.
	EngineHangs
	// EngineIgnoresInput exits 0 without reading its input.
	EngineIgnoresInput
)

// RequireShell skips tests that need /bin/sh.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine requires /bin/sh")
	}
}

// CreateTempProject creates a temporary source and output directory pair.
func CreateTempProject(t *testing.T) (src, out string) {
	t.Helper()
	root := t.TempDir()
	src = filepath.Join(root, "src")
	out = filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(out, 0o755))
	return src, out
}

// CreateTestScript writes a script file, creating parent directories.
func CreateTestScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// FakeEngine writes a /bin/sh stand-in for tectonic into dir. Every call's
// arguments are appended, one line per run, to the returned log file.
func FakeEngine(t *testing.T, dir string, mode EngineMode) (enginePath, argsLog string) {
	t.Helper()
	RequireShell(t)

	argsLog = filepath.Join(dir, "engine-args.log")
	enginePath = filepath.Join(dir, "fake-tectonic")

	var body string
	switch mode {
	case EngineSucceeds:
		body = `cat > "$out/texput.pdf"`
	case EngineFails:
		body = "cat > /dev/null\necho '! Undefined control sequence.' >&2\nexit 1"
	case EngineFailsWithArtifact:
		body = "cat > \"$out/texput.pdf\"\necho '! Emergency stop.' >&2\nexit 1"
	case EngineSilent:
		body = "cat > /dev/null\nexit 0"
	case EngineHangs:
		body = "exec sleep 30"
	case EngineIgnoresInput:
		body = "exit 0"
	default:
		t.Fatalf("unknown engine mode %d", mode)
	}

	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
out=""
while [ $# -gt 0 ]; do
	case "$1" in
		-o) out="$2"; shift ;;
	esac
	shift
done
%s
`, argsLog, body)

	require.NoError(t, os.WriteFile(enginePath, []byte(script), 0o755))
	return enginePath, argsLog
}

// EngineRuns returns the recorded argument lines of a fake engine.
func EngineRuns(t *testing.T, argsLog string) []string {
	t.Helper()
	data, err := os.ReadFile(argsLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Fail(t, "condition not met before timeout", msgAndArgs...)
}
