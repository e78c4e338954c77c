package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/conneroisu/quicktex/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const reportScript = "printf '%s' '\\documentclass{article}\\begin{document}Report\\end{document}'\n"

const brokenScript = "echo 'broken.kts:3:1: error: unresolved reference: sectoin' >&2\nexit 1\n"

type project struct {
	src, out string
	engine   string
	argsLog  string
}

func newProject(t *testing.T, mode testutils.EngineMode) *project {
	t.Helper()
	src, out := testutils.CreateTempProject(t)
	engine, argsLog := testutils.FakeEngine(t, t.TempDir(), mode)
	return &project{src: src, out: out, engine: engine, argsLog: argsLog}
}

func (p *project) args(extra ...string) []string {
	return append([]string{"-s", p.src, "-o", p.out, "-t", p.engine, "--evaluator", "/bin/sh"}, extra...)
}

func execute(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.ExecuteContext(ctx)
	return outBuf.String(), errBuf.String(), err
}

func TestOneShotBuild(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	testutils.CreateTestScript(t, p.src, "report.kts", reportScript)
	testutils.CreateTestScript(t, p.src, "broken.kts", brokenScript)

	for _, args := range [][]string{p.args(), append([]string{"build"}, p.args()...)} {
		stdout, stderr, err := execute(context.Background(), args...)
		require.NoError(t, err, stderr)

		assert.Contains(t, stdout, "Built 1 of 2 script(s)")
		assert.Contains(t, stdout, "1 failed")
		assert.Contains(t, stderr, "unresolved reference", "evaluation diagnostics are logged")

		data, err := os.ReadFile(filepath.Join(p.out, "report.pdf"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "Report")
		assert.NoFileExists(t, filepath.Join(p.out, "broken.pdf"))
	}

	assert.Len(t, testutils.EngineRuns(t, p.argsLog), 2, "one engine run per successful build invocation")
}

func TestOneShotCreatesOutputDirectory(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	testutils.CreateTestScript(t, p.src, "report.kts", reportScript)
	p.out = filepath.Join(p.out, "nested", "pdf")

	_, stderr, err := execute(context.Background(), p.args()...)
	require.NoError(t, err, stderr)
	assert.FileExists(t, filepath.Join(p.out, "report.pdf"))
}

func TestPreconditionFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *project) []string
		message string
	}{
		{
			name: "missing source",
			mutate: func(p *project) []string {
				p.src = filepath.Join(p.src, "missing")
				return p.args()
			},
			message: "doesn't exist",
		},
		{
			name: "missing engine",
			mutate: func(p *project) []string {
				p.engine = filepath.Join(t.TempDir(), "no-tectonic")
				return p.args()
			},
			message: "doesn't exist",
		},
		{
			name: "no source flag",
			mutate: func(p *project) []string {
				return []string{"-o", p.out, "-t", p.engine}
			},
			message: "source directory is required",
		},
		{
			name: "bad log level",
			mutate: func(p *project) []string {
				return p.args("--log-level", "loud")
			},
			message: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t, testutils.EngineSucceeds)
			testutils.CreateTestScript(t, p.src, "report.kts", reportScript)

			_, _, err := execute(context.Background(), tt.mutate(p)...)
			require.Error(t, err)
			assert.True(t, errors.IsPrecondition(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, testutils.EngineRuns(t, p.argsLog), "no build may start after a failed precondition")
		})
	}
}

func TestConfigShow(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	t.Setenv("QUICKTEX_ENGINE_TIMEOUT", "45s")

	cfgFile := filepath.Join(t.TempDir(), "quicktex.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("script:\n  extension: tex.kts\nlog:\n  format: json\n"), 0o644))

	stdout, _, err := execute(context.Background(), "config", "show", "--config", cfgFile, "-s", p.src, "-o", p.out, "-t", p.engine)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# config file: "+cfgFile)

	var shown struct {
		Source string `yaml:"source"`
		Engine struct {
			Path    string   `yaml:"path"`
			Args    []string `yaml:"args"`
			Timeout string   `yaml:"timeout"`
		} `yaml:"engine"`
		Script struct {
			Extension string   `yaml:"extension"`
			Command   []string `yaml:"command"`
		} `yaml:"script"`
		Log struct {
			Format string `yaml:"format"`
		} `yaml:"log"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))

	assert.Equal(t, p.src, shown.Source)
	assert.Equal(t, p.engine, shown.Engine.Path)
	assert.Equal(t, []string{"-c", "minimal"}, shown.Engine.Args)
	assert.Equal(t, "45s", shown.Engine.Timeout)
	assert.Equal(t, ".tex.kts", shown.Script.Extension)
	assert.Equal(t, []string{"kotlinc", "-script"}, shown.Script.Command)
	assert.Equal(t, "json", shown.Log.Format)
}

func TestRootRejectsStrayArguments(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	testutils.CreateTestScript(t, p.src, "report.kts", reportScript)

	_, _, err := execute(context.Background(), append([]string{"stray"}, p.args()...)...)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(p.out, "report.pdf"))

	_, _, err = execute(context.Background(), p.args("stray")...)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(p.out, "report.pdf"))
}

func TestConfigFileMissing(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	_, _, err := execute(context.Background(), append(p.args(), "--config", filepath.Join(t.TempDir(), "absent.yml"))...)
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(context.Background(), "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	stdout, _, err = execute(context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "quicktex ")

	_, _, err = execute(context.Background(), "version", "--format", "xml")
	assert.Error(t, err)
}

func TestWatchPolling(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)
	report := testutils.CreateTestScript(t, p.src, "report.kts", reportScript)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := execute(ctx, p.args("-w", "-p", "--interval", "20ms")...)
		done <- err
	}()

	target := filepath.Join(p.out, "report.pdf")
	testutils.WaitFor(t, 10*time.Second, func() bool {
		_, err := os.Stat(target)
		return err == nil
	}, "first scan should build the existing script")

	tmp := filepath.Join(p.src, "report.partial")
	require.NoError(t, os.WriteFile(tmp, []byte("printf '%s' 'Second edition'\n"), 0o644))
	require.NoError(t, os.Rename(tmp, report))

	testutils.WaitFor(t, 10*time.Second, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == "Second edition"
	}, "modified script should be rebuilt")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatchSubcommandEvents(t *testing.T) {
	p := newProject(t, testutils.EngineSucceeds)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := execute(ctx, append([]string{"watch"}, p.args()...)...)
		done <- err
	}()

	// Event mode builds nothing at startup; keep writing until the
	// subscription is live and a build lands.
	target := filepath.Join(p.out, "report.pdf")
	testutils.WaitFor(t, 10*time.Second, func() bool {
		testutils.CreateTestScript(t, p.src, "report.kts", reportScript)
		time.Sleep(50 * time.Millisecond)
		_, err := os.Stat(target)
		return err == nil
	}, "created script should be built")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
