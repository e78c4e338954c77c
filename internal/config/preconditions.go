package config

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/quicktex/internal/errors"
)

// CheckPreconditions verifies everything the build loop relies on and
// normalizes the paths in c to absolute form. The output directory is
// created when missing. Every failure is a precondition error.
func (c *Config) CheckPreconditions() error {
	source, err := checkSourceDir(c.Source)
	if err != nil {
		return err
	}

	out, err := prepareOutDir(c.Out)
	if err != nil {
		return err
	}

	engine, err := resolveEngine(c.Engine.Path)
	if err != nil {
		return err
	}

	c.Source = source
	c.Out = out
	c.Engine.Path = engine

	return nil
}

func checkSourceDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Precondition("SOURCE_INVALID", fmt.Sprintf("source directory %s is not a valid path", dir), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Precondition("SOURCE_MISSING", fmt.Sprintf("source directory %s doesn't exist", dir), nil)
		}
		return "", errors.Precondition("SOURCE_UNREADABLE", fmt.Sprintf("source directory %s is not readable", dir), err)
	}
	if !info.IsDir() {
		return "", errors.Precondition("SOURCE_NOT_DIR", fmt.Sprintf("source %s is not a directory", dir), nil)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", errors.Precondition("SOURCE_UNREADABLE", fmt.Sprintf("source directory %s is not readable", dir), err)
	}
	defer f.Close()

	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return "", errors.Precondition("SOURCE_UNREADABLE", fmt.Sprintf("source directory %s is not readable", dir), err)
	}

	return abs, nil
}

func prepareOutDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Precondition("OUT_INVALID", fmt.Sprintf("out directory %s is not a valid path", dir), err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", errors.Precondition("OUT_CREATE", fmt.Sprintf("out directory %s could not be created", dir), err)
	}

	probe, err := os.CreateTemp(abs, ".quicktex-probe-*")
	if err != nil {
		return "", errors.Precondition("OUT_NOT_WRITABLE", fmt.Sprintf("out directory %s is not writable", dir), err)
	}
	name := probe.Name()
	probe.Close()
	_ = os.Remove(name)

	return abs, nil
}

// resolveEngine accepts an existing file path, or a bare command name found
// on PATH.
func resolveEngine(path string) (string, error) {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return "", errors.Precondition("ENGINE_NOT_FILE", fmt.Sprintf("tectonic %s is a directory", path), nil)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", errors.Precondition("ENGINE_INVALID", fmt.Sprintf("tectonic %s is not a valid path", path), err)
		}
		return abs, nil
	}

	if !strings.ContainsRune(path, filepath.Separator) {
		if found, err := exec.LookPath(path); err == nil {
			return found, nil
		}
	}

	return "", errors.Precondition("ENGINE_MISSING", fmt.Sprintf("tectonic %s doesn't exist", path), nil)
}
