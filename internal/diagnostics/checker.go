// Package diagnostics validates the compiler executable and required
// filesystem paths at startup and on demand.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"scad-studio/internal/domain"
)

// Checker validates the external compiler and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkCompiler(settings.CompilerPath),
		c.checkDir("models_dir", "Models directory", settings.ModelsDir,
			"Choose a writable directory for render workspaces."),
		c.checkDir("libraries_dir", "Libraries directory", settings.LibrariesDir,
			"Choose a writable directory for uploaded library files."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkCompiler verifies the configured compiler executable. Bare names
// are resolved through PATH; explicit paths are checked directly.
func (c *Checker) checkCompiler(compilerPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "compiler",
		Name: "OpenSCAD compiler",
	}

	if strings.TrimSpace(compilerPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Compiler path is empty."
		item.Hint = "Set the OpenSCAD executable path in settings."
		return item
	}

	if !strings.ContainsAny(compilerPath, `/\`) {
		path, err := c.lookPath(compilerPath)
		if err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Compiler not found in PATH: %s", compilerPath)
			item.Hint = "Install OpenSCAD and ensure the binary is available on PATH."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", path)
		return item
	}

	info, err := c.stat(compilerPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, fs.ErrNotExist) {
			item.Message = fmt.Sprintf("Compiler does not exist: %s", compilerPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access compiler: %s", compilerPath)
		}
		item.Hint = "Install OpenSCAD or fix the configured path in settings."
		return item
	}
	if info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Compiler path is a directory: %s", compilerPath)
		item.Hint = "Point the setting at the OpenSCAD executable itself."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Compiler file found: %s", compilerPath)
	return item
}

// checkDir validates directory existence and write access.
func (c *Checker) checkDir(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = name + " is empty."
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = hint
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
