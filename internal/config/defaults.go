package config

import (
	"os"
	"path/filepath"
	"runtime"

	"scad-studio/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		CompilerPath:         defaultCompilerPath(),
		ModelsDir:            filepath.Join(os.TempDir(), "scad-studio-models"),
		LibrariesDir:         filepath.Join(homeDir, ".scad-studio", "libraries"),
		ListenAddr:           ":5000",
		RenderTimeoutSeconds: 60,
		ViewerTargetSpan:     10,
	}
}

// defaultCompilerPath picks the conventional OpenSCAD location per OS,
// falling back to PATH lookup by bare name.
func defaultCompilerPath() string {
	switch runtime.GOOS {
	case "windows":
		return "openscad.exe"
	case "linux":
		if _, err := os.Stat("/usr/local/bin/openscad"); err == nil {
			return "/usr/local/bin/openscad"
		}
		return "openscad"
	default:
		return "openscad"
	}
}
