package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExecutableDir returns the directory where the current executable resides.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err == nil && strings.TrimSpace(exe) != "" {
		if resolved, resolveErr := filepath.EvalSymlinks(exe); resolveErr == nil && strings.TrimSpace(resolved) != "" {
			exe = resolved
		}
		return filepath.Dir(exe)
	}

	if wd, wdErr := os.Getwd(); wdErr == nil && strings.TrimSpace(wd) != "" {
		return wd
	}
	return "."
}

// ResolveRuntimePath resolves a runtime directory. Relative paths are taken
// from the working directory in development and from the executable directory otherwise.
func ResolveRuntimePath(raw string, fallbackSubdir string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		target = strings.TrimSpace(fallbackSubdir)
		if target == "" {
			return ExecutableDir()
		}
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	if wd, err := os.Getwd(); err == nil && isDevEnv() {
		return filepath.Clean(filepath.Join(wd, target))
	}
	return filepath.Clean(filepath.Join(ExecutableDir(), target))
}

func isDevEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SLIDECRAFT_ENV")))
	return v == "" || v == "development" || v == "dev"
}
