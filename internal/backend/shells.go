package backend

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var shellCache struct {
	once         sync.Once
	defaultShell string
}

// resolveDefaultShell returns the user's default shell. It checks the
// TERMHIVE_SHELL environment variable first (a bare command name or an
// absolute path), then $SHELL, then platform-specific detection.
func resolveDefaultShell() string {
	shellCache.once.Do(func() {
		if shell := resolveShellEnv("TERMHIVE_SHELL"); shell != "" {
			slog.Info("default shell from TERMHIVE_SHELL", "shell", shell)
			shellCache.defaultShell = shell
			return
		}
		if shell := os.Getenv("SHELL"); shell != "" {
			slog.Debug("default shell from $SHELL", "shell", shell)
			shellCache.defaultShell = shell
			return
		}
		shellCache.defaultShell = detectDefaultShell()
		slog.Debug("default shell from platform detection", "shell", shellCache.defaultShell)
	})
	return shellCache.defaultShell
}

// resolveShellEnv reads the named environment variable and resolves a
// bare command name to an absolute path via PATH lookup.
func resolveShellEnv(name string) string {
	val := os.Getenv(name)
	if val == "" {
		return ""
	}
	if filepath.IsAbs(val) {
		return val
	}
	abs, err := exec.LookPath(val)
	if err != nil {
		slog.Warn("failed to resolve shell from env", "env", name, "value", val, "error", err)
		return ""
	}
	return abs
}
