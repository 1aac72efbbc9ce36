// Package logging wires up slog for the orchestrator: tinted output on
// a terminal, JSON everywhere else, with one process-wide level knob.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level controls all loggers. Adjustable after Setup, so the serve
// command can apply the configured level once config is loaded.
var Level = new(slog.LevelVar)

// Setup installs the default slog logger on stderr: tint when attached
// to a terminal, JSON otherwise.
func Setup() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      Level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: Level,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// SetLevel sets the process-wide level.
func SetLevel(l slog.Level) {
	Level.Set(l)
}

// GetLevel reports the current level.
func GetLevel() slog.Level {
	return Level.Level()
}

// ParseLevel parses "debug", "info", "warn" or "error", any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}
