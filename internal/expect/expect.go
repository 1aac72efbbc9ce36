// Package expect drives a polling read loop over a pane's screen
// until one of a list of patterns matches or a timeout elapses.
package expect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/termhive/termhive/internal/metrics"
)

// Defaults used when options are zero.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultWindowLines  = 200
)

// ErrInvalidArgs is returned for an empty pattern list, a list with
// only a timeout sentinel, more than one sentinel, or a bad regex.
var ErrInvalidArgs = errors.New("invalid expect arguments")

// TimeoutError is returned when no pattern matched and no timeout
// sentinel was supplied.
type TimeoutError struct {
	Timeout  time.Duration
	Patterns []string
	Output   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("expect timed out after %s waiting for %v", e.Timeout, e.Patterns)
}

type patternKind int

const (
	kindRegex patternKind = iota
	kindLiteral
	kindTimeout
)

// Pattern is one entry in an expect list: a regex, a literal
// substring, or a timeout sentinel.
type Pattern struct {
	kind    patternKind
	raw     string
	seconds float64
}

// Regex matches the screen against a regular expression.
func Regex(expr string) Pattern { return Pattern{kind: kindRegex, raw: expr} }

// Literal matches the screen against a plain substring.
func Literal(s string) Pattern { return Pattern{kind: kindLiteral, raw: s} }

// Timeout caps the effective wait; at most one sentinel is allowed.
// When it fires, Expect returns a result instead of an error.
func Timeout(seconds float64) Pattern {
	return Pattern{kind: kindTimeout, raw: "timeout", seconds: seconds}
}

// String returns the pattern's source text.
func (p Pattern) String() string { return p.raw }

// Result reports what matched.
type Result struct {
	MatchedPattern string
	MatchIndex     int
	FullOutput     string
	MatchedText    string
	BeforeText     string
	MatchGroups    []string
	TimedOut       bool
}

// ScreenReader is the backend slice the engine polls.
type ScreenReader interface {
	ReadScreen(ctx context.Context, paneID string, maxLines int) (string, error)
}

// Options tunes one expect call. Zero values take the defaults.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	WindowLines  int
}

// Engine polls a pane's screen for patterns.
type Engine struct {
	reader         ScreenReader
	defaultTimeout time.Duration
	pollInterval   time.Duration
	windowLines    int
	promptPatterns []string
}

// EngineOptions configures engine-wide defaults.
type EngineOptions struct {
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	WindowLines    int
	// PromptPatterns are the regexes WaitForPrompt scans for. Empty
	// means a standard shell prompt set.
	PromptPatterns []string
}

// NewEngine builds an engine over a screen reader.
func NewEngine(reader ScreenReader, opts EngineOptions) *Engine {
	e := &Engine{
		reader:         reader,
		defaultTimeout: opts.DefaultTimeout,
		pollInterval:   opts.PollInterval,
		windowLines:    opts.WindowLines,
		promptPatterns: opts.PromptPatterns,
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = DefaultTimeout
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	if e.windowLines <= 0 {
		e.windowLines = DefaultWindowLines
	}
	if len(e.promptPatterns) == 0 {
		e.promptPatterns = []string{`[$#%>]\s*$`, `\$\s*$`}
	}
	return e
}

type compiledPattern struct {
	index   int
	literal string
	re      *regexp.Regexp
}

// compile validates the pattern list and splits out the sentinel.
func compile(patterns []Pattern) ([]compiledPattern, int, float64, error) {
	if len(patterns) == 0 {
		return nil, -1, 0, fmt.Errorf("%w: empty pattern list", ErrInvalidArgs)
	}

	var compiled []compiledPattern
	sentinelIndex := -1
	sentinelSeconds := 0.0
	for i, p := range patterns {
		switch p.kind {
		case kindTimeout:
			if sentinelIndex >= 0 {
				return nil, -1, 0, fmt.Errorf("%w: multiple timeout sentinels", ErrInvalidArgs)
			}
			sentinelIndex = i
			sentinelSeconds = p.seconds
		case kindLiteral:
			compiled = append(compiled, compiledPattern{index: i, literal: p.raw})
		case kindRegex:
			re, err := regexp.Compile(p.raw)
			if err != nil {
				return nil, -1, 0, fmt.Errorf("%w: bad regex %q: %v", ErrInvalidArgs, p.raw, err)
			}
			compiled = append(compiled, compiledPattern{index: i, re: re})
		}
	}
	if len(compiled) == 0 {
		return nil, -1, 0, fmt.Errorf("%w: only a timeout sentinel", ErrInvalidArgs)
	}
	return compiled, sentinelIndex, sentinelSeconds, nil
}

// Expect polls the pane until a pattern matches. Patterns are scanned
// in list order at every poll; the first match wins. Cancellation of
// ctx aborts the loop with ctx's error.
func (e *Engine) Expect(ctx context.Context, paneID string, patterns []Pattern, opts Options) (*Result, error) {
	compiled, sentinelIndex, sentinelSeconds, err := compile(patterns)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if sentinelIndex >= 0 {
		if st := time.Duration(sentinelSeconds * float64(time.Second)); st < timeout {
			timeout = st
		}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = e.pollInterval
	}
	window := opts.WindowLines
	if window <= 0 {
		window = e.windowLines
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastOutput string
	for {
		output, err := e.reader.ReadScreen(ctx, paneID, window)
		if err != nil {
			return nil, fmt.Errorf("read screen: %w", err)
		}
		lastOutput = output

		if res := scan(output, compiled, patterns); res != nil {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			metrics.ExpectTimeouts.Inc()
			if sentinelIndex >= 0 {
				return &Result{
					MatchedPattern: "timeout",
					MatchIndex:     sentinelIndex,
					FullOutput:     lastOutput,
					TimedOut:       true,
				}, nil
			}
			names := make([]string, len(patterns))
			for i, p := range patterns {
				names[i] = p.String()
			}
			return nil, &TimeoutError{Timeout: timeout, Patterns: names, Output: lastOutput}
		case <-ticker.C:
		}
	}
}

// scan checks every compiled pattern against output, first match wins.
func scan(output string, compiled []compiledPattern, patterns []Pattern) *Result {
	for _, cp := range compiled {
		if cp.re != nil {
			loc := cp.re.FindStringSubmatchIndex(output)
			if loc == nil {
				continue
			}
			res := &Result{
				MatchedPattern: patterns[cp.index].String(),
				MatchIndex:     cp.index,
				FullOutput:     output,
				MatchedText:    output[loc[0]:loc[1]],
				BeforeText:     output[:loc[0]],
			}
			// Submatch capture groups, when the regex has any.
			for g := 1; g*2 < len(loc); g++ {
				if loc[g*2] < 0 {
					res.MatchGroups = append(res.MatchGroups, "")
					continue
				}
				res.MatchGroups = append(res.MatchGroups, output[loc[g*2]:loc[g*2+1]])
			}
			return res
		}
		if at := strings.Index(output, cp.literal); at >= 0 {
			return &Result{
				MatchedPattern: patterns[cp.index].String(),
				MatchIndex:     cp.index,
				FullOutput:     output,
				MatchedText:    cp.literal,
				BeforeText:     output[:at],
			}
		}
	}
	return nil
}

// WaitForPrompt waits for a shell prompt, reporting true on match and
// false on timeout.
func (e *Engine) WaitForPrompt(ctx context.Context, paneID string, timeout time.Duration) (bool, error) {
	patterns := make([]Pattern, 0, len(e.promptPatterns))
	for _, p := range e.promptPatterns {
		patterns = append(patterns, Regex(p))
	}
	_, err := e.Expect(ctx, paneID, patterns, Options{Timeout: timeout})
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WaitForPatterns waits for either a success or an error pattern,
// reporting which side matched.
func (e *Engine) WaitForPatterns(ctx context.Context, paneID string, success, failure []Pattern, timeout time.Duration) (bool, *Result, error) {
	all := make([]Pattern, 0, len(success)+len(failure))
	all = append(all, success...)
	all = append(all, failure...)
	res, err := e.Expect(ctx, paneID, all, Options{Timeout: timeout})
	if err != nil {
		return false, nil, err
	}
	return res.MatchIndex < len(success), res, nil
}

// TextSender is the backend slice SendAndExpect writes through.
type TextSender interface {
	SendText(ctx context.Context, paneID, text string, pressEnter bool) error
}

// SendAndExpect sends a command and waits for one of the patterns.
func (e *Engine) SendAndExpect(ctx context.Context, sender TextSender, paneID, command string, patterns []Pattern, opts Options) (*Result, error) {
	if err := sender.SendText(ctx, paneID, command, true); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	return e.Expect(ctx, paneID, patterns, opts)
}
