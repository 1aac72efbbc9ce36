package expect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhive/termhive/internal/backend"
)

func newEngine(t *testing.T) (*Engine, *backend.FakeBackend) {
	t.Helper()
	fb := backend.NewFakeBackend()
	fb.AddPane("pane-1", "worker")
	e := NewEngine(fb, EngineOptions{
		DefaultTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	})
	return e, fb
}

func TestExpectImmediateMatch(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "building...\nBUILD SUCCESSFUL in 3s\n$ ")

	res, err := e.Expect(context.Background(), "pane-1", []Pattern{
		Literal("BUILD FAILED"),
		Regex(`BUILD SUCCESSFUL in (\d+)s`),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchIndex)
	assert.Equal(t, "BUILD SUCCESSFUL in 3s", res.MatchedText)
	assert.Equal(t, "building...\n", res.BeforeText)
	assert.Equal(t, []string{"3"}, res.MatchGroups)
	assert.False(t, res.TimedOut)
}

func TestExpectFirstPatternWins(t *testing.T) {
	e, fb := newEngine(t)
	// Both patterns are present; list order decides.
	fb.SetScreen("pane-1", "error: tests failed\ndone\n")

	res, err := e.Expect(context.Background(), "pane-1", []Pattern{
		Literal("done"),
		Literal("error"),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchIndex)
	assert.Equal(t, "done", res.MatchedText)
}

func TestExpectPollsUntilMatch(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "compiling\n")

	go func() {
		time.Sleep(30 * time.Millisecond)
		fb.AppendScreen("pane-1", "all tests passed\n")
	}()

	res, err := e.Expect(context.Background(), "pane-1", []Pattern{Literal("all tests passed")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchIndex)
}

func TestExpectTimeoutWithoutSentinel(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "still running\n")

	_, err := e.Expect(context.Background(), "pane-1", []Pattern{Literal("never")}, Options{
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Equal(t, []string{"never"}, te.Patterns)
	assert.Contains(t, te.Output, "still running")
}

func TestExpectTimeoutSentinel(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "still running\n")

	res, err := e.Expect(context.Background(), "pane-1", []Pattern{
		Literal("never"),
		Timeout(0.05),
	}, Options{Timeout: 10 * time.Second})
	require.NoError(t, err, "a sentinel converts timeout into a result")
	assert.True(t, res.TimedOut)
	assert.Equal(t, "timeout", res.MatchedPattern)
	assert.Equal(t, 1, res.MatchIndex)
	assert.Empty(t, res.MatchedText)
	assert.Contains(t, res.FullOutput, "still running")
}

func TestExpectValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Expect(ctx, "pane-1", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = e.Expect(ctx, "pane-1", []Pattern{Timeout(5)}, Options{})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = e.Expect(ctx, "pane-1", []Pattern{Literal("x"), Timeout(1), Timeout(2)}, Options{})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = e.Expect(ctx, "pane-1", []Pattern{Regex("[unclosed")}, Options{})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestExpectCancellation(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "running\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Expect(ctx, "pane-1", []Pattern{Literal("never")}, Options{Timeout: 10 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must abort promptly")
}

func TestExpectMissingPane(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Expect(context.Background(), "ghost", []Pattern{Literal("x")}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrPaneNotFound)
}

func TestWaitForPrompt(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "some output\nuser@host:~$ ")

	ok, err := e.WaitForPrompt(context.Background(), "pane-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	fb.SetScreen("pane-1", "long running job with no prompt")
	ok, err = e.WaitForPrompt(context.Background(), "pane-1", 50*time.Millisecond)
	require.NoError(t, err, "prompt timeout is reported as false, not an error")
	assert.False(t, ok)
}

func TestWaitForPatterns(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "FAILED: 3 tests\n")

	success := []Pattern{Literal("PASSED"), Literal("OK")}
	failure := []Pattern{Literal("FAILED")}

	isSuccess, res, err := e.WaitForPatterns(context.Background(), "pane-1", success, failure, time.Second)
	require.NoError(t, err)
	assert.False(t, isSuccess)
	assert.Equal(t, 2, res.MatchIndex, "failure patterns follow the success block")

	fb.SetScreen("pane-1", "OK\n")
	isSuccess, res, err = e.WaitForPatterns(context.Background(), "pane-1", success, failure, time.Second)
	require.NoError(t, err)
	assert.True(t, isSuccess)
	assert.Equal(t, 1, res.MatchIndex)
}

func TestSendAndExpect(t *testing.T) {
	e, fb := newEngine(t)
	fb.SetScreen("pane-1", "$ ")

	go func() {
		time.Sleep(20 * time.Millisecond)
		fb.AppendScreen("pane-1", "v1.2.3\n$ ")
	}()

	res, err := e.SendAndExpect(context.Background(), fb, "pane-1", "tool --version", []Pattern{
		Regex(`v(\d+)\.(\d+)\.(\d+)`),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", res.MatchedText)
	assert.Equal(t, []string{"1", "2", "3"}, res.MatchGroups)
	assert.Equal(t, []string{"tool --version"}, fb.SentText("pane-1"))
}
