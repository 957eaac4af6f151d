package runner_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/runner"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

type recorder struct {
	mx     sync.Mutex
	events []runner.Event
}

func (r *recorder) handle(_ context.Context, e runner.Event) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) lines(kind runner.EventKind) []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	var ret []string
	for _, e := range r.events {
		if e.Kind == kind {
			ret = append(ret, e.Line)
		}
	}
	return ret
}

func (r *recorder) all() []runner.Event {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]runner.Event(nil), r.events...)
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	r := runner.NewRunner()
	t.Cleanup(r.Cancel)
	t.Run("not yet started", func(t *testing.T) {
		res := r.LastResult()
		require.ErrorIs(t, res.Err, runner.ErrNotStarted)
	})

	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", "sleep 5"},
		Env:  []string{"LC_ALL=C"},
	}
	ctx := t.Context()

	t.Run("start", func(t *testing.T) {
		err := r.Start(ctx, cmd, nil)
		require.NoError(t, err)
	})
	t.Run("in progress", func(t *testing.T) {
		err := r.Start(ctx, cmd, nil)
		require.ErrorIs(t, err, runner.ErrInProgress)
	})
	t.Run("cancel", func(t *testing.T) {
		ch := r.WaitChan()
		r.Cancel()
		res := <-ch
		require.Equal(t, sh, res.Path)
		require.Equal(t, []string{"-c", "sleep 5"}, res.Args)
		require.Equal(t, runner.OutcomeCanceled, res.Outcome)
		require.ErrorIs(t, res.Err, model.ErrCanceled)
		require.Empty(t, res.Stdout)
		require.Empty(t, res.Stderr)
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)
		require.Less(t, res.Stopped.Sub(res.Started), 5*time.Second)
	})
	t.Run("last result", func(t *testing.T) {
		res := <-r.WaitChan()
		require.Equal(t, runner.OutcomeCanceled, res.Outcome)
	})
}

func TestRun(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var rec recorder
	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", `printf 'line1\r\nline2\n'; printf 'warn  \n\n' 1>&2; exit 3`},
	}
	res := runner.NewRunner().Run(t.Context(), cmd, rec.handle)

	require.Equal(t, runner.OutcomeSucceeded, res.Outcome)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "line1\r\nline2\n", res.Stdout)
	require.Equal(t, "warn", res.Stderr)

	require.Equal(t, []string{"line1", "line2"}, rec.lines(runner.EventStdout))
	require.Equal(t, []string{"warn  ", ""}, rec.lines(runner.EventStderr))
	events := rec.all()
	require.Equal(t, runner.EventStarted, events[0].Kind)
	require.NotZero(t, events[0].PID)
	last := events[len(events)-1]
	require.Equal(t, runner.EventExited, last.Kind)
	require.Equal(t, 3, last.ExitCode)
}

func TestRun_PartialLine(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var rec recorder
	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", "printf 'no newline'"},
	}
	res := runner.NewRunner().Run(t.Context(), cmd, rec.handle)
	require.Equal(t, runner.OutcomeSucceeded, res.Outcome)
	require.Equal(t, "no newline", res.Stdout)
	require.Equal(t, []string{"no newline"}, rec.lines(runner.EventStdout))
}

func TestRun_LongLine(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var rec recorder
	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", `i=0; while [ $i -lt 4096 ]; do printf '0123456789abcdef0123456789abcdef'; i=$((i+1)); done; echo`},
	}
	res := runner.NewRunner().Run(t.Context(), cmd, rec.handle)
	require.Equal(t, runner.OutcomeSucceeded, res.Outcome)
	require.Len(t, res.Stdout, 4096*32+1)
	lines := rec.lines(runner.EventStdout)
	require.Len(t, lines, 1)
	require.Len(t, lines[0], 4096*32)
}

func TestRun_ToolNotFound(t *testing.T) {
	t.Parallel()

	for _, path := range []string{
		"shaderperf-does-not-exist",
		filepath.Join(t.TempDir(), "malioc"),
	} {
		t.Run(path, func(t *testing.T) {
			res := runner.NewRunner().Run(t.Context(), runner.Command{Path: path}, nil)
			require.Equal(t, runner.OutcomeToolNotFound, res.Outcome)
			require.ErrorIs(t, res.Err, model.ErrToolNotFound)
			require.Contains(t, res.Err.Error(), "configure its path")
			require.Empty(t, res.Stdout)
		})
	}
}

func TestRun_LaunchFailed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "malioc")
	require.NoError(t, os.WriteFile(path, []byte("not a program"), 0o644))

	r := runner.NewRunner()
	err := r.Start(t.Context(), runner.Command{Path: path}, nil)
	require.ErrorIs(t, err, model.ErrLaunchFailed)
	res := r.LastResult()
	require.Equal(t, runner.OutcomeLaunchFailed, res.Outcome)
	require.ErrorIs(t, res.Err, model.ErrLaunchFailed)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	cmd := runner.Command{
		Path:    sh,
		Args:    []string{"-c", "echo started; sleep 5"},
		Timeout: 100 * time.Millisecond,
	}
	res := runner.NewRunner().Run(t.Context(), cmd, nil)
	require.Equal(t, runner.OutcomeTimedOut, res.Outcome)
	require.ErrorIs(t, res.Err, model.ErrTimeout)
	require.Empty(t, res.Stdout)
	require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 100*time.Millisecond)
}

func TestRun_ContextCanceled(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	handle := func(_ context.Context, e runner.Event) {
		if e.Kind == runner.EventStdout && e.Line == "partial" {
			cancel()
		}
	}
	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", "echo partial; sleep 5"},
	}
	res := runner.NewRunner().Run(ctx, cmd, handle)
	require.Equal(t, runner.OutcomeCanceled, res.Outcome)
	require.ErrorIs(t, res.Err, model.ErrCanceled)
	require.Empty(t, res.Stdout)
	require.Empty(t, res.Stderr)
}

func TestCommandString(t *testing.T) {
	t.Parallel()
	cmd := runner.Command{
		Path: "/opt/arm/malioc",
		Args: []string{"--fragment", "/home/me/My Shaders/a.frag", ""},
	}
	require.Equal(t, `/opt/arm/malioc --fragment "/home/me/My Shaders/a.frag" ""`, cmd.String())
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "tool_not_found", runner.OutcomeToolNotFound.String())
	require.True(t, strings.HasPrefix(runner.Outcome(42).String(), "outcome("))
}
