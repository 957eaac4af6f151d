package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/shaderperf/shaderperf/internal/model"
)

var (
	ErrNotStarted = errors.New("tool not started")
	ErrInProgress = errors.New("tool invocation in progress")
)

// waitDelay bounds how long Wait keeps draining pipes after the process was
// killed or has exited
const waitDelay = 2 * time.Second

// Outcome is the terminal state of one invocation
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeToolNotFound
	OutcomeLaunchFailed
	OutcomeCanceled
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeToolNotFound:
		return "tool_not_found"
	case OutcomeLaunchFailed:
		return "launch_failed"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventStdout
	EventStderr
	EventExited
)

// Event is emitted while a process runs. Line is set for EventStdout and
// EventStderr without the line terminator, PID for EventStarted and ExitCode
// for EventExited.
type Event struct {
	Kind     EventKind
	Line     string
	PID      int
	ExitCode int
}

// EventFunc receives events of a running process. Stdout and stderr lines are
// delivered from different goroutines, so it must be safe for concurrent use.
// It must not call the Runner.
type EventFunc func(ctx context.Context, e Event)

type Command struct {
	Path    string
	Args    []string
	Env     []string // added to the environment of the current process
	Dir     string
	Timeout time.Duration
}

// String returns the command line for diagnostics, arguments with spaces
// are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) || strings.ContainsRune(s, '"') {
		return strconv.Quote(s)
	}
	return s
}

// Result is the terminal state of an invocation. Stdout and Stderr are empty
// unless Outcome is OutcomeSucceeded.
type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	Stdout   string // unmodified
	Stderr   string // trailing whitespace trimmed
	Outcome  Outcome
	Err      error
}

// Runner executes one process at a time.
type Runner struct {
	mx         sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	result     Result
	waits      []chan Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
	}
}

// Start runs the process and returns without waiting for it, use WaitChan or
// Run to get the Result. Returns ErrInProgress when the Runner already runs
// a process. A launch failure is returned and recorded in LastResult with
// the matching Outcome.
func (r *Runner) Start(ctx context.Context, proto Command, onEvent EventFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.running {
		return ErrInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if proto.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, proto.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(runCtx, proto.Path, proto.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.Dir = proto.Dir
	configureProcess(cmd)
	cmd.Cancel = func() error {
		return terminateProcess(cmd)
	}
	cmd.WaitDelay = waitDelay

	// lines are emitted only after EventStarted
	started := make(chan struct{})
	defer close(started)
	stdout := &lineWriter{ctx: ctx, kind: EventStdout, onEvent: onEvent, started: started}
	stderr := &lineWriter{ctx: ctx, kind: EventStderr, onEvent: onEvent, started: started}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	slog.DebugContext(ctx, "starting tool", "cmd", proto.String())
	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Outcome, r.result.Err = launchError(runCtx, proto.Path, err)
		cancel()
		return r.result.Err
	}
	r.running = true
	r.cancelFunc = cancel

	if onEvent != nil {
		onEvent(ctx, Event{Kind: EventStarted, PID: cmd.Process.Pid})
	}
	go r.wait(ctx, runCtx, cmd, stdout, stderr, onEvent)
	return nil
}

func launchError(runCtx context.Context, path string, err error) (Outcome, error) {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return OutcomeTimedOut, fmt.Errorf("%w: %w", model.ErrTimeout, err)
	case runCtx.Err() != nil:
		return OutcomeCanceled, fmt.Errorf("%w: %w", model.ErrCanceled, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return OutcomeToolNotFound, fmt.Errorf("%w: %s: %w", model.ErrToolNotFound, path, err)
	default:
		return OutcomeLaunchFailed, fmt.Errorf("%w: %w", model.ErrLaunchFailed, err)
	}
}

func (r *Runner) wait(ctx, runCtx context.Context, cmd *exec.Cmd, stdout, stderr *lineWriter, onEvent EventFunc) {
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	ctxErr := runCtx.Err()
	stopped := time.Now().UTC()

	r.mx.Lock()
	r.cancelFunc()
	res := r.result
	res.Stopped = stopped
	res.ExitCode = cmd.ProcessState.ExitCode()
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		res.Outcome = OutcomeTimedOut
		res.Err = fmt.Errorf("%w after %s", model.ErrTimeout, stopped.Sub(res.Started).Round(time.Millisecond))
	case ctxErr != nil:
		res.Outcome = OutcomeCanceled
		res.Err = model.ErrCanceled
	default:
		res.Outcome = OutcomeSucceeded
		res.Stdout = stdout.buf.String()
		res.Stderr = strings.TrimRightFunc(stderr.buf.String(), unicode.IsSpace)
		// a non zero exit code is a valid outcome, the tool reports
		// compilation errors that way
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			res.Err = err
		}
	}
	r.result = res
	r.running = false
	r.cancelFunc = nil
	waits := r.waits
	r.waits = nil
	r.mx.Unlock()

	slog.DebugContext(ctx, "tool exited",
		"outcome", res.Outcome.String(),
		"exit_code", res.ExitCode,
		"elapsed", res.Stopped.Sub(res.Started).String(),
	)
	if onEvent != nil {
		onEvent(ctx, Event{Kind: EventExited, ExitCode: res.ExitCode})
	}
	for _, ch := range waits {
		ch <- res
		close(ch)
	}
}

// WaitChan returns the channel obtaining the result of a running
// program. The channel is closed once program ends. When nothing runs,
// the last result is sent immediately.
func (r *Runner) WaitChan() <-chan Result {
	ch := make(chan Result, 1)
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.running {
		ch <- r.result
		close(ch)
		return ch
	}
	r.waits = append(r.waits, ch)
	return ch
}

// Run starts the process and waits for its Result. Launch failures are
// returned as a Result too.
func (r *Runner) Run(ctx context.Context, proto Command, onEvent EventFunc) Result {
	if err := r.Start(ctx, proto, onEvent); err != nil {
		if errors.Is(err, ErrInProgress) {
			return Result{
				Path:    proto.Path,
				Args:    proto.Args,
				Outcome: OutcomeLaunchFailed,
				Err:     fmt.Errorf("%w: %w", model.ErrLaunchFailed, err),
			}
		}
		return r.LastResult()
	}
	return <-r.WaitChan()
}

// Cancel kills the running process, if any. The Result is delivered
// through WaitChan with OutcomeCanceled.
func (r *Runner) Cancel() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
}

// LastResult returns a last command result
// or result with ErrNotStarted if nothing has been executed yet
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

// lineWriter captures the output of a process and emits every complete
// line as an Event. There is no limit on a line length.
type lineWriter struct {
	ctx     context.Context
	kind    EventKind
	onEvent EventFunc
	started <-chan struct{}
	buf     bytes.Buffer
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.onEvent == nil {
		return len(p), nil
	}
	<-w.started
	w.pending = append(w.pending, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.pending[start:], '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[start : start+i])
		start += i + 1
	}
	if start > 0 {
		w.pending = append([]byte(nil), w.pending[start:]...)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.onEvent == nil || len(w.pending) == 0 {
		return
	}
	w.emit(w.pending)
	w.pending = nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	w.onEvent(w.ctx, Event{Kind: w.kind, Line: string(line)})
}
