// Package analysis runs the offline compiler for one shader artifact at a
// time and turns its output into a validated report.
//
// A Coordinator is driven by its Do loop, which is the only place the state
// and the in-flight Handle change. Start, Cancel and State are messages to
// that loop. A request runs two passes of the compiler on a worker
// goroutine, the machine readable one first, the human readable one after
// it has exited.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/shaderperf/shaderperf/internal/log"
	"github.com/shaderperf/shaderperf/internal/malioc"
	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/report"
	"github.com/shaderperf/shaderperf/internal/runner"
)

var (
	ErrAnalysisInProgress = errors.New("analysis in progress, cancel it first")
	ErrNotRunning         = errors.New("analysis not running")
	ErrStopped            = errors.New("coordinator stopped")
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Outcome is delivered once per request. Report is set only for
// StateCompleted, Err for StateFailed and StateCanceled. Raw and Stderr keep
// the output of the machine readable pass for debugging.
type Outcome struct {
	ID       uuid.UUID
	Request  model.InvocationRequest
	State    State
	Report   *report.Report
	Err      error
	Raw      string
	Stderr   string
	ExitCode int
	Text     string // output of the human readable pass
	TextErr  error  // failure of the human readable pass, never fatal
}

// Handle identifies a started request. It works as a future: Done is closed
// when the Outcome is known.
type Handle struct {
	id       uuid.UUID
	req      model.InvocationRequest
	callback func(Outcome)
	cancel   context.CancelFunc
	done     chan struct{}
	outcome  Outcome
	// owned by the Do loop
	canceled    bool
	cancelWaits []chan reply
}

func (h *Handle) ID() uuid.UUID                    { return h.id }
func (h *Handle) Request() model.InvocationRequest { return h.req }
func (h *Handle) Done() <-chan struct{}            { return h.done }

// Outcome waits until the request ends and returns its Outcome
func (h *Handle) Outcome() Outcome {
	<-h.done
	return h.outcome
}

type Option func(*Coordinator)

// WithTextPass enables or disables the human readable pass
func WithTextPass(enabled bool) Option {
	return func(c *Coordinator) {
		c.textPass = enabled
	}
}

// WithEvents adds a function receiving process events of both passes
func WithEvents(fn runner.EventFunc) Option {
	return func(c *Coordinator) {
		c.onEvent = fn
	}
}

type Coordinator struct {
	compiler malioc.Compiler
	textPass bool
	onEvent  runner.EventFunc

	ops      chan op
	finished chan *Handle
	quit     chan struct{}
	stopped  chan struct{}
	wg       sync.WaitGroup

	// owned by the Do loop
	state   State
	current *Handle
}

type opKind int

const (
	opStart opKind = iota
	opCancel
	opState
)

type op struct {
	kind   opKind
	handle *Handle
	reply  chan reply
}

type reply struct {
	state State
	err   error
}

func NewCoordinator(compiler malioc.Compiler, opts ...Option) *Coordinator {
	c := &Coordinator{
		compiler: compiler,
		textPass: true,
		ops:      make(chan op),
		finished: make(chan *Handle, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the analysis of req.Artifact. It returns ErrAnalysisInProgress
// while another request runs and model.ErrArtifactNotFound when the artifact
// is not a regular file. The callback, if any, is called with the Outcome on
// its own goroutine after the state was updated, so it may Start again.
// Do must be running.
func (c *Coordinator) Start(ctx context.Context, req model.InvocationRequest, callback func(Outcome)) (*Handle, error) {
	if err := req.CheckArtifact(); err != nil {
		return nil, err
	}
	h := &Handle{
		id:       uuid.New(),
		req:      req.WithFormat(model.FormatJSON),
		callback: callback,
		done:     make(chan struct{}),
	}
	if _, err := c.call(ctx, op{kind: opStart, handle: h}); err != nil {
		return nil, err
	}
	return h, nil
}

// Cancel stops the request of h and returns after its worker has exited.
// The Outcome is delivered with StateCanceled and without a Report. Returns
// ErrNotRunning when h is not the running request.
func (c *Coordinator) Cancel(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrNotRunning
	}
	_, err := c.call(ctx, op{kind: opCancel, handle: h})
	return err
}

// State returns the state of the last request
func (c *Coordinator) State(ctx context.Context) (State, error) {
	r, err := c.call(ctx, op{kind: opState})
	return r.state, err
}

func (c *Coordinator) call(ctx context.Context, o op) (reply, error) {
	o.reply = make(chan reply, 1)
	select {
	case c.ops <- o:
	case <-c.quit:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-o.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Do runs the coordinator event loop until ctx is canceled. It must be called
// once. On return the running request, if any, is canceled and all callbacks
// have returned.
func (c *Coordinator) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting an analysis coordinator")
	defer close(c.stopped)
	defer c.wg.Wait()
	defer c.shutdown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-c.ops:
			c.handle(ctx, o)
		case h := <-c.finished:
			c.complete(ctx, h)
		}
	}
}

// Stopped is closed once Do has returned
func (c *Coordinator) Stopped() <-chan struct{} {
	return c.stopped
}

func (c *Coordinator) shutdown(ctx context.Context) {
	close(c.quit)
	if c.current == nil {
		return
	}
	slog.DebugContext(ctx, "canceling running analysis", "analysis_id", c.current.id.String())
	c.current.cancel()
	c.complete(ctx, <-c.finished)
}

func (c *Coordinator) handle(ctx context.Context, o op) {
	switch o.kind {
	case opStart:
		if c.current != nil {
			o.reply <- reply{state: c.state, err: ErrAnalysisInProgress}
			return
		}
		c.begin(ctx, o.handle)
		o.reply <- reply{state: c.state}
	case opCancel:
		if c.current != o.handle {
			o.reply <- reply{state: c.state, err: ErrNotRunning}
			return
		}
		slog.DebugContext(ctx, "canceling analysis", "analysis_id", o.handle.id.String())
		o.handle.cancel()
		o.handle.canceled = true
		o.handle.cancelWaits = append(o.handle.cancelWaits, o.reply)
	case opState:
		o.reply <- reply{state: c.state}
	default:
		slog.WarnContext(ctx, "operation not supported: ignoring", "op", o.kind)
	}
}

func (c *Coordinator) begin(ctx context.Context, h *Handle) {
	// the worker context is detached from the loop context, shutdown
	// cancels it explicitly and waits for the worker
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	workCtx = log.ContextAttrs(workCtx,
		slog.String("analysis_id", h.id.String()),
		slog.String("artifact", h.req.Artifact),
	)
	h.cancel = cancel
	c.current = h
	c.state = StateRunning
	c.wg.Go(func() {
		defer cancel()
		h.outcome = c.analyze(workCtx, h)
		c.finished <- h
	})
}

func (c *Coordinator) complete(ctx context.Context, h *Handle) {
	// an accepted cancel wins even when the worker finished first
	if h.canceled && h.outcome.State != StateCanceled {
		h.outcome = Outcome{
			ID:      h.id,
			Request: h.req,
			State:   StateCanceled,
			Err:     model.ErrCanceled,
		}
	}
	c.current = nil
	c.state = h.outcome.State
	slog.DebugContext(ctx, "analysis finished",
		"analysis_id", h.id.String(),
		"state", c.state.String(),
	)
	close(h.done)
	for _, ch := range h.cancelWaits {
		ch <- reply{state: c.state}
	}
	h.cancelWaits = nil
	if h.callback != nil {
		out := h.outcome
		c.wg.Go(func() {
			h.callback(out)
		})
	}
}

// analyze runs both passes, it is the only code running on the worker
func (c *Coordinator) analyze(ctx context.Context, h *Handle) Outcome {
	out := Outcome{ID: h.id, Request: h.req}
	r := runner.NewRunner()

	res := r.Run(ctx, c.compiler.Command(h.req), c.events(model.FormatJSON))
	out.Raw = res.Stdout
	out.Stderr = res.Stderr
	out.ExitCode = res.ExitCode
	switch res.Outcome {
	case runner.OutcomeSucceeded:
	case runner.OutcomeCanceled:
		out.State = StateCanceled
		out.Err = res.Err
		return out
	default:
		slog.ErrorContext(ctx, "offline compiler failed", "outcome", res.Outcome.String(), "error", res.Err)
		out.State = StateFailed
		out.Err = res.Err
		return out
	}
	if res.Err != nil {
		slog.WarnContext(ctx, "offline compiler output may be incomplete", "error", res.Err)
	}

	// a report which can't be used fails the request after the human
	// readable pass
	rep, failure := c.decode(ctx, res)

	if c.textPass {
		text := r.Run(ctx, c.compiler.Command(h.req.WithFormat(model.FormatText)), c.events(model.FormatText))
		switch text.Outcome {
		case runner.OutcomeSucceeded:
			out.Text = text.Stdout
		case runner.OutcomeCanceled:
			out.State = StateCanceled
			out.Err = text.Err
			return out
		default:
			out.TextErr = fmt.Errorf("text pass: %w", text.Err)
			slog.WarnContext(ctx, "text pass failed", "outcome", text.Outcome.String(), "error", text.Err)
		}
	}

	if failure != nil {
		out.State = StateFailed
		out.Err = failure
		return out
	}
	out.State = StateCompleted
	out.Report = rep
	return out
}

func (c *Coordinator) decode(ctx context.Context, res runner.Result) (*report.Report, error) {
	rep, err := report.Decode([]byte(res.Stdout))
	if err != nil {
		slog.ErrorContext(ctx, "decoding report failed", "error", err, "exit_code", res.ExitCode, "stderr", res.Stderr)
		return nil, err
	}
	if err := report.CheckSchema(rep.Schema); err != nil {
		slog.WarnContext(ctx, "report schema mismatch", "error", err)
	}
	if err := Validate(rep); err != nil {
		slog.ErrorContext(ctx, "report validation failed", "error", err)
		return nil, err
	}
	return rep, nil
}

func (c *Coordinator) events(format model.ReportFormat) runner.EventFunc {
	return func(ctx context.Context, e runner.Event) {
		switch e.Kind {
		case runner.EventStderr:
			slog.DebugContext(ctx, "malioc stderr", "pass", string(format), "line", e.Line)
		case runner.EventStdout:
			if format == model.FormatText {
				slog.DebugContext(ctx, "malioc", "line", e.Line)
			}
		}
		if c.onEvent != nil {
			c.onEvent(ctx, e)
		}
	}
}
