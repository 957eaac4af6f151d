package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shaderperf/shaderperf/internal/analysis"
	"github.com/shaderperf/shaderperf/internal/bom"
	"github.com/shaderperf/shaderperf/internal/log"
	"github.com/shaderperf/shaderperf/internal/malioc"
	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/output"
	"github.com/shaderperf/shaderperf/internal/report"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagStage      model.Stage
	flagAPI        model.TargetAPI
	flagMalioc     string
	flagFormat     string
	flagOut        string
	flagJobs       int
	flagNoTextPass bool
	flagTimeout    time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze ARTIFACT...",
	Short: "analyze runs the offline compiler on compiled shaders and reports their performance",
	Long:  "analyze runs the offline compiler on compiled shaders and reports their performance. ARTIFACT - reads the shader binary from stdin.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doAnalyze,
}

// failedError is returned when at least one analysis did not complete
type failedError struct {
	failed, total int
}

func (e *failedError) Error() string {
	return strconv.Itoa(e.failed) + " of " + strconv.Itoa(e.total) + " analyses failed"
}

type analyzed struct {
	artifact string
	outcome  analysis.Outcome
	err      error
}

func doAnalyze(cmd *cobra.Command, args []string) error {
	attrs := slog.Group("shaderperf",
		slog.String("cmd", "analyze"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	compiler, err := compilerFromFlags(cmd)
	if err != nil {
		return err
	}
	format := formatFromFlags(cmd)
	if err := checkFormat(format); err != nil {
		return err
	}
	textPass := config.Analysis.TextPass && !flagNoTextPass

	stage := config.Analysis.Stage
	if cmd.Flags().Changed("stage") {
		stage = flagStage
	}
	api := config.Analysis.API
	if cmd.Flags().Changed("api") {
		api = flagAPI
	}

	args, cleanup, err := stdinArtifact(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer cleanup()

	jobs := flagJobs
	if jobs < 1 {
		jobs = 1
	}
	results := make([]analyzed, len(args))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, artifact := range args {
		results[i].artifact = artifact
		g.Go(func() error {
			req := model.InvocationRequest{
				Artifact:  artifact,
				Stage:     stage,
				TargetAPI: api,
				Format:    model.FormatJSON,
			}
			results[i].outcome, results[i].err = analyze(ctx, compiler, req, textPass)
			return nil
		})
	}
	_ = g.Wait()

	return store(ctx, format, outputDir(cmd), results)
}

// analyze runs one request on its own coordinator. Canceling ctx cancels the
// request through the coordinator.
func analyze(ctx context.Context, compiler malioc.Compiler, req model.InvocationRequest, textPass bool) (analysis.Outcome, error) {
	c := analysis.NewCoordinator(compiler, analysis.WithTextPass(textPass))

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopLoop()
	wg.Go(func() {
		_ = c.Do(loopCtx)
	})

	h, err := c.Start(ctx, req, nil)
	if err != nil {
		return analysis.Outcome{}, err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		slog.InfoContext(ctx, "interrupted: canceling analysis", "artifact", req.Artifact)
		err := c.Cancel(loopCtx, h)
		if err != nil && !errors.Is(err, analysis.ErrNotRunning) {
			slog.WarnContext(ctx, "cancel failed", "artifact", req.Artifact, "error", err)
		}
	}
	return h.Outcome(), nil
}

// stdinArtifact replaces the "-" argument by a temporary file holding the
// shader binary read from r
func stdinArtifact(args []string, r io.Reader) ([]string, func(), error) {
	noop := func() {}
	idx := slices.Index(args, "-")
	if idx == -1 {
		return args, noop, nil
	}
	if slices.Index(args[idx+1:], "-") != -1 {
		return nil, noop, errors.New("stdin can be read only once")
	}
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, noop, fmt.Errorf("reading stdin: %w", err)
	}
	dir, err := os.MkdirTemp("", "shaderperf-")
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		_ = os.RemoveAll(dir)
	}
	path := filepath.Join(dir, "stdin.spv")
	if err := model.WriteArtifact(path, blob); err != nil {
		cleanup()
		return nil, noop, err
	}
	ret := slices.Clone(args)
	ret[idx] = path
	return ret, cleanup, nil
}

func compilerFromFlags(cmd *cobra.Command) (malioc.Compiler, error) {
	compiler, err := malioc.NewCompiler(config.Compiler)
	if err != nil {
		return malioc.Compiler{}, err
	}
	if cmd.Flags().Changed("malioc") {
		compiler = compiler.WithBinary(flagMalioc)
	}
	if cmd.Flags().Changed("timeout") {
		compiler = compiler.WithTimeout(flagTimeout)
	}
	return compiler, nil
}

func formatFromFlags(cmd *cobra.Command) string {
	if cmd.Flags().Changed("format") {
		return flagFormat
	}
	return config.Output.Format
}

func checkFormat(format string) error {
	switch format {
	case model.OutputText, model.OutputJSON, model.OutputCycloneDX:
		return nil
	default:
		return fmt.Errorf("unsupported format %q: possible values text, json, cyclonedx", format)
	}
}

func outputDir(cmd *cobra.Command) string {
	if cmd.Flags().Changed("out") {
		return flagOut
	}
	return config.Output.Dir
}

// store renders successful results in order and reports failures
func store(ctx context.Context, format, dir string, results []analyzed) error {
	sinks, err := output.New(dir, extension(format), os.Stdout)
	if err != nil {
		return err
	}
	defer output.Close(ctx, sinks)

	var errs []error
	failed := 0
	b := bom.NewBuilder()
	for _, r := range results {
		err := r.err
		if err == nil && r.outcome.State != analysis.StateCompleted {
			err = r.outcome.Err
			if err == nil {
				err = errors.New(r.outcome.State.String())
			}
		}
		if err != nil {
			failed++
			slog.ErrorContext(ctx, "analysis failed",
				"artifact", r.artifact,
				"reason", model.Reason(err),
				"stderr", r.outcome.Stderr,
			)
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.artifact, model.Reason(err))
			if format == model.OutputCycloneDX {
				b.AppendFailure(bom.Artifact{Path: r.artifact}, model.Reason(err))
			}
			continue
		}
		if r.outcome.TextErr != nil {
			slog.WarnContext(ctx, "text pass failed", "artifact", r.artifact, "error", r.outcome.TextErr)
		}

		if format == model.OutputCycloneDX {
			b.AppendReport(bom.Artifact{Path: r.artifact, SHA256: digest(ctx, r.artifact)}, r.outcome.Report)
			continue
		}
		raw, err := render(format, r.outcome.Report)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := output.Store(ctx, sinks, output.Name(r.artifact), raw); err != nil {
			errs = append(errs, err)
		}
	}

	if format == model.OutputCycloneDX {
		raw, err := renderBOM(b)
		if err != nil {
			errs = append(errs, err)
		} else if err := output.Store(ctx, sinks, "shaderperf", raw); err != nil {
			errs = append(errs, err)
		}
	}
	if failed > 0 {
		errs = append(errs, &failedError{failed: failed, total: len(results)})
	}
	return errors.Join(errs...)
}

func extension(format string) string {
	switch format {
	case model.OutputJSON:
		return "json"
	case model.OutputCycloneDX:
		return "cdx.json"
	default:
		return "txt"
	}
}

func digest(ctx context.Context, path string) string {
	f, err := os.Open(path)
	if err != nil {
		slog.WarnContext(ctx, "can't hash artifact", "artifact", path, "error", err)
		return ""
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		slog.WarnContext(ctx, "can't hash artifact", "artifact", path, "error", err)
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func render(format string, r *report.Report) ([]byte, error) {
	switch format {
	case model.OutputJSON:
		raw, err := report.Encode(r)
		if err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}
		return append(raw, '\n'), nil
	default:
		var buf bytes.Buffer
		if err := report.WriteText(&buf, r); err != nil {
			return nil, fmt.Errorf("rendering report: %w", err)
		}
		return buf.Bytes(), nil
	}
}

func renderBOM(b *bom.Builder) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.AsJSON(&buf); err != nil {
		return nil, fmt.Errorf("encoding BOM: %w", err)
	}
	return buf.Bytes(), nil
}
