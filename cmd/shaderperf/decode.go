package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shaderperf/shaderperf/internal/analysis"
	"github.com/shaderperf/shaderperf/internal/bom"
	"github.com/shaderperf/shaderperf/internal/log"
	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/report"

	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "decode validates a saved JSON report of the offline compiler and renders it, - reads standard input",
	Args:  cobra.ExactArgs(1),
	RunE:  doDecode,
}

func doDecode(cmd *cobra.Command, args []string) error {
	attrs := slog.Group("shaderperf",
		slog.String("cmd", "decode"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	format := formatFromFlags(cmd)
	if err := checkFormat(format); err != nil {
		return err
	}

	path := args[0]
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}

	rep, err := report.Decode(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := report.CheckSchema(rep.Schema); err != nil {
		slog.WarnContext(ctx, "report schema mismatch", "path", path, "error", err)
	}
	if err := analysis.Validate(rep); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var out []byte
	if format == model.OutputCycloneDX {
		out, err = renderBOM(bom.NewBuilder().AppendReport(bom.Artifact{Path: path}, rep))
	} else {
		out, err = render(format, rep)
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
