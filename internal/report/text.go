package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
)

// WriteText renders the report for a terminal. Performance columns of a
// variant whose cycle counts are not aligned with its pipelines are printed
// as "?" instead of failing.
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	p := &printer{w: tw}

	p.printf("%s v%s Build (%s)\n", r.Producer.Name, r.Producer.VersionString(), r.Producer.Build)
	if r.Producer.Documentation != "" {
		p.printf("Documentation:\t%s\n", r.Producer.Documentation)
	}

	for _, shader := range r.Shaders {
		p.printf("\nShader file:\t%s\n", shader.Filename)
		p.printf("Configuration:\n")
		p.printf("  Hardware:\t%s %s\n", shader.Hardware.Core, shader.Hardware.Revision)
		p.printf("  Architecture:\t%s\n", shader.Hardware.Architecture)
		p.printf("  Driver:\t%s\n", shader.Driver)
		p.printf("  Shader type:\t%s %s\n", shader.Shader.API, shader.Shader.Type)

		for _, variant := range shader.Variants {
			p.printf("\nVariant:\t%s\n", variant.Name)
			for _, prop := range variant.Properties {
				p.printf("  %s\t%s\n", displayName(prop), FormatValue(prop.Name, prop.Value))
			}
			p.performance(variant.Performance, shader.Hardware)
		}

		if len(shader.Properties) > 0 {
			p.printf("\nShader properties:\n")
			for _, prop := range shader.Properties {
				p.printf("  %s\t%s\n", displayName(prop), FormatValue(prop.Name, prop.Value))
			}
		}
		if streams := shader.AttributeStreams; streams != nil {
			p.printf("\nAttribute streams:\n")
			for _, a := range streams.Position {
				p.printf("  position\t%s\t%d\n", a.Symbol, a.Location)
			}
			for _, a := range streams.NonPosition {
				p.printf("  nonposition\t%s\t%d\n", a.Symbol, a.Location)
			}
		}
		p.list("Notes", shader.Notes)
		p.list("Warnings", shader.Warnings)
		p.list("Errors", shader.Errors)
	}

	if p.err != nil {
		return p.err
	}
	return tw.Flush()
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) list(title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	p.printf("\n%s:\n", title)
	for _, line := range lines {
		p.printf("  %s\n", line)
	}
}

func (p *printer) performance(perf Performance, hw Hardware) {
	p.printf("\nPerformance:\n")

	header := []string{"  Cycles"}
	for _, name := range perf.Pipelines {
		header = append(header, hw.DisplayName(name))
	}
	header = append(header, "Bound by")
	p.printf("%s\n", strings.Join(header, "\t"))

	for _, row := range perf.Rows() {
		cols := []string{"  " + rowLabels[row.Metric]}
		for _, c := range row.Counts {
			if math.IsNaN(c) {
				cols = append(cols, "?")
			} else {
				cols = append(cols, FormatCycles(c))
			}
		}
		cols = append(cols, BoundBy(hw, Cycles{BoundPipelines: row.BoundPipelines}))
		p.printf("%s\n", strings.Join(cols, "\t"))
	}
}

var rowLabels = map[Metric]string{
	MetricTotal:    "Total",
	MetricShortest: "Shortest",
	MetricLongest:  "Longest",
}

func displayName(p Property) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
