package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/report"
)

// Violation is one broken cross reference inside a report
type Violation struct {
	Shader  int    // index into Report.Shaders
	Variant string // variant name
	Detail  string
}

func (v Violation) String() string {
	return "shaders[" + strconv.Itoa(v.Shader) + "] variant " + strconv.Quote(v.Variant) + ": " + v.Detail
}

// InconsistencyError lists all violations found in a report. It matches
// model.ErrInconsistentReport.
type InconsistencyError struct {
	Violations []Violation
}

func (e *InconsistencyError) Error() string {
	var sb strings.Builder
	sb.WriteString(model.ErrInconsistentReport.Error())
	sb.WriteString(": ")
	for i, v := range e.Violations {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(v.String())
	}
	return sb.String()
}

func (e *InconsistencyError) Unwrap() error {
	return model.ErrInconsistentReport
}

// Validate checks what the decoder does not. Every pipeline referenced by a
// variant must be described by the hardware of its shader and every cycle
// count list must be index aligned with the pipelines of its performance
// block. A report passing Validate can be indexed without bound checks.
func Validate(r *report.Report) error {
	var violations []Violation
	for i, shader := range r.Shaders {
		known := make(map[string]struct{}, len(shader.Hardware.Pipelines))
		for _, p := range shader.Hardware.Pipelines {
			known[p.Name] = struct{}{}
		}

		for _, variant := range shader.Variants {
			add := func(format string, args ...any) {
				violations = append(violations, Violation{
					Shader:  i,
					Variant: variant.Name,
					Detail:  fmt.Sprintf(format, args...),
				})
			}
			perf := variant.Performance
			for _, name := range perf.Pipelines {
				if _, ok := known[name]; !ok {
					add("pipeline %q is not described by hardware", name)
				}
			}
			for _, m := range report.Metrics {
				cycles := perf.Cycles(m)
				if len(cycles.CycleCount) != len(perf.Pipelines) {
					add("%s has %d cycle counts for %d pipelines", m, len(cycles.CycleCount), len(perf.Pipelines))
				}
				for _, name := range cycles.BoundPipelines {
					if _, ok := known[name]; !ok {
						add("%s bound pipeline %q is not described by hardware", m, name)
					}
				}
			}
		}
	}
	if len(violations) > 0 {
		return &InconsistencyError{Violations: violations}
	}
	return nil
}
