// Package report defines the performance report produced by the Mali offline
// compiler (malioc --format json) and decodes it.
//
// The decoder is a pure function over the text: it checks syntax and the
// presence of required top level fields, nothing more. References between
// Performance blocks and Hardware pipelines are checked by the analysis
// package before a Report is handed to callers.
package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Schema identification the decoder was written against. Newer point
// versions only add optional fields.
const (
	SchemaName    = "performance"
	SchemaVersion = 1
)

type Report struct {
	Producer Producer       `json:"producer"`
	Schema   Schema         `json:"schema"`
	Shaders  []ShaderReport `json:"shaders"`
}

type Producer struct {
	Build         string  `json:"build"`
	Documentation string  `json:"documentation"`
	Name          string  `json:"name"`
	Version       []int64 `json:"version"` // major, minor, patch
}

// VersionString formats Version as a dotted string, e.g. 8.7.0
func (p Producer) VersionString() string {
	parts := make([]string, 0, len(p.Version))
	for _, v := range p.Version {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	return strings.Join(parts, ".")
}

type Schema struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// ShaderReport is the analysis of one shader file. Notes, Warnings, Errors,
// Properties, Variants and AttributeStreams are optional.
type ShaderReport struct {
	Driver           string            `json:"driver"`
	Filename         string            `json:"filename"`
	Hardware         Hardware          `json:"hardware"`
	AttributeStreams *AttributeStreams `json:"attribute_streams"`
	Properties       []ShaderProperty  `json:"properties"`
	Shader           ShaderKind        `json:"shader"`
	Variants         []Variant         `json:"variants"`
	Notes            []string          `json:"notes"`
	Warnings         []string          `json:"warnings"`
	Errors           []string          `json:"errors"`
}

type Hardware struct {
	Architecture string     `json:"architecture"`
	Core         string     `json:"core"`
	Pipelines    []Pipeline `json:"pipelines"`
	Revision     string     `json:"revision"`
}

// Pipeline returns the pipeline description with a given name
func (h Hardware) Pipeline(name string) (Pipeline, bool) {
	for _, p := range h.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}

// DisplayName returns the display name of a pipeline, or name itself when
// the hardware does not describe it.
func (h Hardware) DisplayName(name string) string {
	p, ok := h.Pipeline(name)
	if !ok || p.DisplayName == "" {
		return name
	}
	return p.DisplayName
}

type Pipeline struct {
	Description string `json:"description"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

type AttributeStreams struct {
	NonPosition []AttributeStream `json:"nonposition"`
	Position    []AttributeStream `json:"position"`
}

type AttributeStream struct {
	Location int64  `json:"location"`
	Symbol   string `json:"symbol"`
}

// ShaderKind says which API and stage the shader was compiled for
type ShaderKind struct {
	API  string `json:"api"`
	Type string `json:"type"`
}

type Variant struct {
	Name        string            `json:"name"`
	Performance Performance       `json:"performance"`
	Properties  []VariantProperty `json:"properties"`
}

// Performance holds cycle estimates per pipeline. Pipelines defines the
// column order, CycleCount of each Cycles block is index aligned with it.
type Performance struct {
	LongestPathCycles  Cycles   `json:"longest_path_cycles"`
	Pipelines          []string `json:"pipelines"`
	ShortestPathCycles Cycles   `json:"shortest_path_cycles"`
	TotalCycles        Cycles   `json:"total_cycles"`
}

// Metric is one of the three Cycles blocks of Performance
type Metric string

const (
	MetricTotal    Metric = "total_cycles"
	MetricShortest Metric = "shortest_path_cycles"
	MetricLongest  Metric = "longest_path_cycles"
)

var Metrics = []Metric{MetricTotal, MetricShortest, MetricLongest}

// Cycles returns the block for a given metric
func (p Performance) Cycles(m Metric) Cycles {
	switch m {
	case MetricTotal:
		return p.TotalCycles
	case MetricShortest:
		return p.ShortestPathCycles
	case MetricLongest:
		return p.LongestPathCycles
	default:
		panic(fmt.Sprintf("report: unknown metric %q", string(m)))
	}
}

// Row is one metric of the performance table. Counts is index aligned with
// Performance.Pipelines, a count missing from the report is NaN.
type Row struct {
	Metric         Metric
	Counts         []float64
	BoundPipelines []string
}

// Rows returns the performance table in Metrics order
func (p Performance) Rows() []Row {
	rows := make([]Row, 0, len(Metrics))
	for _, m := range Metrics {
		c := p.Cycles(m)
		counts := make([]float64, len(p.Pipelines))
		for i := range counts {
			if i < len(c.CycleCount) {
				counts[i] = c.CycleCount[i]
			} else {
				counts[i] = math.NaN()
			}
		}
		rows = append(rows, Row{Metric: m, Counts: counts, BoundPipelines: c.BoundPipelines})
	}
	return rows
}

type Cycles struct {
	BoundPipelines []string  `json:"bound_pipelines"`
	CycleCount     []float64 `json:"cycle_count"`
}

// Property is a named value reported for a shader or for its variant.
type Property struct {
	Name        string
	DisplayName string
	Description string
	Value       Value
}

type (
	ShaderProperty  = Property
	VariantProperty = Property
)
