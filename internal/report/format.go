package report

import (
	"strconv"
	"strings"
)

// properties reported as a percentage
var percentProperties = map[string]struct{}{
	"fp16_arithmetic":  {},
	"thread_occupancy": {},
	"fp16_idle_lanes":  {},
}

// FormatValue formats a property value for display. The property name only
// affects formatting of integers.
func FormatValue(name string, v Value) string {
	switch x := v.(type) {
	case Bool:
		if x {
			return "True"
		}
		return "False"
	case Integer:
		s := strconv.FormatInt(int64(x), 10)
		if _, ok := percentProperties[name]; ok {
			s += "%"
		}
		return s
	case nil:
		return ""
	default:
		panic("report: unknown value type")
	}
}

// FormatCycles formats a cycle count with two decimals
func FormatCycles(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

// BoundBy returns display names of the bound pipelines, joined by a comma
func BoundBy(hw Hardware, c Cycles) string {
	names := make([]string, 0, len(c.BoundPipelines))
	for _, name := range c.BoundPipelines {
		names = append(names, hw.DisplayName(name))
	}
	return strings.Join(names, ", ")
}
