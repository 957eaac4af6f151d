// Package malioc binds the Arm Mali Offline Compiler command line to the
// process runner.
package malioc

import (
	"runtime"
	"time"

	"github.com/shaderperf/shaderperf/internal/model"
	"github.com/shaderperf/shaderperf/internal/runner"
)

const darwinBinary = "/Applications/Arm_Performance_Studio_2025.3/mali_offline_compiler/malioc"

// DefaultBinary returns the executable used when no path is configured
func DefaultBinary() string {
	return defaultBinary(runtime.GOOS)
}

func defaultBinary(goos string) string {
	switch goos {
	case "darwin":
		return darwinBinary
	case "windows":
		return "malioc.exe"
	default:
		return "malioc"
	}
}

// Compiler builds invocations of the offline compiler. The zero value runs
// DefaultBinary without extra arguments.
type Compiler struct {
	binary  string
	extra   []string
	timeout time.Duration
}

func NewCompiler(cfg model.Compiler) (Compiler, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return Compiler{}, err
	}
	return Compiler{}.
		WithBinary(cfg.Path).
		WithArgs(cfg.Args...).
		WithTimeout(timeout), nil
}

// WithBinary returns a copy using a given executable, empty path means
// DefaultBinary
func (c Compiler) WithBinary(path string) Compiler {
	c.binary = path
	return c
}

// WithArgs returns a copy passing additional arguments on every invocation
func (c Compiler) WithArgs(args ...string) Compiler {
	c.extra = append(append([]string(nil), c.extra...), args...)
	return c
}

// WithTimeout returns a copy with a per invocation timeout, zero disables it
func (c Compiler) WithTimeout(d time.Duration) Compiler {
	c.timeout = d
	return c
}

func (c Compiler) Binary() string {
	if c.binary == "" {
		return DefaultBinary()
	}
	return c.binary
}

// Args returns the argument vector for a request. The order is fixed: api,
// stage, format, --detailed, extra arguments of the compiler, flags of the
// request and the artifact path last.
func (c Compiler) Args(req model.InvocationRequest) []string {
	args := make([]string, 0, 6+len(c.extra)+len(req.Flags))
	if req.TargetAPI == model.TargetAPIVulkan {
		args = append(args, "--vulkan")
	}
	if req.Stage != "" {
		args = append(args, "--"+string(req.Stage))
	}
	if req.Format == model.FormatJSON {
		args = append(args, "--format", "json")
	}
	args = append(args, "--detailed")
	for _, flags := range [][]string{c.extra, req.Flags} {
		for _, f := range flags {
			if f != "" {
				args = append(args, f)
			}
		}
	}
	return append(args, req.Artifact)
}

// Command returns the runner command for a request
func (c Compiler) Command(req model.InvocationRequest) runner.Command {
	return runner.Command{
		Path:    c.Binary(),
		Args:    c.Args(req),
		Timeout: c.timeout,
	}
}
