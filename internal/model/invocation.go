package model

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// TargetAPI is the graphics API the shader binary was compiled for
type TargetAPI string

const (
	TargetAPIVulkan TargetAPI = "vulkan"
	TargetAPIGLES   TargetAPI = "gles"
)

// Stage is the shader pipeline stage
type Stage string

const (
	StageVertex   Stage = "vertex"
	StageFragment Stage = "fragment"
	StageCompute  Stage = "compute"
)

// ReportFormat selects machine readable (json) or human readable (text)
// output of the offline compiler.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatText ReportFormat = "text"
)

// the three types implement pflag.Value, so they can be used as cobra flags

func (a TargetAPI) String() string { return string(a) }
func (a *TargetAPI) Type() string  { return "api" }
func (a *TargetAPI) Set(s string) error {
	return set(a, s, TargetAPIVulkan, TargetAPIGLES)
}

func (s Stage) String() string { return string(s) }
func (s *Stage) Type() string  { return "stage" }
func (s *Stage) Set(v string) error {
	return set(s, v, StageVertex, StageFragment, StageCompute)
}

func (f ReportFormat) String() string { return string(f) }
func (f *ReportFormat) Type() string  { return "format" }
func (f *ReportFormat) Set(s string) error {
	return set(f, s, FormatJSON, FormatText)
}

func set[T ~string](dst *T, s string, allowed ...T) error {
	v := T(s)
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("invalid value %q: possible values %v", s, allowed)
	}
	*dst = v
	return nil
}

// InvocationRequest describes one run of the offline compiler. Empty Stage or
// TargetAPI means the corresponding flag is not passed to the tool.
type InvocationRequest struct {
	Artifact  string
	Flags     []string
	Stage     Stage
	TargetAPI TargetAPI
	Format    ReportFormat
}

// WithFormat returns a copy of the request with a different report format
func (r InvocationRequest) WithFormat(f ReportFormat) InvocationRequest {
	ret := r
	ret.Flags = append([]string(nil), r.Flags...)
	ret.Format = f
	return ret
}

// CheckArtifact returns ErrArtifactNotFound unless Artifact is an existing
// regular file.
func (r InvocationRequest) CheckArtifact() error {
	if r.Artifact == "" {
		return fmt.Errorf("%w: empty path", ErrArtifactNotFound)
	}
	info, err := os.Stat(r.Artifact)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrArtifactNotFound, r.Artifact)
	}
	return nil
}

// WriteArtifact stores an opaque compiled shader blob at path, creating the
// missing parent directories. The bytes are not interpreted.
func WriteArtifact(path string, blob []byte) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrArtifactNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}
