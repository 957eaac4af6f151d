package model

import (
	"errors"
)

var (
	ErrToolNotFound       = errors.New("no tool found, configure its path")
	ErrLaunchFailed       = errors.New("tool launch failed")
	ErrTimeout            = errors.New("tool timed out")
	ErrCanceled           = errors.New("analysis canceled")
	ErrMalformedReport    = errors.New("malformed report")
	ErrInconsistentReport = errors.New("inconsistent report")
	ErrArtifactNotFound   = errors.New("artifact not found")
)

// Reason returns a one-line user facing message for an analysis failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolNotFound):
		return "no tool found, configure its path (compiler.path or --malioc)"
	case errors.Is(err, ErrLaunchFailed):
		return "the tool could not be started: " + err.Error()
	case errors.Is(err, ErrTimeout):
		return "the tool did not finish in time, raise compiler.timeout"
	case errors.Is(err, ErrCanceled):
		return "analysis canceled"
	case errors.Is(err, ErrMalformedReport):
		return "the tool produced a report which can't be parsed: " + err.Error()
	case errors.Is(err, ErrInconsistentReport):
		return "the tool produced an inconsistent report: " + err.Error()
	case errors.Is(err, ErrArtifactNotFound):
		return "shader artifact does not exist: " + err.Error()
	default:
		return err.Error()
	}
}
