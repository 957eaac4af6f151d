// Package output stores rendered analysis results.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Sink stores one rendered result. name identifies the analyzed artifact.
type Sink interface {
	Store(ctx context.Context, name string, raw []byte) error
}

type SinkCloser interface {
	Sink
	io.Closer
}

// New returns the sinks for an output directory. Results go to w when dir
// is empty.
func New(dir, ext string, w io.Writer) ([]Sink, error) {
	if dir == "" {
		return []Sink{NewWriteSink(w)}, nil
	}
	s, err := NewDirSink(dir, ext)
	if err != nil {
		return nil, err
	}
	return []Sink{s}, nil
}

// Store passes raw to all sinks and joins their errors
func Store(ctx context.Context, sinks []Sink, name string, raw []byte) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Store(ctx, name, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks which need it
func Close(ctx context.Context, sinks []Sink) {
	for _, s := range sinks {
		if closer, ok := s.(SinkCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing output have failed", "error", err)
			}
		}
	}
}

// Name derives a file name from an artifact path, e.g. shaders/Unlit.frag.spv
// gives Unlit.frag
func Name(artifact string) string {
	base := filepath.Base(artifact)
	if base == "." || base == string(filepath.Separator) {
		return "shader"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < ' ':
			return '_'
		default:
			return r
		}
	}, base)
	if base == "" {
		return "shader"
	}
	return base
}

type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Store(_ context.Context, _ string, raw []byte) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	_, err := s.w.Write(raw)
	return err
}

// DirSink writes every result into its own file inside a directory. Files
// can't escape the directory.
const maxSuffix = 1000

type DirSink struct {
	root *os.Root
	ext  string
	now  func() time.Time
}

func NewDirSink(path, ext string) (*DirSink, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root, ext: ext, now: time.Now}, nil
}

func (s *DirSink) Store(ctx context.Context, name string, raw []byte) error {
	if s.root == nil {
		return errors.New("output already closed")
	}

	f, path, err := s.create(name + "-" + s.now().Format("2006-01-02-15-04-05"))
	if err != nil {
		return err
	}
	_, err = f.Write(raw)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving %s: %w", path, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	slog.InfoContext(ctx, "result saved", "path", filepath.Join(s.root.Name(), path))
	return nil
}

// create never overwrites an existing result, a taken name gets a numeric
// suffix: Unlit-<time>.json, Unlit-<time>-1.json, ...
func (s *DirSink) create(stem string) (*os.File, string, error) {
	for i := 0; i < maxSuffix; i++ {
		path := stem + "." + s.ext
		if i > 0 {
			path = stem + "-" + strconv.Itoa(i) + "." + s.ext
		}
		f, err := s.root.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		switch {
		case err == nil:
			return f, path, nil
		case errors.Is(err, fs.ErrExist):
			continue
		default:
			return nil, "", fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("creating %s.%s: too many results with the same name", stem, s.ext)
}

func (s *DirSink) Close() error {
	if s.root == nil {
		return errors.New("output already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}
