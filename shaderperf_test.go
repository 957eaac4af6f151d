package shaderperf_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/stretchr/testify/require"
)

var (
	shaderperfPath string
	maliocPath     string // fake offline compiler printing fragment.json

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("shaderperf-ci") {
		slog.Warn("integration tests skipped, run go build -race -cover -covermode=atomic -o shaderperf-ci ./cmd/shaderperf/ first")
		os.Exit(0)
	}
	if _, err := exec.LookPath("sh"); err != nil {
		slog.Warn("integration tests skipped, binary sh not available")
		os.Exit(0)
	}

	var err error
	shaderperfPath, err = filepath.Abs("shaderperf-ci")
	if err != nil {
		slog.Error("can't get abspath for shaderperf-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for shaderperf-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for shaderperf-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	// the fake compiler is written before anything is executed, so it
	// never fails with "text file busy"
	fakeDir, err := os.MkdirTemp("", "shaderperf-malioc-")
	if err != nil {
		slog.Error("can't create directory for fake malioc", "error", err)
		os.Exit(1)
	}
	maliocPath, err = writeFakeMalioc(fakeDir)
	if err != nil {
		slog.Error("can't create fake malioc", "error", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(fakeDir)
	os.Exit(code)
}

func writeFakeMalioc(dir string) (string, error) {
	report, err := filepath.Abs("internal/report/testdata/fragment.json")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(report); err != nil {
		return "", err
	}
	script := `#!/bin/sh
for a in "$@"; do
	if [ "$a" = "json" ]; then
		cat '` + report + `'
		exit 0
	fi
done
echo 'Mali Offline Compiler v8.7.0 (Build 2d8b2a9b)'
`
	path := filepath.Join(dir, "malioc")
	return path, os.WriteFile(path, []byte(script), 0o755)
}

func config(malioc string) string {
	return `
version: 0
compiler:
    path: "` + malioc + `"
    timeout: "30s"
analysis:
    api: "vulkan"
    stage: "fragment"
service:
    verbose: true
`
}

func run(t *testing.T, args ...string) (stdout, stderr bytes.Buffer, err error) {
	t.Helper()
	return runStdin(t, nil, args...)
}

func runStdin(t *testing.T, stdin io.Reader, args ...string) (stdout, stderr bytes.Buffer, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	cmd := exec.CommandContext(ctx, shaderperfPath, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "SHADERPERFCONFIG=shaderperf.yaml")
	err = cmd.Run()
	return
}

func TestAnalyze(t *testing.T) {
	_ = chDir(t)
	creat(t, "shaderperf.yaml", []byte(config(maliocPath)))
	creat(t, "Unlit_Texture.frag.spv", []byte{0x03, 0x02, 0x23, 0x07})
	creat(t, "Lit.frag.spv", []byte{0x03, 0x02, 0x23, 0x07})

	t.Run("cyclonedx", func(t *testing.T) {
		stdout, stderr, err := run(t, "analyze", "--format", "cyclonedx", "--jobs", "2", "Unlit_Texture.frag.spv", "Lit.frag.spv")
		if err != nil {
			t.Logf("%s", stderr.String())
			require.NoError(t, err)
		}
		creat(t, "TestAnalyze.cdx.json", stdout.Bytes())

		bom := cdx.BOM{}
		err = cdx.NewBOMDecoder(&stdout, cdx.BOMFileFormatJSON).Decode(&bom)
		require.NoError(t, err)
		require.Len(t, *bom.Components, 4)
		names := make([]string, len(*bom.Components))
		for i, compo := range *bom.Components {
			names[i] = compo.Name
		}
		require.Equal(t, []string{
			"Unlit_Texture.frag.spv",
			"Temp/Unlit_Texture.frag Main",
			"Lit.frag.spv",
			"Temp/Unlit_Texture.frag Main",
		}, names)
	})

	t.Run("stdin", func(t *testing.T) {
		stdout, stderr, err := runStdin(t, bytes.NewReader([]byte{0x03, 0x02, 0x23, 0x07}), "analyze", "--format", "json", "-")
		if err != nil {
			t.Logf("%s", stderr.String())
			require.NoError(t, err)
		}
		require.Contains(t, stdout.String(), `"core": "Mali-G78"`)
	})

	t.Run("text to directory", func(t *testing.T) {
		_, stderr, err := run(t, "analyze", "--format", "text", "--out", "results", "Unlit_Texture.frag.spv")
		if err != nil {
			t.Logf("%s", stderr.String())
			require.NoError(t, err)
		}
		matches, err := filepath.Glob(filepath.Join("results", "Unlit_Texture.frag-*.txt"))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		raw, err := os.ReadFile(matches[0])
		require.NoError(t, err)
		require.Contains(t, string(raw), "Mali-G78 r1p1")
	})
}

func TestAnalyze_ToolNotFound(t *testing.T) {
	dir := chDir(t)
	creat(t, "shaderperf.yaml", []byte(config(filepath.Join(dir, "no-malioc"))))
	creat(t, "a.spv", []byte{0x03, 0x02, 0x23, 0x07})

	_, stderr, err := run(t, "analyze", "a.spv")
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 2, exitErr.ExitCode())
	require.Contains(t, stderr.String(), "configure its path")

	stdout, _, err := run(t, "analyze", "--format", "cyclonedx", "a.spv")
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 2, exitErr.ExitCode())
	bom := cdx.BOM{}
	err = cdx.NewBOMDecoder(&stdout, cdx.BOMFileFormatJSON).Decode(&bom)
	require.NoError(t, err)
	require.True(t, bom.Components == nil || len(*bom.Components) == 0)
	require.Len(t, *bom.Properties, 1)
	require.Equal(t, "shaderperf:failed", (*bom.Properties)[0].Name)
	require.Contains(t, (*bom.Properties)[0].Value, "a.spv: ")
}

func TestDecode(t *testing.T) {
	report, err := filepath.Abs("internal/report/testdata/fragment.json")
	require.NoError(t, err)
	_ = chDir(t)
	creat(t, "shaderperf.yaml", []byte(config(maliocPath)))

	stdout, stderr, err := run(t, "decode", "--format", "text", report)
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	require.Contains(t, stdout.String(), "Mali Offline Compiler v8.7.0 Build (2d8b2a9b)")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
