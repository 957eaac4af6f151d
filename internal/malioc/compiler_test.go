package malioc_test

import (
	"testing"
	"time"

	"github.com/shaderperf/shaderperf/internal/malioc"
	"github.com/shaderperf/shaderperf/internal/model"

	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    model.InvocationRequest
		extra    []string
		then     []string
	}{
		{
			scenario: "vulkan fragment json",
			given: model.InvocationRequest{
				Artifact:  "/tmp/a.spv",
				Stage:     model.StageFragment,
				TargetAPI: model.TargetAPIVulkan,
				Format:    model.FormatJSON,
			},
			then: []string{"--vulkan", "--fragment", "--format", "json", "--detailed", "/tmp/a.spv"},
		},
		{
			scenario: "gles text",
			given: model.InvocationRequest{
				Artifact:  "/tmp/a.vert",
				Stage:     model.StageVertex,
				TargetAPI: model.TargetAPIGLES,
				Format:    model.FormatText,
			},
			then: []string{"--vertex", "--detailed", "/tmp/a.vert"},
		},
		{
			scenario: "no stage and no api",
			given: model.InvocationRequest{
				Artifact: "a.comp",
				Format:   model.FormatJSON,
			},
			then: []string{"--format", "json", "--detailed", "a.comp"},
		},
		{
			scenario: "extra flags keep order and skip empty",
			given: model.InvocationRequest{
				Artifact: "My Shader.spv",
				Flags:    []string{"--entry", "", "main"},
				Stage:    model.StageCompute,
				Format:   model.FormatJSON,
			},
			extra: []string{"-c", "Mali-G78"},
			then:  []string{"--compute", "--format", "json", "--detailed", "-c", "Mali-G78", "--entry", "main", "My Shader.spv"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			c := malioc.Compiler{}.WithArgs(tc.extra...)
			require.Equal(t, tc.then, c.Args(tc.given))
		})
	}
}

func TestDefaultBinary(t *testing.T) {
	t.Parallel()
	require.Equal(t, "/Applications/Arm_Performance_Studio_2025.3/mali_offline_compiler/malioc", malioc.DefaultBinaryFor("darwin"))
	require.Equal(t, "malioc.exe", malioc.DefaultBinaryFor("windows"))
	require.Equal(t, "malioc", malioc.DefaultBinaryFor("linux"))
	require.Equal(t, malioc.DefaultBinary(), malioc.Compiler{}.Binary())
}

func TestNewCompiler(t *testing.T) {
	t.Parallel()
	c, err := malioc.NewCompiler(model.Compiler{
		Path:    "/opt/arm/malioc",
		Timeout: "30s",
		Args:    []string{"-c", "Mali-G710"},
	})
	require.NoError(t, err)

	req := model.InvocationRequest{Artifact: "a.spv", Format: model.FormatText}
	cmd := c.Command(req)
	require.Equal(t, "/opt/arm/malioc", cmd.Path)
	require.Equal(t, 30*time.Second, cmd.Timeout)
	require.Equal(t, []string{"--detailed", "-c", "Mali-G710", "a.spv"}, cmd.Args)

	_, err = malioc.NewCompiler(model.Compiler{Timeout: "soon"})
	require.Error(t, err)
}

func TestWithArgs_DoesNotAlias(t *testing.T) {
	t.Parallel()
	base := malioc.Compiler{}.WithArgs("-a")
	one := base.WithArgs("-b")
	two := base.WithArgs("-c")
	req := model.InvocationRequest{Artifact: "x"}
	require.Equal(t, []string{"--detailed", "-a", "-b", "x"}, one.Args(req))
	require.Equal(t, []string{"--detailed", "-a", "-c", "x"}, two.Args(req))
}
