package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	OutputText      = "text"
	OutputJSON      = "json"
	OutputCycloneDX = "cyclonedx"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int      `json:"version" yaml:"version"` // fixed 0 for now
	Compiler Compiler `json:"compiler" yaml:"compiler"`
	Analysis Analysis `json:"analysis" yaml:"analysis"`
	Output   Output   `json:"output" yaml:"output"`
	Service  Service  `json:"service" yaml:"service"`
}

// Compiler configures the offline compiler binary.
type Compiler struct {
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"` // empty => platform default
	Timeout string   `json:"timeout" yaml:"timeout"`               // "90s", "5m", ...
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"` // appended after --detailed
}

// TimeoutDuration parses Timeout, zero means no timeout.
func (c Compiler) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing compiler.timeout: %w", err)
	}
	return d, nil
}

type Analysis struct {
	API      TargetAPI `json:"api" yaml:"api"`
	Stage    Stage     `json:"stage" yaml:"stage"`
	TextPass bool      `json:"text_pass" yaml:"text_pass"` // run the human readable second pass
}

type Output struct {
	Format string `json:"format" yaml:"format"`               // "text" | "json" | "cyclonedx"
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"` // empty => stdout
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
}

// DefaultConfig returns the configuration used when no file is present. It
// matches the defaults of config.cue.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Compiler: Compiler{
			Timeout: "5m",
		},
		Analysis: Analysis{
			API:      TargetAPIVulkan,
			Stage:    StageFragment,
			TextPass: true,
		},
		Output: Output{
			Format: OutputText,
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	if _, err := out.Compiler.TimeoutDuration(); err != nil {
		return Config{}, err
	}
	return out, nil
}
