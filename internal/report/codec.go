package report

import (
	"encoding/json"
	"fmt"

	"github.com/shaderperf/shaderperf/internal/model"
)

// wireReport detects missing required fields, which plain json decoding
// would leave as zero values.
type wireReport struct {
	Producer *Producer       `json:"producer"`
	Schema   *Schema         `json:"schema"`
	Shaders  *[]ShaderReport `json:"shaders"`
}

// Decode parses the machine readable output of the offline compiler. It fails
// with model.ErrMalformedReport when the text is not valid JSON, a value has
// an unexpected kind, or producer, schema or shaders are missing. An empty
// shaders list is valid. Unknown fields are ignored.
func Decode(text []byte) (*Report, error) {
	var w wireReport
	if err := json.Unmarshal(text, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedReport, err)
	}
	switch {
	case w.Producer == nil:
		return nil, fmt.Errorf("%w: producer is missing", model.ErrMalformedReport)
	case w.Schema == nil:
		return nil, fmt.Errorf("%w: schema is missing", model.ErrMalformedReport)
	case w.Shaders == nil:
		return nil, fmt.Errorf("%w: shaders is missing", model.ErrMalformedReport)
	}
	return &Report{
		Producer: *w.Producer,
		Schema:   *w.Schema,
		Shaders:  *w.Shaders,
	}, nil
}

// Encode formats the report back to the wire format
func Encode(r *Report) ([]byte, error) {
	shaders := r.Shaders
	if shaders == nil {
		shaders = []ShaderReport{}
	}
	return json.MarshalIndent(wireReport{
		Producer: &r.Producer,
		Schema:   &r.Schema,
		Shaders:  &shaders,
	}, "", "  ")
}

// CheckSchema returns an error when the report comes from a producer using a
// different schema. Callers treat it as a warning.
func CheckSchema(s Schema) error {
	if s.Name != SchemaName {
		return fmt.Errorf("unexpected report schema %q, expected %q", s.Name, SchemaName)
	}
	if s.Version != SchemaVersion {
		return fmt.Errorf("report schema version %d differs from supported version %d", s.Version, SchemaVersion)
	}
	return nil
}
