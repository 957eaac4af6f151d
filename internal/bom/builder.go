package bom

import (
	"io"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/shaderperf/shaderperf/internal/report"
)

// property namespace
const ns = "shaderperf:"

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Artifact is an analyzed shader binary
type Artifact struct {
	Path   string
	SHA256 string // hex encoded, optional
}

// Builder is a builder pattern for a CycloneDX BOM structure
type Builder struct {
	reports      int
	components   []cdx.Component
	dependencies []cdx.Dependency
	properties   []cdx.Property
	now          func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		components:   []cdx.Component{},
		dependencies: []cdx.Dependency{},
		properties:   []cdx.Property{},
		now:          time.Now,
	}
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

// AppendFailure records an artifact whose analysis did not complete
func (b *Builder) AppendFailure(a Artifact, reason string) *Builder {
	return b.AppendProperties(prop("failed", a.Path+": "+reason))
}

// AppendReport adds a file component for the artifact and a data component
// for every variant of every shader in r. The file depends on its variants.
// References are unique even when the same artifact is appended twice.
func (b *Builder) AppendReport(a Artifact, r *report.Report) *Builder {
	fileRef := "shader:" + strconv.Itoa(b.reports) + ":" + a.Path
	b.reports++
	file := cdx.Component{
		BOMRef: fileRef,
		Type:   cdx.ComponentTypeFile,
		Name:   filepath.Base(a.Path),
		Properties: &[]cdx.Property{
			prop("path", a.Path),
			prop("producer", r.Producer.Name+" "+r.Producer.VersionString()),
			prop("schema", r.Schema.Name+"/"+strconv.FormatInt(r.Schema.Version, 10)),
		},
	}
	if a.SHA256 != "" {
		file.Hashes = &[]cdx.Hash{{Algorithm: cdx.HashAlgoSHA256, Value: a.SHA256}}
	}
	b.components = append(b.components, file)

	refs := []string{}
	for i, shader := range r.Shaders {
		for j, variant := range shader.Variants {
			ref := fileRef + "#" + strconv.Itoa(i) + "/" + strconv.Itoa(j) + "/" + variant.Name
			refs = append(refs, ref)
			b.components = append(b.components, cdx.Component{
				BOMRef:      ref,
				Type:        cdx.ComponentTypeData,
				Name:        shader.Filename + " " + variant.Name,
				Description: shader.Shader.API + " " + shader.Shader.Type + " shader",
				Properties:  variantProperties(shader, variant),
			})
		}
	}
	b.dependencies = append(b.dependencies, cdx.Dependency{
		Ref:          fileRef,
		Dependencies: &refs,
	})
	return b
}

func variantProperties(shader report.ShaderReport, variant report.Variant) *[]cdx.Property {
	hw := shader.Hardware
	props := []cdx.Property{
		prop("hardware", hw.Core+" "+hw.Revision),
		prop("architecture", hw.Architecture),
		prop("driver", shader.Driver),
		prop("api", shader.Shader.API),
		prop("stage", shader.Shader.Type),
	}
	perf := variant.Performance
	for _, row := range perf.Rows() {
		for i, name := range perf.Pipelines {
			props = append(props, prop(string(row.Metric)+":"+name, report.FormatCycles(row.Counts[i])))
		}
		props = append(props, prop(string(row.Metric)+":bound", report.BoundBy(hw, report.Cycles{BoundPipelines: row.BoundPipelines})))
	}
	for _, p := range variant.Properties {
		props = append(props, prop("property:"+p.Name, report.FormatValue(p.Name, p.Value)))
	}
	for _, p := range shader.Properties {
		props = append(props, prop("shader_property:"+p.Name, report.FormatValue(p.Name, p.Value)))
	}
	return &props
}

func prop(name, value string) cdx.Property {
	return cdx.Property{Name: ns + name, Value: value}
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() cdx.BOM {
	return cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: b.now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: cdx.LifecyclePhaseBuild,
				},
			},
			// This can't be not nil otherwise this error will happen
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    cdx.ComponentTypeApplication,
				Name:    "shaderperf",
				Version: version,
			},
		},
		Components:   &b.components,
		Dependencies: &b.dependencies,
		Properties:   &b.properties,
	}
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}
