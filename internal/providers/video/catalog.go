package video

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"vidqueue/internal/domain"
)

// Payload families understood by BuildPayload.
const (
	FamilyStandard      = "standard"
	FamilyWan           = "wan"
	FamilyPixverse      = "pixverse"
	FamilyMotionControl = "motion_control"
	FamilySeedance      = "seedance"
)

// DefaultStatusEndpoint is polled for models missing from the catalog.
const DefaultStatusEndpoint = "/image-to-video/kling-v2-1"

//go:embed catalog.yaml
var catalogYAML []byte

// ModelSpec describes how one provider model is addressed.
type ModelSpec struct {
	ID             string `yaml:"-"`
	Endpoint       string `yaml:"endpoint"`
	StatusEndpoint string `yaml:"status"`
	Family         string `yaml:"family"`
	Param          string `yaml:"param"`
	RequiresHTTPS  bool   `yaml:"https"`
}

// UsesDuration reports whether the duration option is sent to the provider.
func (m ModelSpec) UsesDuration() bool { return m.Param == "duration" }

// Catalog maps lower-cased model ids to their spec.
type Catalog struct {
	models map[string]ModelSpec
}

// ParseCatalog reads a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Models map[string]ModelSpec `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("video: parse catalog: %w", err)
	}
	c := &Catalog{models: make(map[string]ModelSpec, len(doc.Models))}
	for id, spec := range doc.Models {
		id = strings.ToLower(strings.TrimSpace(id))
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("video: model %q has no endpoint", id)
		}
		spec.ID = id
		if spec.StatusEndpoint == "" {
			spec.StatusEndpoint = spec.Endpoint
		}
		if spec.Family == "" {
			spec.Family = FamilyStandard
		}
		c.models[id] = spec
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the spec for modelID, matched case-insensitively.
func (c *Catalog) Lookup(modelID string) (ModelSpec, error) {
	spec, ok := c.models[strings.ToLower(strings.TrimSpace(modelID))]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, modelID)
	}
	return spec, nil
}

// StatusEndpoint returns the polling path for modelID.
func (c *Catalog) StatusEndpoint(modelID string) string {
	if spec, err := c.Lookup(modelID); err == nil {
		return spec.StatusEndpoint
	}
	return DefaultStatusEndpoint
}
