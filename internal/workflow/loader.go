package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogDocument struct {
	Steps []StepTemplate `yaml:"steps"`
}

// ParseCatalogYAML decodes and validates a catalog from YAML bytes.
//
//	steps:
//	  - order: 1
//	    stage: initiation
//	    name: Vice-President initial approval
//	    allowed_roles: [vice_president]
//	    signature_tag: vp_initial
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: catalog payload is empty")
	}
	var doc catalogDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("workflow: decode catalog: %w", err)
	}
	return NewCatalog(doc.Steps)
}

// LoadCatalogReader reads a catalog from r.
func LoadCatalogReader(r io.Reader) (*Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("workflow: read catalog: %w", err)
	}
	return ParseCatalogYAML(content)
}

// LoadCatalogFile loads a catalog from path. An empty path yields the
// default clearance catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	c, err := ParseCatalogYAML(content)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return c, nil
}
