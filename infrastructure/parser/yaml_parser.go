// Package parser reads plugin.yaml manifests.
package parser

import (
	"bytes"
	"fmt"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/domain/ports"
	"gopkg.in/yaml.v3"
)

// YamlManifestParser implements ManifestParser for YAML.
type YamlManifestParser struct{}

// NewYamlManifestParser creates a new YamlManifestParser.
func NewYamlManifestParser() ports.ManifestParser {
	return &YamlManifestParser{}
}

// Parse unmarshals a plugin.yaml document. Unknown keys are rejected so a
// misspelled limit does not silently fall back to the host default.
func (p *YamlManifestParser) Parse(data []byte) (*entities.PluginDescriptor, error) {
	var desc entities.PluginDescriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &desc, nil
}
