package ports

import "github.com/logweave/parserhost/domain/entities"

// ManifestParser parses raw YAML bytes into a plugin descriptor.
type ManifestParser interface {
	// Parse unmarshals YAML bytes into a PluginDescriptor.
	Parse(data []byte) (*entities.PluginDescriptor, error)
}

// TemplateEngine renders a manifest template before it is parsed.
type TemplateEngine interface {
	Render(raw []byte, data map[string]any) ([]byte, error)
}
