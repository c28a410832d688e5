package ports

import "github.com/logweave/parserhost/domain/entities"

// FormatResolver resolves format identifiers to descriptors.
type FormatResolver interface {
	// Resolve returns the descriptor for formatID or an UnknownFormatError.
	Resolve(formatID string) (entities.PluginDescriptor, error)
}

// SchemaRegistry manages JSON schemas for typed parse options.
type SchemaRegistry interface {
	// RegisterOptionsSchema adds a schema generated from a Go struct.
	RegisterOptionsSchema(formatID string, model any) error

	// GetSchema retrieves the JSON Schema for a format's options.
	GetSchema(formatID string) (string, bool)
}

// OptionsValidator checks an options blob on the host before it is handed
// to a guest.
type OptionsValidator interface {
	// Validate returns a ConfigError if opts cannot be accepted for formatID.
	Validate(formatID string, opts entities.ParseOptions) error
}
