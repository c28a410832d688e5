// Package registry maps format identifiers to plugin descriptors. It has a
// single writer and many concurrent readers.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/logweave/parserhost/application/schema"
	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/infrastructure/parser"
)

// ManifestName is the file Discover looks for in each plugin directory.
const ManifestName = "plugin.yaml"

var validate = validator.New()

type registryConfig struct {
	parser     ports.ManifestParser
	renderer   ports.TemplateEngine
	vars       map[string]string
	logger     *slog.Logger
	strictMode bool
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		parser:     parser.NewYamlManifestParser(),
		logger:     slog.Default(),
		strictMode: true,
	}
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*registryConfig)

// WithStrictMode enables/disables strict mode for duplicate registrations.
// Default is true (ErrDuplicateFormat). Disable for hot-reloading manifests.
func WithStrictMode(enabled bool) RegistryOption {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// WithParser sets the manifest parser used by Discover.
func WithParser(p ports.ManifestParser) RegistryOption {
	return func(c *registryConfig) {
		c.parser = p
	}
}

// WithTemplateEngine renders every manifest through engine before parsing.
// Templates see {{.vars.<name>}} from WithManifestVars and {{.plugin_dir}}.
func WithTemplateEngine(engine ports.TemplateEngine) RegistryOption {
	return func(c *registryConfig) {
		c.renderer = engine
	}
}

// WithManifestVars sets the variables available to manifest templates.
func WithManifestVars(vars map[string]string) RegistryOption {
	return func(c *registryConfig) {
		c.vars = vars
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(c *registryConfig) {
		c.logger = l
	}
}

// Registry implements ports.FormatResolver and ports.SchemaRegistry.
type Registry struct {
	descriptors map[string]entities.PluginDescriptor
	schemas     map[string]string
	config      registryConfig
	mu          sync.RWMutex
}

var (
	_ ports.FormatResolver = (*Registry)(nil)
	_ ports.SchemaRegistry = (*Registry)(nil)
)

// NewRegistry creates a new Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		config:      cfg,
		descriptors: make(map[string]entities.PluginDescriptor),
		schemas:     make(map[string]string),
	}
}

// Register validates desc and adds it.
func (r *Registry) Register(desc entities.PluginDescriptor) error {
	if err := validate.Struct(desc); err != nil {
		return fmt.Errorf("invalid descriptor for %q: %w", desc.FormatID, err)
	}
	for _, c := range desc.Capabilities {
		if !slices.Contains(entities.KnownCapabilities, c) {
			return fmt.Errorf("invalid descriptor for %q: unknown capability %q", desc.FormatID, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[desc.FormatID]; exists && r.config.strictMode {
		return fmt.Errorf("%q: %w", desc.FormatID, domainerrors.ErrDuplicateFormat)
	}
	r.descriptors[desc.FormatID] = desc.Clone()
	return nil
}

// Resolve implements ports.FormatResolver.
func (r *Registry) Resolve(formatID string) (entities.PluginDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[formatID]
	if !ok {
		return entities.PluginDescriptor{}, &domainerrors.UnknownFormatError{FormatID: formatID}
	}
	return desc.Clone(), nil
}

// Formats returns every registered descriptor, sorted by format id.
func (r *Registry) Formats() []entities.PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.PluginDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormatID < out[j].FormatID })
	return out
}

// Capabilities returns the capability flags of formatID.
func (r *Registry) Capabilities(formatID string) (entities.Capabilities, error) {
	desc, err := r.Resolve(formatID)
	if err != nil {
		return nil, err
	}
	return desc.Capabilities, nil
}

// RegisterOptionsSchema implements ports.SchemaRegistry: it stores the JSON
// schema of the typed options model for formatID.
func (r *Registry) RegisterOptionsSchema(formatID string, model any) error {
	data, err := schema.GenerateSchema(model)
	if err != nil {
		return fmt.Errorf("options schema for %s: %w", formatID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[formatID]; exists && r.config.strictMode {
		return fmt.Errorf("options schema for %q already registered", formatID)
	}
	r.schemas[formatID] = string(data)
	return nil
}

// GetSchema implements ports.SchemaRegistry.
func (r *Registry) GetSchema(formatID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[formatID]
	return s, ok
}

// OptionsSchema returns the options schema of a registered format.
func (r *Registry) OptionsSchema(formatID string) (string, error) {
	if _, err := r.Resolve(formatID); err != nil {
		return "", err
	}
	s, ok := r.GetSchema(formatID)
	if !ok {
		return "", fmt.Errorf("format %q has no options schema", formatID)
	}
	return s, nil
}

// List returns every registered format id, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Discover registers every <dir>/*/plugin.yaml manifest. A relative binary
// path is resolved against the manifest's directory. Broken manifests are
// skipped and reported together; the rest still register.
func (r *Registry) Discover(dirs ...string) ([]string, error) {
	var (
		found []string
		errs  []error
	)
	for _, dir := range dirs {
		matches, err := doublestar.Glob(os.DirFS(dir), "*/"+ManifestName)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", dir, err))
			continue
		}
		sort.Strings(matches)
		for _, rel := range matches {
			path := filepath.Join(dir, filepath.FromSlash(rel))
			desc, err := r.loadManifest(path)
			if err == nil {
				err = r.Register(*desc)
			}
			if err != nil {
				r.config.logger.Warn("skipping plugin manifest", "path", path, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			r.config.logger.Debug("registered plugin", "format", desc.FormatID, "binary", desc.BinaryPath)
			found = append(found, desc.FormatID)
		}
	}
	return found, errors.Join(errs...)
}

func (r *Registry) loadManifest(path string) (*entities.PluginDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if r.config.renderer != nil {
		vars := r.config.vars
		if vars == nil {
			vars = map[string]string{}
		}
		data, err = r.config.renderer.Render(data, map[string]any{
			"vars":       vars,
			"plugin_dir": filepath.Dir(path),
		})
		if err != nil {
			return nil, err
		}
	}
	desc, err := r.config.parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if desc.BinaryPath != "" && !filepath.IsAbs(desc.BinaryPath) {
		desc.BinaryPath = filepath.Join(filepath.Dir(path), desc.BinaryPath)
	}
	return desc, nil
}
