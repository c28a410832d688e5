package entities

import (
	"fmt"
	"slices"
	"time"
)

// ExecutionModel identifies how a guest module interacts with the host.
type ExecutionModel string

const (
	// ModelImported is a guest with no host imports that computes purely over
	// host-supplied bytes.
	ModelImported ExecutionModel = "imported"

	// ModelReactor is a guest that imports host functions for deferred I/O and
	// exposes an initialization export that runs once after instantiation.
	ModelReactor ExecutionModel = "reactor"
)

// Valid reports whether m is a known execution model.
func (m ExecutionModel) Valid() bool {
	return m == ModelImported || m == ModelReactor
}

// Capability is a static feature flag surfaced to option dialogs.
type Capability string

const (
	// CapabilityAuxiliaryFiles means the plugin accepts auxiliary definition
	// files (e.g. FIBEX) through its options.
	CapabilityAuxiliaryFiles Capability = "auxiliary-files"
	// CapabilityTimezone means the plugin supports a timezone override.
	CapabilityTimezone Capability = "timezone"
	// CapabilityLogLevelFilter means the plugin filters entries by severity.
	CapabilityLogLevelFilter Capability = "log-level-filter"
	// CapabilityStorageHeader means the plugin can parse an optional storage header.
	CapabilityStorageHeader Capability = "storage-header"
	// CapabilityMTINMapping means the plugin accepts a message type info mapping.
	CapabilityMTINMapping Capability = "mtin-mapping"
)

// KnownCapabilities lists every capability the host understands.
var KnownCapabilities = []Capability{
	CapabilityAuxiliaryFiles,
	CapabilityTimezone,
	CapabilityLogLevelFilter,
	CapabilityStorageHeader,
	CapabilityMTINMapping,
}

// Capabilities is a set of capability flags.
type Capabilities []Capability

// Has reports whether c is part of the set.
func (cs Capabilities) Has(c Capability) bool {
	return slices.Contains(cs, c)
}

// Strings returns the capabilities as plain strings, sorted.
func (cs Capabilities) Strings() []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	slices.Sort(out)
	return out
}

// Limits are per-format overrides of the host's sandbox limits.
// Zero values mean "use the host default".
type Limits struct {
	MaxMemoryPages uint32        `json:"max_memory_pages,omitempty" yaml:"max_memory_pages,omitempty" validate:"max=65536"`
	InvokeTimeout  time.Duration `json:"invoke_timeout,omitempty" yaml:"invoke_timeout,omitempty"`
}

// PluginDescriptor describes one supported format and where its artifact lives.
// Descriptors are immutable once registered.
type PluginDescriptor struct {
	FormatID             string         `json:"format" yaml:"format" validate:"required,max=64"`
	Model                ExecutionModel `json:"model" yaml:"model" validate:"required,oneof=imported reactor"`
	BinaryPath           string         `json:"binary" yaml:"binary" validate:"required"`
	Description          string         `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities         Capabilities   `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Limits               Limits         `json:"limits,omitempty" yaml:"limits,omitempty"`
	ABIVersion           uint32         `json:"abi_version" yaml:"abi_version" validate:"required"`
	OptionsSchemaVersion uint32         `json:"options_schema" yaml:"options_schema" validate:"required"`
}

// String returns a short human-readable identifier.
func (d PluginDescriptor) String() string {
	return fmt.Sprintf("%s (abi v%d, %s)", d.FormatID, d.ABIVersion, d.Model)
}

// Clone returns a deep copy so callers cannot mutate registry-owned state.
func (d PluginDescriptor) Clone() PluginDescriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}
