package dispatcher

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/domain/ports"
)

// DefaultDrainChunkSize is the read size Drain uses unless overridden.
const DefaultDrainChunkSize = 64 << 10

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher and session logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracerProvider = tp
	}
}

// WithHostConfig replaces the host configuration.
func WithHostConfig(cfg entities.HostConfig) Option {
	return func(d *Dispatcher) {
		d.config = cfg
	}
}

// WithQuarantineThreshold sets the number of consecutive terminal faults
// after which a format is quarantined. Zero disables quarantine.
func WithQuarantineThreshold(n uint32) Option {
	return func(d *Dispatcher) {
		d.config.QuarantineThreshold = n
	}
}

// WithQuarantineCooldown sets how long a quarantined format is refused
// before a single probe session is let through.
func WithQuarantineCooldown(cooldown time.Duration) Option {
	return func(d *Dispatcher) {
		d.config.QuarantineCooldown = cooldown
	}
}

// WithOptionsValidator checks options on the host before they reach a guest.
func WithOptionsValidator(v ports.OptionsValidator) Option {
	return func(d *Dispatcher) {
		d.validator = v
	}
}

// WithDrainChunkSize sets the read size used by Drain.
func WithDrainChunkSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.drainChunk = n
		}
	}
}

// OpenOption configures a single OpenSource call.
type OpenOption func(*openConfig)

type openConfig struct {
	sourceKey string
	readPaths []string
}

// WithSourceKey binds the session to a caller-defined source identity, such
// as a file path. A key can only be bound to one open session at a time.
func WithSourceKey(key string) OpenOption {
	return func(c *openConfig) {
		c.sourceKey = key
	}
}

// WithReadPaths grants a reactor guest read access to paths.
func WithReadPaths(paths ...string) OpenOption {
	return func(c *openConfig) {
		c.readPaths = append(c.readPaths, paths...)
	}
}
