package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/logweave/parserhost/domain/entities"
	"github.com/tetratelabs/wazero"
)

var validate = validator.New()

// Runtime is the state shared by every instance the host creates.
type Runtime struct {
	cache     wazero.CompilationCache
	logger    *slog.Logger
	now       func() time.Time
	config    entities.HostConfig
	ownsCache bool
}

// NewRuntime creates a Runtime with an in-memory compilation cache unless one
// is supplied.
func NewRuntime(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		config:    entities.DefaultHostConfig(),
		logger:    slog.Default(),
		now:       time.Now,
		ownsCache: true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := validate.Struct(r.config); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}
	if r.cache == nil {
		r.cache = wazero.NewCompilationCache()
		r.ownsCache = true
	}
	return r, nil
}

// Config returns the host limits.
func (r *Runtime) Config() entities.HostConfig {
	return r.config
}

// Close releases the compilation cache if the Runtime created it. Instances
// already loaded keep working until closed.
func (r *Runtime) Close(ctx context.Context) error {
	if r.ownsCache && r.cache != nil {
		return r.cache.Close(ctx)
	}
	return nil
}

func (r *Runtime) runtimeConfig(limits entities.Limits) wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(r.cache).
		WithCustomSections(true).
		WithMemoryLimitPages(limits.MaxMemoryPages)
}
