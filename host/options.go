package host

import (
	"log/slog"
	"time"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/tetratelabs/wazero"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithHostConfig replaces the default host limits.
func WithHostConfig(cfg entities.HostConfig) Option {
	return func(r *Runtime) {
		r.config = cfg
	}
}

// WithLogger sets the logger used for instance lifecycle and guest logs.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithClock sets the clock reactor guests read through get_time.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// WithCompilationCache shares a cache owned by the caller. The Runtime will
// not close it.
func WithCompilationCache(c wazero.CompilationCache) Option {
	return func(r *Runtime) {
		r.cache = c
		r.ownsCache = false
	}
}

// WithMemoryLimitPages sets the default guest memory ceiling in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(r *Runtime) {
		r.config.MemoryLimitPages = pages
	}
}

// WithInvokeTimeout sets the default budget of a single guest call.
func WithInvokeTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.config.InvokeTimeout = d
	}
}
