package entities

import (
	"time"
)

// HostConfig holds the sandbox limits and dispatcher policy of a parser host.
type HostConfig struct {
	// InvokeTimeout bounds every guest call. An instance that exceeds it is torn down.
	InvokeTimeout time.Duration `json:"invoke_timeout" validate:"required"`

	// QuarantineCooldown is how long a format stays quarantined after tripping.
	QuarantineCooldown time.Duration `json:"quarantine_cooldown"`

	// LogRatePerSecond limits guest write_log calls per session.
	LogRatePerSecond float64 `json:"log_rate_per_second" validate:"gte=0"`

	// LogBurst is the token bucket size for guest write_log calls.
	LogBurst int `json:"log_burst" validate:"gte=1"`

	// MemoryLimitPages caps guest linear memory (64 KiB pages).
	MemoryLimitPages uint32 `json:"memory_limit_pages" validate:"required,max=65536"`

	// MaxOutputBytes caps a single decoded parse result.
	MaxOutputBytes uint32 `json:"max_output_bytes" validate:"required"`

	// MaxReadFileBytes caps a single read_file response to a reactor guest.
	MaxReadFileBytes uint32 `json:"max_read_file_bytes" validate:"required"`

	// QuarantineThreshold is the number of consecutive terminal faults of one
	// format after which new sessions for it are refused. Zero disables it.
	QuarantineThreshold uint32 `json:"quarantine_threshold"`
}

// DefaultHostConfig returns the default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		InvokeTimeout:       5 * time.Second,
		MemoryLimitPages:    256, // 16 MiB
		MaxOutputBytes:      64 << 20,
		MaxReadFileBytes:    1 << 20,
		LogRatePerSecond:    100,
		LogBurst:            50,
		QuarantineThreshold: 5,
		QuarantineCooldown:  30 * time.Second,
	}
}

// EffectiveLimits merges per-format limits over the host defaults.
func (c HostConfig) EffectiveLimits(l Limits) Limits {
	out := Limits{MaxMemoryPages: c.MemoryLimitPages, InvokeTimeout: c.InvokeTimeout}
	if l.MaxMemoryPages > 0 && l.MaxMemoryPages < out.MaxMemoryPages {
		out.MaxMemoryPages = l.MaxMemoryPages
	}
	if l.InvokeTimeout > 0 {
		out.InvokeTimeout = l.InvokeTimeout
	}
	return out
}
