package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

type contextKey struct {
	name string
}

var formatKey = &contextKey{name: "format"}

// WithFormat records the format id of the guest being invoked.
func WithFormat(ctx context.Context, formatID string) context.Context {
	return context.WithValue(ctx, formatKey, formatID)
}

// FormatFromContext returns the format id set by WithFormat.
func FormatFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(formatKey).(string)
	return id, ok
}

// GetFormat returns the format id from ctx, falling back to the module name.
func GetFormat(ctx context.Context, mod api.Module) string {
	if id, ok := FormatFromContext(ctx); ok {
		return id
	}
	return mod.Name()
}
