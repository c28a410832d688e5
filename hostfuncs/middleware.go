package hostfuncs

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a ByteHandler with cross-cutting behavior.
type Middleware func(next ByteHandler) ByteHandler

// PanicRecoveryMiddleware turns a handler panic into an INTERNAL_ERROR
// response so a host-side bug never takes the guest call down with it.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = NewPanicError(r).ToJSON()
					err = nil
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware logs every host function call at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			name := "unknown"
			if hc, ok := ctx.(HostContext); ok {
				name = hc.FunctionName()
			}
			start := time.Now()
			resp, err := next(ctx, payload)
			if err != nil {
				logger.WarnContext(ctx, "host function failed", "function", name, "error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "host function completed",
				"function", name,
				"request_bytes", len(payload),
				"response_bytes", len(resp),
				"duration", time.Since(start),
			)
			return resp, nil
		}
	}
}
