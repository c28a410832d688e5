package wazero

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/time/rate"
)

// MaxGuestLogMessage truncates write_log messages.
const MaxGuestLogMessage = 4096

// GuestLogger forwards write_log calls to slog. Calls beyond the rate limit
// are dropped and counted.
type GuestLogger struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewGuestLogger limits guest logging to perSecond messages with the given
// burst. A non-positive perSecond disables the limit.
func NewGuestLogger(logger *slog.Logger, perSecond float64, burst int) *GuestLogger {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &GuestLogger{logger: logger, limiter: rate.NewLimiter(limit, burst)}
}

// Dropped returns how many messages the rate limit discarded.
func (g *GuestLogger) Dropped() uint64 {
	return g.dropped.Load()
}

// Handler returns write_log(level i32, ptr i32, len i32).
func (g *GuestLogger) Handler() CustomHandler {
	return CustomHandler{
		Name:       abi.HostWriteLog,
		ParamTypes: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
		Handler: func(ctx context.Context, mod api.Module, stack []uint64) {
			if !g.limiter.Allow() {
				g.dropped.Add(1)
				return
			}
			severity := entities.Severity(api.DecodeU32(stack[0])) //nolint:gosec // G115: out-of-range values map to info
			ptr, length := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
			truncated := false
			if length > MaxGuestLogMessage {
				length, truncated = MaxGuestLogMessage, true
			}
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				g.logger.WarnContext(ctx, "guest log outside memory", "format", GetFormat(ctx, mod), "ptr", ptr, "len", length)
				return
			}
			attrs := []any{"format", GetFormat(ctx, mod), "severity", severity.String()}
			if truncated {
				attrs = append(attrs, "truncated", true)
			}
			g.logger.Log(ctx, slogLevel(severity), string(msg), attrs...)
		},
	}
}

func slogLevel(s entities.Severity) slog.Level {
	switch s {
	case entities.SeverityFatal, entities.SeverityError:
		return slog.LevelError
	case entities.SeverityWarn:
		return slog.LevelWarn
	case entities.SeverityDebug, entities.SeverityVerbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// GetTimeHandler returns get_time() -> i64 reporting now in unix nanoseconds.
func GetTimeHandler(now func() time.Time) CustomHandler {
	if now == nil {
		now = time.Now
	}
	return CustomHandler{
		Name:        abi.HostGetTime,
		ResultTypes: []api.ValueType{api.ValueTypeI64},
		Handler: func(ctx context.Context, mod api.Module, stack []uint64) {
			stack[0] = api.EncodeI64(now().UnixNano())
		},
	}
}
