package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/logweave/parserhost/hostfuncs"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	// Logger receives adapter failures. Defaults to slog.Default().
	Logger *slog.Logger

	// ModuleName is the host module name (default: "host").
	ModuleName string

	// CustomHandlers are host functions outside the packed i64 convention.
	CustomHandlers []CustomHandler

	// MaxRequestSize limits a request read from guest memory.
	MaxRequestSize uint32
}

// CustomHandler is a host function registered with its own signature.
type CustomHandler struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name.
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxRequestSize sets the maximum request size from guest memory.
func WithMaxRequestSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxRequestSize = size
	}
}

// WithCustomHandler adds a custom host function.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// WithLogger sets the logger for adapter failures.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = l
	}
}

func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName:     abi.HostModule,
		MaxRequestSize: hostfuncs.DefaultMaxRequestSize,
	}
}

// RegisterWithRuntime instantiates the host module in runtime, exporting every
// handler of registry plus the custom handlers. A nil registry registers only
// the custom handlers.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, registry *hostfuncs.HandlerRegistry, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)

	if registry != nil {
		for _, name := range registry.Names() {
			funcName := name
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
					handleRegistryCall(ctx, mod, stack, registry, funcName, &cfg)
				}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
				Export(funcName)
		}
	}

	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate host module %q: %w", cfg.ModuleName, err)
	}
	return nil
}

func handleRegistryCall(ctx context.Context, mod api.Module, stack []uint64, registry *hostfuncs.HandlerRegistry, name string, cfg *AdapterConfig) {
	ptr, length := abi.UnpackPtrLen(stack[0])
	logger := cfg.Logger.With("function", name, "format", GetFormat(ctx, mod))

	if length > cfg.MaxRequestSize {
		msg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, cfg.MaxRequestSize)
		logger.WarnContext(ctx, "wazero: "+msg)
		stack[0] = writeResponse(ctx, mod, logger, hostfuncs.NewValidationError(msg).ToJSON())
		return
	}

	request, ok := mod.Memory().Read(ptr, length)
	if !ok {
		logger.WarnContext(ctx, "wazero: request outside guest memory", "ptr", ptr, "len", length)
		stack[0] = writeResponse(ctx, mod, logger, hostfuncs.NewValidationError("request outside guest memory").ToJSON())
		return
	}
	// the view aliases guest memory, which the handler must not observe changing
	request = append([]byte(nil), request...)

	response, err := registry.Invoke(ctx, name, request)
	if err != nil {
		logger.ErrorContext(ctx, "wazero: handler invocation failed", "error", err)
		response = hostfuncs.NewInternalError(err.Error()).ToJSON()
	}
	stack[0] = writeResponse(ctx, mod, logger, response)
}

// writeResponse copies data into memory obtained from the guest's alloc
// export and returns its packed location, or 0 when the guest cannot take it.
func writeResponse(ctx context.Context, mod api.Module, logger *slog.Logger, data []byte) uint64 {
	alloc := mod.ExportedFunction(abi.ExportAlloc)
	if alloc == nil {
		logger.ErrorContext(ctx, "wazero: guest missing alloc export")
		return 0
	}

	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		logger.ErrorContext(ctx, "wazero: guest alloc failed", "error", err)
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if ptr == 0 {
		logger.WarnContext(ctx, "wazero: guest alloc returned null", "size", len(data))
		return 0
	}

	if !mod.Memory().Write(ptr, data) {
		logger.ErrorContext(ctx, "wazero: response outside guest memory", "ptr", ptr, "size", len(data))
		return 0
	}

	return abi.PackPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by handler limits
}
