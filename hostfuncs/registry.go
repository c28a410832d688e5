package hostfuncs

import (
	"context"
	"fmt"
	"sort"
)

// HandlerRegistry is an immutable set of named host functions. It is built
// once per sandbox instance and only read afterwards, so lookups need no lock.
type HandlerRegistry struct {
	handlers map[string]ByteHandler
	names    []string // sorted
}

type registryBuilder struct {
	handlers   map[string]ByteHandler
	middleware []Middleware
	errors     []error
}

// RegistryOption configures a HandlerRegistry under construction.
type RegistryOption func(*registryBuilder)

// NewRegistry creates a HandlerRegistry. It fails if a name is empty or
// registered twice.
//
//	registry, err := hostfuncs.NewRegistry(
//	    hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware()),
//	    hostfuncs.WithBundle(hostfuncs.ReactorBundle(access, limit)),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{handlers: make(map[string]ByteHandler)}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.handlers))
	wrapped := make(map[string]ByteHandler, len(b.handlers))
	for name, h := range b.handlers {
		names = append(names, name)
		// first middleware ends up outermost
		for i := len(b.middleware) - 1; i >= 0; i-- {
			h = b.middleware[i](h)
		}
		wrapped[name] = h
	}
	sort.Strings(names)

	return &HandlerRegistry{handlers: wrapped, names: names}, nil
}

// Invoke dispatches a call by name. Unknown names answer with a NOT_FOUND
// ErrorResponse rather than a Go error so the guest can handle it.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return NewNotFoundError(name).ToJSON(), nil
	}
	return handler(HostContextFrom(ctx, name), payload)
}

// Has reports whether name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *HandlerRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

func (b *registryBuilder) addHandler(name string, handler ByteHandler) {
	switch {
	case name == "":
		b.errors = append(b.errors, fmt.Errorf("handler name cannot be empty"))
	case b.handlers[name] != nil:
		b.errors = append(b.errors, fmt.Errorf("duplicate handler name: %q", name))
	default:
		b.handlers[name] = handler
	}
}

// WithByteHandler registers a raw ByteHandler.
func WithByteHandler(name string, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		b.addHandler(name, handler)
	}
}

// WithHandler registers a typed handler with JSON encoding.
func WithHandler[Req any, Resp any](name string, fn HostFunc[Req, Resp]) RegistryOption {
	return WithByteHandler(name, NewJSONHandler(fn))
}

// WithBundle registers every handler of a bundle.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		handlers := bundle.Handlers()
		names := make([]string, 0, len(handlers))
		for name := range handlers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.addHandler(name, handlers[name])
		}
	}
}

// WithMiddleware appends middleware. The first one added runs outermost.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
