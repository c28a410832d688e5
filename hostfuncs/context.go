package hostfuncs

import (
	"context"
)

// HostContext is the context handed to a ByteHandler. It names the invoked
// function and carries call-scoped values set by middleware.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// SetValue stores a call-scoped value.
	SetValue(key, value any)

	// GetValue retrieves a value stored with SetValue.
	GetValue(key any) (value any, ok bool)
}

type hostContext struct {
	context.Context
	values   map[any]any
	funcName string
}

// NewHostContext wraps ctx for a call to funcName.
func NewHostContext(ctx context.Context, funcName string) HostContext {
	return &hostContext{Context: ctx, funcName: funcName, values: make(map[any]any)}
}

func (c *hostContext) FunctionName() string { return c.funcName }

func (c *hostContext) SetValue(key, value any) { c.values[key] = value }

func (c *hostContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// HostContextFrom returns ctx if it already is a HostContext, otherwise it
// wraps it.
func HostContextFrom(ctx context.Context, funcName string) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, funcName)
}
