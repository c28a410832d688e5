package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/internal/abi"
	wazeroadapter "github.com/logweave/parserhost/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// Instance is one loaded guest. It implements ports.Sandbox and, like every
// Sandbox, is not safe for concurrent use.
type Instance struct {
	runtime  wazero.Runtime
	module   api.Module
	guestLog *wazeroadapter.GuestLogger
	logger   *slog.Logger
	desc     entities.PluginDescriptor
	budget   time.Duration
	faulted  bool
	released bool
}

var _ ports.Sandbox = (*Instance)(nil)

// Descriptor returns the descriptor the instance was loaded from.
func (i *Instance) Descriptor() entities.PluginDescriptor {
	return i.desc
}

// Model implements ports.Sandbox.
func (i *Instance) Model() entities.ExecutionModel {
	return i.desc.Model
}

// Budget returns the time allowed for a single guest call.
func (i *Instance) Budget() time.Duration {
	return i.budget
}

// DroppedLogs returns how many write_log calls were rate limited. It is
// always zero for imported-model guests.
func (i *Instance) DroppedLogs() uint64 {
	if i.guestLog == nil {
		return 0
	}
	return i.guestLog.Dropped()
}

// Invoke implements ports.Sandbox. Each call runs under its own deadline;
// when it expires the runtime aborts the guest and the instance is released.
func (i *Instance) Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error) {
	if i.released {
		return nil, fmt.Errorf("invoke %s: %w", function, domainerrors.ErrSessionClosed)
	}

	fn := i.module.ExportedFunction(function)
	if fn == nil {
		return nil, i.fault(ctx, function, &domainerrors.GuestTrapError{Function: function, Err: errors.New("export not found")})
	}

	callCtx := wazeroadapter.WithFormat(ctx, i.desc.FormatID)
	var cancel context.CancelFunc
	if i.budget > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, i.budget)
		defer cancel()
	}

	results, err := fn.Call(callCtx, args...)
	if err != nil {
		return nil, i.fault(ctx, function, i.classify(ctx, function, err))
	}
	return results, nil
}

// classify maps a failed call to a domain error. An abort caused by the
// caller's own context is reported as a trap wrapping ctx.Err(); only the
// per-call budget yields a TimeoutError.
func (i *Instance) classify(ctx context.Context, function string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domainerrors.GuestTrapError{Function: function, Err: ctxErr}
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return &domainerrors.TimeoutError{Function: function, Budget: i.budget}
		case sys.ExitCodeContextCanceled:
			return &domainerrors.GuestTrapError{Function: function, Err: context.Canceled}
		}
	}
	return &domainerrors.GuestTrapError{Function: function, Err: err}
}

// fault marks the instance faulted and releases the runtime. The guest's
// state is unknown after a trap, so nothing is called on it again.
func (i *Instance) fault(ctx context.Context, function string, err error) error {
	i.faulted = true
	i.logger.WarnContext(ctx, "guest faulted", "function", function, "error", err)
	i.release(ctx)
	return err
}

func (i *Instance) release(ctx context.Context) {
	if i.released {
		return
	}
	i.released = true
	if err := i.runtime.Close(context.WithoutCancel(ctx)); err != nil {
		i.logger.DebugContext(ctx, "runtime close failed", "error", err)
	}
}

// Alloc implements ports.Sandbox.
func (i *Instance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := i.Invoke(ctx, abi.ExportAlloc, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return 0, &domainerrors.BridgeError{
			Kind:     domainerrors.BridgeAllocationFailed,
			Function: abi.ExportAlloc,
			Reason:   fmt.Sprintf("guest could not allocate %d bytes", size),
		}
	}
	return ptr, nil
}

// Dealloc implements ports.Sandbox.
func (i *Instance) Dealloc(ctx context.Context, ptr, size uint32) error {
	_, err := i.Invoke(ctx, abi.ExportDealloc, uint64(ptr), uint64(size))
	return err
}

// Read implements ports.Sandbox. The returned slice is a copy.
func (i *Instance) Read(ptr, size uint32) ([]byte, error) {
	if i.released {
		return nil, domainerrors.ErrSessionClosed
	}
	view, ok := i.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds at ptr=%d len=%d", ptr, size)
	}
	return append([]byte(nil), view...), nil
}

// Write implements ports.Sandbox.
func (i *Instance) Write(ptr uint32, data []byte) error {
	if i.released {
		return domainerrors.ErrSessionClosed
	}
	if !i.module.Memory().Write(ptr, data) {
		return fmt.Errorf("memory write out of bounds at ptr=%d len=%d", ptr, len(data))
	}
	return nil
}

// MemorySize implements ports.Sandbox.
func (i *Instance) MemorySize() uint32 {
	if i.released {
		return 0
	}
	return i.module.Memory().Size()
}

// Faulted implements ports.Sandbox.
func (i *Instance) Faulted() bool {
	return i.faulted
}

// Close implements ports.Sandbox.
func (i *Instance) Close(ctx context.Context) error {
	i.release(ctx)
	return nil
}
