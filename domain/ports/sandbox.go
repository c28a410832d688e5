package ports

import (
	"context"

	"github.com/logweave/parserhost/domain/entities"
)

// Sandbox is one isolated guest instance. Both execution models expose the
// same call shape, so callers never branch on which one they hold.
//
// A Sandbox is not safe for concurrent use; callers serialize access.
type Sandbox interface {
	// Model returns the execution model the instance was loaded with.
	Model() entities.ExecutionModel

	// Invoke calls an exported guest function within the execution budget.
	// A guest fault returns a GuestTrapError, an exceeded budget a TimeoutError;
	// both leave the instance faulted.
	Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error)

	// Alloc asks the guest allocator for size bytes. A zero pointer is
	// reported as an AllocationFailed BridgeError.
	Alloc(ctx context.Context, size uint32) (uint32, error)

	// Dealloc returns a buffer to the guest allocator.
	Dealloc(ctx context.Context, ptr, size uint32) error

	// Read copies size bytes at ptr out of guest memory.
	Read(ptr, size uint32) ([]byte, error)

	// Write copies data into guest memory at ptr.
	Write(ptr uint32, data []byte) error

	// MemorySize returns the current size of guest memory in bytes.
	MemorySize() uint32

	// Faulted reports whether the instance hit a trap or timeout.
	Faulted() bool

	// Close releases the instance. It is safe to call more than once.
	Close(ctx context.Context) error
}

// SandboxEnv carries the per-session environment handed to a new instance.
type SandboxEnv struct {
	// ReadPaths are files or directories a reactor guest may read.
	ReadPaths []string

	SessionID entities.SessionID
}

// ArtifactLoader turns a descriptor into a ready sandbox instance. On error
// nothing is retained.
type ArtifactLoader interface {
	Load(ctx context.Context, desc entities.PluginDescriptor, env SandboxEnv) (Sandbox, error)
}
