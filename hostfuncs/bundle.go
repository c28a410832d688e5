package hostfuncs

import (
	"context"
)

// HostFuncBundle is a set of related host functions registered together.
type HostFuncBundle interface {
	Handlers() map[string]ByteHandler
}

type staticBundle struct {
	handlers map[string]ByteHandler
}

func (b *staticBundle) Handlers() map[string]ByteHandler {
	return b.handlers
}

// ReadFileFunction is the registry name of the auxiliary file reader.
const ReadFileFunction = "read_file"

// ReactorBundle returns the JSON host functions offered to reactor guests:
// read_file, limited to access.
func ReactorBundle(access *FileAccess, limit int) HostFuncBundle {
	return &staticBundle{
		handlers: map[string]ByteHandler{
			ReadFileFunction: NewJSONHandler(func(ctx context.Context, req ReadFileRequest) ReadFileResponse {
				return PerformReadFile(ctx, access, limit, req)
			}),
		},
	}
}
