package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
)

// HostFunc is a typed host function.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// ByteHandler accepts a raw JSON request from guest memory and returns the raw
// JSON response that is copied back into guest memory.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler wraps a typed HostFunc into a ByteHandler that decodes the
// request and encodes the response as JSON.
//
//	readFile := hostfuncs.NewJSONHandler(func(ctx context.Context, req hostfuncs.ReadFileRequest) hostfuncs.ReadFileResponse {
//	    return hostfuncs.PerformReadFile(ctx, access, limit, req)
//	})
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return NewValidationError(fmt.Sprintf("malformed request: %v", err)).ToJSON(), nil
		}

		respBytes, err := json.Marshal(fn(ctx, req))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return respBytes, nil
	}
}
