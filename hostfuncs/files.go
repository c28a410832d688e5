package hostfuncs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ReadFileRequest asks the host for (part of) an auxiliary file such as a
// FIBEX description referenced by the parse options.
type ReadFileRequest struct {
	Path string `json:"path"`

	// Offset is the byte offset to start reading from.
	Offset int64 `json:"offset,omitempty"`

	// MaxBytes caps the response. Zero means the host limit.
	MaxBytes int `json:"max_bytes,omitempty"`
}

// ReadFileResponse carries the file bytes or a structured error.
type ReadFileResponse struct {
	Error *ErrorResponse `json:"error,omitempty"`
	Data  []byte         `json:"data,omitempty"`

	// Size is the total file size.
	Size int64 `json:"size"`

	// EOF is set when Data reaches the end of the file.
	EOF bool `json:"eof"`
}

// FileAccess is the set of paths a session granted its guest. Entries are
// either exact paths or doublestar patterns ("/etc/fibex/**/*.xml").
type FileAccess struct {
	patterns []string
}

// NewFileAccess compiles the grant list. Invalid patterns are rejected.
func NewFileAccess(grants []string) (*FileAccess, error) {
	fa := &FileAccess{patterns: make([]string, 0, len(grants))}
	for _, g := range grants {
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid read path pattern %q", g)
		}
		clean := filepath.Clean(g)
		fa.patterns = append(fa.patterns, clean)
		// literal grants also match their symlink-resolved target
		if !hasMeta(clean) {
			if resolved, err := filepath.EvalSymlinks(clean); err == nil && resolved != clean {
				fa.patterns = append(fa.patterns, resolved)
			}
		}
	}
	return fa, nil
}

// Empty reports whether nothing was granted.
func (fa *FileAccess) Empty() bool {
	return fa == nil || len(fa.patterns) == 0
}

// Allowed resolves path and reports whether it falls under a grant, returning
// the path that should be opened.
func (fa *FileAccess) Allowed(path string) (string, bool) {
	if fa.Empty() || path == "" {
		return "", false
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	for _, pattern := range fa.patterns {
		if matched, _ := doublestar.Match(pattern, clean); matched {
			return clean, true
		}
	}
	return "", false
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// PerformReadFile serves a read_file call. Reads are bounded by limit and by
// req.MaxBytes, whichever is smaller.
func PerformReadFile(ctx context.Context, access *FileAccess, limit int, req ReadFileRequest) ReadFileResponse {
	if req.Path == "" {
		return readFileError(NewValidationError("path is required"))
	}
	if req.Offset < 0 || req.MaxBytes < 0 {
		return readFileError(NewValidationError("offset and max_bytes must not be negative"))
	}
	path, ok := access.Allowed(req.Path)
	if !ok {
		return readFileError(NewForbiddenError(fmt.Sprintf("read of %q not granted", req.Path)))
	}
	if err := ctx.Err(); err != nil {
		return readFileError(NewInternalError(err.Error()))
	}

	if limit <= 0 {
		limit = DefaultMaxReadFileSize
	}
	if req.MaxBytes > 0 && req.MaxBytes < limit {
		limit = req.MaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return readFileError(ErrorResponse{Error: "NOT_FOUND", Message: err.Error(), Code: 404})
		}
		return readFileError(NewInternalError(err.Error()))
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return readFileError(NewInternalError(err.Error()))
	}
	if info.IsDir() {
		return readFileError(NewValidationError(fmt.Sprintf("%q is a directory", req.Path)))
	}

	buf := NewBoundedBuffer(limit)
	if _, err := io.Copy(buf, io.NewSectionReader(f, req.Offset, info.Size()-min(req.Offset, info.Size()))); err != nil {
		return readFileError(NewInternalError(err.Error()))
	}

	return ReadFileResponse{
		Data: append([]byte(nil), buf.Bytes()...),
		Size: info.Size(),
		EOF:  !buf.Truncated,
	}
}

func readFileError(e ErrorResponse) ReadFileResponse {
	return ReadFileResponse{Error: &e}
}
