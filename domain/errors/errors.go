// Package errors provides the error taxonomy of the parser host.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/logweave/parserhost/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is implemented by error types that can convert themselves to
// a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// Sentinel errors for lifecycle violations.
var (
	// ErrSessionClosed is returned for any call on a closed or faulted session.
	ErrSessionClosed = stdErrors.New("session closed")

	// ErrUnknownFormat is returned when no plugin is registered for a format.
	ErrUnknownFormat = stdErrors.New("unknown format")

	// ErrSourceExhausted is returned when feeding a session that reported end of stream.
	ErrSourceExhausted = stdErrors.New("source exhausted")

	// ErrNotConfigured is returned when feeding a session whose options were never accepted.
	ErrNotConfigured = stdErrors.New("session not configured")

	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = stdErrors.New("invalid session state")

	// ErrSourceInUse is returned when a source key is still bound to an open session.
	ErrSourceInUse = stdErrors.New("source already has an open session")

	// ErrFormatQuarantined is returned while a format is refused after repeated faults.
	ErrFormatQuarantined = stdErrors.New("format quarantined after repeated plugin faults")

	// ErrDuplicateFormat is returned when registering a format twice.
	ErrDuplicateFormat = stdErrors.New("format already registered")
)

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	switch {
	case stdErrors.Is(err, ErrSessionClosed):
		return &entities.ErrorDetail{Message: err.Error(), Type: "session", Code: "session_closed"}
	case stdErrors.Is(err, ErrSourceExhausted):
		return &entities.ErrorDetail{Message: err.Error(), Type: "session", Code: "source_exhausted"}
	case stdErrors.Is(err, ErrNotConfigured), stdErrors.Is(err, ErrInvalidState):
		return &entities.ErrorDetail{Message: err.Error(), Type: "session", Code: "invalid_state"}
	case stdErrors.Is(err, ErrSourceInUse):
		return &entities.ErrorDetail{Message: err.Error(), Type: "session", Code: "source_in_use"}
	case stdErrors.Is(err, ErrFormatQuarantined):
		return &entities.ErrorDetail{Message: err.Error(), Type: "format", Code: "quarantined"}
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// LoadErrorKind distinguishes load failures.
type LoadErrorKind uint8

const (
	// LoadIncompatibleABI means the artifact's ABI version is outside the supported range.
	LoadIncompatibleABI LoadErrorKind = iota + 1
	// LoadCorruptArtifact means the artifact failed structural validation.
	LoadCorruptArtifact
	// LoadIO means the artifact could not be read.
	LoadIO
)

func (k LoadErrorKind) String() string {
	switch k {
	case LoadIncompatibleABI:
		return "incompatible_abi"
	case LoadCorruptArtifact:
		return "corrupt_artifact"
	case LoadIO:
		return "io_error"
	default:
		return "unknown"
	}
}

// LoadError represents a failure to load a plugin artifact.
type LoadError struct {
	Err    error
	Format string
	Path   string
	Kind   LoadErrorKind
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s (%s): %s: %v", e.Format, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("load %s (%s): %s", e.Format, e.Path, e.Kind)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *LoadError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "load",
		Code:    e.Kind.String(),
		Details: map[string]any{"format": e.Format, "path": e.Path},
	}
}

// ConfigErrorKind distinguishes options failures.
type ConfigErrorKind uint8

const (
	// ConfigMalformedOptions means the options blob is structurally invalid.
	ConfigMalformedOptions ConfigErrorKind = iota + 1
	// ConfigUnsupportedOption means the options are well formed but not supported.
	ConfigUnsupportedOption
)

func (k ConfigErrorKind) String() string {
	switch k {
	case ConfigMalformedOptions:
		return "malformed_options"
	case ConfigUnsupportedOption:
		return "unsupported_option"
	default:
		return "unknown"
	}
}

// ConfigError represents rejected parse options. It is recoverable: the
// session stays unconfigured and corrected options may be submitted.
type ConfigError struct {
	Err    error
	Field  string
	Reason string
	Kind   ConfigErrorKind
}

func (e *ConfigError) Error() string {
	msg := "config " + e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Kind.String()}
	if e.Field != "" {
		detail.Details = map[string]any{"field": e.Field}
	}
	return detail
}

// BridgeErrorKind distinguishes host/guest protocol violations.
type BridgeErrorKind uint8

const (
	// BridgeMalformedOutput means the guest returned an undecodable or out of bounds result.
	BridgeMalformedOutput BridgeErrorKind = iota + 1
	// BridgeAllocationFailed means the guest allocator could not serve a request.
	BridgeAllocationFailed
)

func (k BridgeErrorKind) String() string {
	switch k {
	case BridgeMalformedOutput:
		return "malformed_output"
	case BridgeAllocationFailed:
		return "allocation_failed"
	default:
		return "unknown"
	}
}

// BridgeError represents a guest/host protocol violation. It is terminal for
// the session.
type BridgeError struct {
	Err      error
	Function string
	Reason   string
	Kind     BridgeErrorKind
}

func (e *BridgeError) Error() string {
	msg := fmt.Sprintf("bridge %s", e.Kind)
	if e.Function != "" {
		msg += " in " + e.Function
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *BridgeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "bridge", Code: e.Kind.String()}
}

// GuestTrapError represents a fault raised by guest code.
type GuestTrapError struct {
	Err      error
	Function string
}

func (e *GuestTrapError) Error() string {
	return fmt.Sprintf("guest trap in %s: %v", e.Function, e.Err)
}

func (e *GuestTrapError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *GuestTrapError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "trap", Code: "guest_trap"}
}

// TimeoutError represents a guest call that exceeded its execution budget.
type TimeoutError struct {
	Function string
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %v", e.Function, e.Budget)
}

// Timeout returns true. Implements the net.Error style interface.
func (e *TimeoutError) Timeout() bool {
	return true
}

// ToErrorDetail implements DetailedError.
func (e *TimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "timeout", Code: "invoke_timeout", IsTimeout: true}
}

// UnknownFormatError names the format that could not be resolved.
type UnknownFormatError struct {
	FormatID string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown format %q", e.FormatID)
}

// Is matches ErrUnknownFormat.
func (e *UnknownFormatError) Is(target error) bool {
	return target == ErrUnknownFormat
}

// ToErrorDetail implements DetailedError.
func (e *UnknownFormatError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "format", Code: "unknown_format", IsNotFound: true}
}

// SessionFaultedError is returned for calls on a session that faulted. It
// matches ErrSessionClosed and unwraps to the fault that ended the session.
type SessionFaultedError struct {
	Cause error
}

func (e *SessionFaultedError) Error() string {
	if e.Cause == nil {
		return "session faulted"
	}
	return fmt.Sprintf("session faulted: %v", e.Cause)
}

// Is matches ErrSessionClosed.
func (e *SessionFaultedError) Is(target error) bool {
	return target == ErrSessionClosed
}

func (e *SessionFaultedError) Unwrap() error {
	return e.Cause
}

// ToErrorDetail implements DetailedError.
func (e *SessionFaultedError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{Message: e.Error(), Type: "session", Code: "session_faulted"}
	if e.Cause != nil {
		detail.Wrapped = ToErrorDetail(e.Cause)
	}
	return detail
}

// Category groups errors by who has to act on them.
type Category uint8

const (
	// CategoryInternal is anything not covered below.
	CategoryInternal Category = iota
	// CategoryInput means the caller's options or request were wrong.
	CategoryInput
	// CategoryPlugin means the plugin crashed or violated the protocol.
	CategoryPlugin
	// CategoryIncompatible means the plugin cannot be used with this host.
	CategoryIncompatible
	// CategoryLifecycle means the call was not valid for the session state.
	CategoryLifecycle
)

func (c Category) String() string {
	switch c {
	case CategoryInput:
		return "input"
	case CategoryPlugin:
		return "plugin"
	case CategoryIncompatible:
		return "incompatible"
	case CategoryLifecycle:
		return "lifecycle"
	default:
		return "internal"
	}
}

// Classify returns the category of err.
func Classify(err error) Category {
	if err == nil {
		return CategoryInternal
	}
	var (
		cfgErr   *ConfigError
		loadErr  *LoadError
		faultErr *SessionFaultedError
	)
	switch {
	case stdErrors.As(err, &cfgErr):
		return CategoryInput
	case IsTerminal(err), stdErrors.As(err, &faultErr):
		return CategoryPlugin
	case stdErrors.As(err, &loadErr), stdErrors.Is(err, ErrUnknownFormat), stdErrors.Is(err, ErrFormatQuarantined):
		return CategoryIncompatible
	case stdErrors.Is(err, ErrSessionClosed), stdErrors.Is(err, ErrSourceExhausted),
		stdErrors.Is(err, ErrNotConfigured), stdErrors.Is(err, ErrInvalidState), stdErrors.Is(err, ErrSourceInUse):
		return CategoryLifecycle
	default:
		return CategoryInternal
	}
}

// IsTerminal reports whether err must fault the session that produced it:
// guest traps, timeouts and protocol violations.
func IsTerminal(err error) bool {
	var (
		trapErr    *GuestTrapError
		timeoutErr *TimeoutError
		bridgeErr  *BridgeError
	)
	return stdErrors.As(err, &trapErr) || stdErrors.As(err, &timeoutErr) || stdErrors.As(err, &bridgeErr)
}

// IsTimeout reports whether err is a guest timeout.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return stdErrors.As(err, &timeoutErr)
}
