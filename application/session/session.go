// Package session implements the per-source plugin session state machine:
//
//	Created -> Ready <-> Parsing -> {Ready, NeedMoreInput, Exhausted, Faulted} -> Closed
//
// A session exclusively owns one sandbox instance and serializes every call
// into it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/host/bridge"
)

// Session drives one guest instance for one log source.
type Session struct {
	sb     ports.Sandbox
	logger *slog.Logger
	cause  error
	desc   entities.PluginDescriptor
	bridge bridge.Options
	stats  entities.SessionStats
	cursor uint64
	id     entities.SessionID
	mu     sync.Mutex
	state  entities.SessionState
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMaxOutputBytes caps a single decoded parse result.
func WithMaxOutputBytes(n uint32) Option {
	return func(s *Session) {
		s.bridge.MaxOutputBytes = n
	}
}

// New wraps a freshly loaded sandbox in a Created session.
func New(id entities.SessionID, desc entities.PluginDescriptor, sb ports.Sandbox, opts ...Option) *Session {
	s := &Session{
		id:     id,
		desc:   desc,
		sb:     sb,
		logger: slog.Default(),
		bridge: bridge.Options{SchemaVersion: desc.OptionsSchemaVersion},
		state:  entities.StateCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", id.String(), "format", desc.FormatID)
	return s
}

// ID returns the session id.
func (s *Session) ID() entities.SessionID { return s.id }

// Descriptor returns the descriptor of the session's format.
func (s *Session) Descriptor() entities.PluginDescriptor { return s.desc }

// State returns the current state.
func (s *Session) State() entities.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the parse counters.
func (s *Session) Stats() entities.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Cursor returns the total number of bytes the guest has consumed.
func (s *Session) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Cause returns the error that faulted the session, if any.
func (s *Session) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Configure delivers the parse options. It is only valid in Created; a
// ConfigError leaves the session in Created so the caller can retry.
func (s *Session) Configure(ctx context.Context, opts entities.ParseOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(entities.StateCreated); err != nil {
		return err
	}

	err := bridge.Configure(ctx, s.sb, opts, s.bridge)
	var cfgErr *domainerrors.ConfigError
	switch {
	case err == nil:
		s.state = entities.StateReady
		s.logger.DebugContext(ctx, "session configured", "options_len", opts.Len())
		return nil
	case errors.As(err, &cfgErr):
		s.stats.Errors++
		s.logger.InfoContext(ctx, "options rejected", "error", err)
		return err
	default:
		s.fault(ctx, err, "configure", 0, opts.Len())
		return err
	}
}

// Feed hands the next chunk to the guest. Chunks are relative to the bytes
// consumed so far: the caller resubmits whatever the guest did not consume.
func (s *Session) Feed(ctx context.Context, chunk []byte) (entities.ParseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(entities.StateReady, entities.StateNeedMoreInput); err != nil {
		return entities.ParseResult{}, err
	}
	s.stats.Calls++

	if len(chunk) == 0 {
		return entities.ParseResult{NextState: nextStateOf(s.state)}, nil
	}

	resume := s.state
	s.state = entities.StateParsing
	offset := s.cursor

	res, err := bridge.Parse(ctx, s.sb, entities.ParseRequest{Chunk: chunk, ChunkOffset: offset}, s.bridge)
	s.stats.PluginCalls++
	if err != nil {
		if !domainerrors.IsTerminal(err) && !s.sb.Faulted() {
			// host-side rejection before the guest ran, e.g. an oversized chunk
			s.state = resume
			s.stats.Errors++
			return entities.ParseResult{}, err
		}
		s.fault(ctx, err, "parse", offset, len(chunk))
		return entities.ParseResult{}, err
	}

	s.cursor += res.BytesConsumed
	s.stats.BytesConsumed += res.BytesConsumed
	s.stats.EntriesParsed += uint64(len(res.Entries))

	switch res.NextState {
	case entities.NextNeedMoreInput:
		s.state = entities.StateNeedMoreInput
		s.stats.Incomplete++
	case entities.NextExhausted:
		s.state = entities.StateExhausted
		s.stats.Exhausted++
	default:
		s.state = entities.StateReady
	}
	return res, nil
}

// Close releases the instance. It is valid in every state and idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == entities.StateClosed {
		return nil
	}
	prev := s.state
	s.state = entities.StateClosed
	err := s.sb.Close(ctx)
	s.logger.DebugContext(ctx, "session closed",
		"previous_state", prev.String(),
		"bytes_consumed", s.stats.BytesConsumed,
		"entries", s.stats.EntriesParsed,
	)
	if err != nil {
		return fmt.Errorf("close %s: %w", s.id, err)
	}
	return nil
}

// checkState maps a disallowed state onto the error callers expect.
func (s *Session) checkState(allowed ...entities.SessionState) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	switch s.state {
	case entities.StateClosed:
		return domainerrors.ErrSessionClosed
	case entities.StateFaulted:
		return &domainerrors.SessionFaultedError{Cause: s.cause}
	case entities.StateExhausted:
		return domainerrors.ErrSourceExhausted
	case entities.StateCreated:
		return domainerrors.ErrNotConfigured
	default:
		return fmt.Errorf("%w: %s", domainerrors.ErrInvalidState, s.state)
	}
}

// fault moves the session to Faulted and releases the instance. The guest
// is never called again, so its memory is not reclaimed through dealloc.
func (s *Session) fault(ctx context.Context, err error, op string, offset uint64, length int) {
	s.state = entities.StateFaulted
	s.cause = err
	s.stats.Errors++

	attrs := []any{
		"op", op,
		"error", err,
		"category", domainerrors.Classify(err).String(),
		"chunk_offset", offset,
		"chunk_len", length,
	}
	var bridgeErr *domainerrors.BridgeError
	if errors.As(err, &bridgeErr) {
		s.logger.ErrorContext(ctx, "plugin bridge failure", attrs...)
	} else {
		s.logger.WarnContext(ctx, "plugin faulted", attrs...)
	}

	if cerr := s.sb.Close(context.WithoutCancel(ctx)); cerr != nil {
		s.logger.DebugContext(ctx, "release faulted instance", "error", cerr)
	}
}

func nextStateOf(state entities.SessionState) entities.NextState {
	if state == entities.StateNeedMoreInput {
		return entities.NextNeedMoreInput
	}
	return entities.NextReady
}
