// Package dispatcher is the caller-facing entry point of the parser host. It
// resolves formats, opens one session per log source, routes chunks to the
// owning session and quarantines formats whose plugins keep faulting.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/logweave/parserhost/application/session"
	"github.com/logweave/parserhost/application/validation"
	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/infrastructure/tracer"
	"github.com/logweave/parserhost/wireformat"
)

var validate = validator.New()

// Dispatcher owns every open session. It is safe for concurrent use;
// calls on distinct sessions run in parallel.
type Dispatcher struct {
	resolver       ports.FormatResolver
	loader         ports.ArtifactLoader
	validator      ports.OptionsValidator
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	logger         *slog.Logger
	quarantine     *quarantine
	sessions       map[entities.SessionID]*entry
	sources        map[string]entities.SessionID
	config         entities.HostConfig
	drainChunk     int
	nextID         atomic.Uint64
	mu             sync.RWMutex
	shutdown       bool
}

type entry struct {
	sess      *session.Session
	report    func(outcome)
	sourceKey string
}

// New creates a dispatcher resolving formats through resolver and loading
// instances through loader.
func New(resolver ports.FormatResolver, loader ports.ArtifactLoader, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		resolver:   resolver,
		loader:     loader,
		logger:     slog.Default(),
		config:     entities.DefaultHostConfig(),
		drainChunk: DefaultDrainChunkSize,
		sessions:   make(map[entities.SessionID]*entry),
		sources:    make(map[string]entities.SessionID),
	}
	for _, opt := range opts {
		opt(d)
	}
	if resolver == nil || loader == nil {
		return nil, errors.New("dispatcher needs a format resolver and an artifact loader")
	}
	if err := validate.Struct(d.config); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}
	d.tracer = tracer.Tracer(d.tracerProvider)
	d.quarantine = newQuarantine(d.config.QuarantineThreshold, d.config.QuarantineCooldown, d.logger)
	return d, nil
}

// OpenSource resolves formatID, loads a fresh instance and configures it
// with opts. If the options are rejected the session stays open in Created
// and its id is returned together with the ConfigError, so corrected
// options can be submitted through Configure.
func (d *Dispatcher) OpenSource(ctx context.Context, formatID string, opts entities.ParseOptions, openOpts ...OpenOption) (id entities.SessionID, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.OpenSource",
		trace.WithAttributes(tracer.StringAttr("format", formatID)))
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
		span.End()
	}()

	var oc openConfig
	for _, opt := range openOpts {
		opt(&oc)
	}

	desc, err := d.resolver.Resolve(formatID)
	if err != nil {
		return 0, err
	}
	report, err := d.quarantine.admit(formatID)
	if err != nil {
		d.logger.WarnContext(ctx, "open refused", "format", formatID, "error", err)
		return 0, err
	}

	id = entities.SessionID(d.nextID.Add(1))
	if err := d.reserve(id, oc.sourceKey); err != nil {
		report(outcomeSkipped)
		return 0, err
	}

	env := ports.SandboxEnv{SessionID: id, ReadPaths: append(oc.readPaths, auxiliaryFiles(formatID, opts)...)}
	sb, err := d.loader.Load(ctx, desc, env)
	if err != nil {
		d.release(id, oc.sourceKey)
		report(outcomeSkipped)
		d.logger.WarnContext(ctx, "plugin load failed", "format", formatID, "error", err)
		return 0, err
	}

	e := &entry{
		sess: session.New(id, desc, sb,
			session.WithLogger(d.logger),
			session.WithMaxOutputBytes(d.config.MaxOutputBytes),
		),
		report:    report,
		sourceKey: oc.sourceKey,
	}
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		d.release(id, oc.sourceKey)
		report(outcomeSkipped)
		if cerr := sb.Close(context.WithoutCancel(ctx)); cerr != nil {
			d.logger.WarnContext(ctx, "closing instance after shutdown", "session_id", id.String(), "error", cerr)
		}
		return 0, fmt.Errorf("dispatcher shut down: %w", domainerrors.ErrSessionClosed)
	}
	d.sessions[id] = e
	d.mu.Unlock()
	span.SetAttributes(tracer.StringAttr("session_id", id.String()))

	if err := d.configure(ctx, e, opts); err != nil {
		if domainerrors.IsTerminal(err) {
			_ = d.Close(context.WithoutCancel(ctx), id)
			return 0, err
		}
		return id, err
	}
	d.logger.DebugContext(ctx, "source opened", "session_id", id.String(), "format", formatID)
	return id, nil
}

// Configure re-submits options to a session still in Created.
func (d *Dispatcher) Configure(ctx context.Context, id entities.SessionID, opts entities.ParseOptions) (err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Configure",
		trace.WithAttributes(tracer.StringAttr("session_id", id.String())))
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
		span.End()
	}()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	return d.configure(ctx, e, opts)
}

func (d *Dispatcher) configure(ctx context.Context, e *entry, opts entities.ParseOptions) error {
	if d.validator != nil && e.sess.State() == entities.StateCreated {
		if err := d.validator.Validate(e.sess.Descriptor().FormatID, opts); err != nil {
			return err
		}
	}
	err := e.sess.Configure(ctx, opts)
	if domainerrors.IsTerminal(err) {
		e.report(outcomeFaulted)
	}
	return err
}

// Feed routes chunk to the session. The result's BytesConsumed tells the
// caller how much of chunk to drop before the next call.
func (d *Dispatcher) Feed(ctx context.Context, id entities.SessionID, chunk []byte) (res entities.ParseResult, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Feed",
		trace.WithAttributes(
			tracer.StringAttr("session_id", id.String()),
			tracer.IntAttr("chunk_len", len(chunk)),
		))
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			span.SetAttributes(
				tracer.IntAttr("bytes_consumed", int(res.BytesConsumed)), //nolint:gosec // G115: bounded by chunk length
				tracer.IntAttr("entries", len(res.Entries)),
				tracer.StringAttr("next_state", res.NextState.String()),
			)
			tracer.SetOK(span)
		}
		span.End()
	}()

	e, err := d.lookup(id)
	if err != nil {
		return entities.ParseResult{}, err
	}
	res, err = e.sess.Feed(ctx, chunk)
	switch {
	case domainerrors.IsTerminal(err):
		e.report(outcomeFaulted)
	case err == nil && len(chunk) > 0:
		e.report(outcomeSucceeded)
	}
	return res, err
}

// Close closes the session and forgets it. Closing an unknown or already
// closed id is a no-op.
func (d *Dispatcher) Close(ctx context.Context, id entities.SessionID) error {
	d.mu.Lock()
	e, ok := d.sessions[id]
	if ok {
		delete(d.sessions, id)
		if e.sourceKey != "" {
			delete(d.sources, e.sourceKey)
		}
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	_, span := d.tracer.Start(ctx, "dispatcher.Close",
		trace.WithAttributes(tracer.StringAttr("session_id", id.String())))
	defer span.End()

	e.report(closeOutcome(e.sess.State()))
	if err := e.sess.Close(ctx); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// State returns the state of an open session.
func (d *Dispatcher) State(id entities.SessionID) (entities.SessionState, error) {
	e, err := d.lookup(id)
	if err != nil {
		return entities.StateClosed, err
	}
	return e.sess.State(), nil
}

// Stats returns the counters of an open session.
func (d *Dispatcher) Stats(id entities.SessionID) (entities.SessionStats, error) {
	e, err := d.lookup(id)
	if err != nil {
		return entities.SessionStats{}, err
	}
	return e.sess.Stats(), nil
}

// Open returns the number of open sessions.
func (d *Dispatcher) Open() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Quarantined reports whether new sessions for formatID are currently refused.
func (d *Dispatcher) Quarantined(formatID string) bool {
	return d.quarantine.state(formatID) == gobreaker.StateOpen
}

// Shutdown closes every session and refuses new ones.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.shutdown = true
	ids := make([]entities.SessionID, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	d.logger.DebugContext(ctx, "dispatcher shut down", "sessions_closed", len(ids))
	return errors.Join(errs...)
}

// closeOutcome maps the state a session is closed in to its breaker outcome.
// A session still in Created never parsed anything.
func closeOutcome(state entities.SessionState) outcome {
	switch state {
	case entities.StateFaulted:
		return outcomeFaulted
	case entities.StateCreated:
		return outcomeSkipped
	default:
		return outcomeSucceeded
	}
}

func (d *Dispatcher) lookup(id entities.SessionID) (*entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainerrors.ErrSessionClosed, id)
	}
	return e, nil
}

func (d *Dispatcher) reserve(id entities.SessionID, sourceKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return fmt.Errorf("dispatcher shut down: %w", domainerrors.ErrSessionClosed)
	}
	if sourceKey == "" {
		return nil
	}
	if owner, ok := d.sources[sourceKey]; ok {
		return fmt.Errorf("%w: %q is bound to %s", domainerrors.ErrSourceInUse, sourceKey, owner)
	}
	d.sources[sourceKey] = id
	return nil
}

func (d *Dispatcher) release(id entities.SessionID, sourceKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sourceKey != "" && d.sources[sourceKey] == id {
		delete(d.sources, sourceKey)
	}
}

func auxiliaryFiles(formatID string, opts entities.ParseOptions) []string {
	_, payload, err := wireformat.DecodeOptions(opts)
	if err != nil {
		return nil
	}
	return validation.AuxiliaryFiles(formatID, payload)
}
