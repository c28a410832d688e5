package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	domainerrors "github.com/logweave/parserhost/domain/errors"
)

// outcome is what a session reports to its format's breaker.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFaulted
	// outcomeSkipped is for sessions whose guest never ran, such as load
	// failures. They neither trip nor heal the breaker.
	outcomeSkipped
)

var (
	errSessionFaulted = errors.New("session faulted")
	errSessionSkipped = errors.New("session never reached the guest")
)

func (o outcome) err() error {
	switch o {
	case outcomeFaulted:
		return errSessionFaulted
	case outcomeSkipped:
		return errSessionSkipped
	default:
		return nil
	}
}

// quarantine keeps one circuit breaker per format. A session counts as one
// request: it fails if it hits a terminal fault, is excluded if its guest
// never ran and succeeds otherwise.
type quarantine struct {
	logger    *slog.Logger
	breakers  map[string]*gobreaker.TwoStepCircuitBreaker[struct{}]
	cooldown  time.Duration
	threshold uint32
	mu        sync.Mutex
}

func newQuarantine(threshold uint32, cooldown time.Duration, logger *slog.Logger) *quarantine {
	return &quarantine{
		logger:    logger,
		breakers:  make(map[string]*gobreaker.TwoStepCircuitBreaker[struct{}]),
		cooldown:  cooldown,
		threshold: threshold,
	}
}

func (q *quarantine) breaker(formatID string) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cb, ok := q.breakers[formatID]; ok {
		return cb
	}
	threshold := q.threshold
	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        formatID,
		MaxRequests: 1, // one probe session while half-open
		Timeout:     q.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, errSessionSkipped)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			q.logger.Warn("format quarantine state change",
				"format", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	q.breakers[formatID] = cb
	return cb
}

// admit reserves a session slot for formatID. The returned report must be
// called exactly once with the session's outcome.
func (q *quarantine) admit(formatID string) (func(outcome), error) {
	if q.threshold == 0 {
		return func(outcome) {}, nil
	}
	done, err := q.breaker(formatID).Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", domainerrors.ErrFormatQuarantined, formatID)
		}
		return nil, err
	}
	var once sync.Once
	return func(o outcome) {
		once.Do(func() { done(o.err()) })
	}, nil
}

// state returns the breaker state of formatID.
func (q *quarantine) state(formatID string) gobreaker.State {
	if q.threshold == 0 {
		return gobreaker.StateClosed
	}
	return q.breaker(formatID).State()
}
