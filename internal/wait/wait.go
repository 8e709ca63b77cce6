// internal/wait/wait.go
// Package wait implements the polling engine every UI synchronization goes through.
//
// The page under test changes asynchronously to the caller (network responses, client
// rendering, animations). Rather than pausing for fixed durations, callers describe the
// state they need as a named Condition and give it a budget. The engine evaluates the
// condition immediately and then once per poll interval until it holds or the budget is
// spent, turning unpredictable latency into a bounded worst case.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/driver"
)

// Condition is a named predicate over the current UI state. Check must not fail for
// "element not found"; it returns an error only for session-level failures.
type Condition struct {
	Name  string
	Check func(ctx context.Context) (bool, error)
}

// Spec is a wait budget.
type Spec struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// ErrInvalidSpec is wrapped by Spec.Validate failures.
var ErrInvalidSpec = errors.New("invalid wait spec")

// Validate enforces Timeout >= 0 and 0 < PollInterval < Timeout. A zero timeout means a
// single immediate check, and then the interval is ignored.
func (s Spec) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidSpec, s.Timeout)
	}
	if s.Timeout == 0 {
		return nil
	}
	if s.PollInterval <= 0 || s.PollInterval >= s.Timeout {
		return fmt.Errorf("%w: poll interval %v must be in (0, %v)", ErrInvalidSpec, s.PollInterval, s.Timeout)
	}
	return nil
}

// State is the engine's position in INIT -> POLLING -> {SUCCESS, TIMEOUT}.
type State int

const (
	StateInit State = iota
	StatePolling
	StateSuccess
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePolling:
		return "POLLING"
	case StateSuccess:
		return "SUCCESS"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TimeoutError reports a condition that never held within its budget.
type TimeoutError struct {
	Condition string
	Elapsed   time.Duration
	Timeout   time.Duration
	Polls     int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition %q not met within %v (elapsed %v, %d polls)",
		e.Condition, e.Timeout, e.Elapsed.Round(time.Millisecond), e.Polls)
}

// Engine runs waits. An Engine is cheap and holds no per-wait state, but it inherits the
// thread confinement of the session it serves.
type Engine struct {
	clock           Clock
	defaultInterval time.Duration
	logger          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock swaps the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDefaultInterval sets the cadence Budget uses.
func WithDefaultInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultInterval = d
		}
	}
}

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 250 * time.Millisecond

// NewEngine builds an engine.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		clock:           RealClock{},
		defaultInterval: DefaultPollInterval,
		logger:          logger.Named("wait"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock exposes the engine's time source so callers measuring durations agree with it.
func (e *Engine) Clock() Clock { return e.clock }

// Budget derives a valid Spec for timeout using the engine's default cadence. The
// interval is clamped so that at least a few polls fit inside short budgets.
func (e *Engine) Budget(timeout time.Duration) Spec {
	if timeout <= 0 {
		return Spec{}
	}
	interval := e.defaultInterval
	if interval >= timeout {
		interval = timeout / 4
		if interval <= 0 {
			interval = timeout
		}
	}
	if interval >= timeout {
		// Sub-nanosecond budgets: degrade to a single check.
		return Spec{}
	}
	return Spec{Timeout: timeout, PollInterval: interval}
}

// Wait blocks until cond holds or spec.Timeout elapses.
func (e *Engine) Wait(ctx context.Context, cond Condition, spec Spec) error {
	_, err := e.poll(ctx, spec, cond.Name, []Condition{cond})
	return err
}

// WaitAny blocks until any of conds holds and returns its index. Conditions are checked
// in declaration order on every tick, so when several hold at once the lowest index wins.
func (e *Engine) WaitAny(ctx context.Context, spec Spec, conds ...Condition) (int, error) {
	if len(conds) == 0 {
		return -1, errors.New("wait: WaitAny needs at least one condition")
	}
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Name
	}
	return e.poll(ctx, spec, fmt.Sprintf("any%q", names), conds)
}

// poll is the shared state machine behind Wait and WaitAny.
func (e *Engine) poll(ctx context.Context, spec Spec, name string, conds []Condition) (int, error) {
	if err := spec.Validate(); err != nil {
		return -1, fmt.Errorf("waiting for %q: %w", name, err)
	}

	state := StateInit
	start := e.clock.Now()
	polls := 0
	log := e.logger.With(zap.String("condition", name), zap.Duration("timeout", spec.Timeout))

	for {
		state = StatePolling
		polls++
		for i, c := range conds {
			ok, err := e.evaluate(ctx, c)
			if err != nil {
				log.Debug("Wait aborted by fatal error.", zap.Int("polls", polls), zap.Error(err))
				return -1, err
			}
			if ok {
				state = StateSuccess
				log.Debug("Condition met.",
					zap.Stringer("state", state),
					zap.Int("index", i),
					zap.Int("polls", polls),
					zap.Duration("elapsed", e.clock.Now().Sub(start)))
				return i, nil
			}
		}

		elapsed := e.clock.Now().Sub(start)
		if elapsed >= spec.Timeout {
			state = StateTimeout
			log.Debug("Condition timed out.", zap.Stringer("state", state), zap.Int("polls", polls))
			return -1, &TimeoutError{Condition: name, Elapsed: elapsed, Timeout: spec.Timeout, Polls: polls}
		}

		// The final sleep is clipped to the remaining budget, which is what keeps the
		// observed elapsed time of a timeout inside [Timeout, Timeout+PollInterval).
		sleep := spec.PollInterval
		if remaining := spec.Timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		if err := e.clock.Sleep(ctx, sleep); err != nil {
			return -1, fmt.Errorf("waiting for %q: %w", name, err)
		}
	}
}

// evaluate runs one condition check. Any non-fatal error counts as "not yet".
func (e *Engine) evaluate(ctx context.Context, c Condition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("waiting for %q: %w", c.Name, err)
	}
	ok, err := c.Check(ctx)
	if err == nil {
		return ok, nil
	}
	if driver.IsFatal(err) {
		return false, err
	}
	e.logger.Debug("Transient evaluation failure counted as false.",
		zap.String("condition", c.Name), zap.Error(err))
	return false, nil
}
