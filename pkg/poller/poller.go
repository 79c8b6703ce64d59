// Package poller waits for an instance to reach a lifecycle or process state.
//
// Each attempt re-reads the inventory, so changes made to the deployment
// between attempts are always observed. Only "not yet in the expected state"
// is retried; a failed inventory query ends the wait at once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andrej220/bat/internal/lg"
	dm "github.com/andrej220/bat/pkg/shared-models"
)

const (
	DefaultAttempts = 10
	DefaultTimeout  = 300 * time.Second
)

// Kind selects the instance field compared against the expected state.
type Kind string

const (
	State        Kind = "state"
	ProcessState Kind = "process_state"
)

func (k Kind) value(i dm.Instance) string {
	if k == ProcessState {
		return i.ProcessState
	}
	return i.State
}

func (k Kind) label() string {
	if k == ProcessState {
		return "process state"
	}
	return "state"
}

// Finder resolves one instance from a fresh inventory.
type Finder interface {
	FindInstance(ctx context.Context, name string, index int) (dm.Instance, bool, error)
}

// Config is the polling schedule: Attempts resolutions, Interval apart.
type Config struct {
	Attempts int
	Interval time.Duration
}

// DefaultConfig spreads timeout over DefaultAttempts attempts.
func DefaultConfig(timeout time.Duration) Config {
	return Config{Attempts: DefaultAttempts, Interval: timeout / DefaultAttempts}
}

// Budget is the total time the schedule may sleep.
func (c Config) Budget() time.Duration {
	return time.Duration(c.Attempts) * c.Interval
}

var ErrStateTimeout = errors.New("instance did not reach expected state")

// StateTimeoutError is returned when every attempt ran without a match.
type StateTimeoutError struct {
	Kind     Kind
	Name     string
	Index    int
	Expected string
	Attempts int
	Budget   time.Duration
}

func (e *StateTimeoutError) Error() string {
	return fmt.Sprintf("instance %s/%d is still not in expected %s %q after %d attempts (%s)",
		e.Name, e.Index, e.Kind.label(), e.Expected, e.Attempts, e.Budget)
}

func (e *StateTimeoutError) Is(target error) bool { return target == ErrStateTimeout }

// errNotYet marks an attempt that should be retried.
var errNotYet = errors.New("not in expected state yet")

type Poller struct {
	finder Finder
	logger lg.Logger
	timer  backoff.Timer
}

type Option func(*Poller)

// WithTimer replaces the timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(p *Poller) { p.timer = t }
}

func New(finder Finder, logger lg.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = lg.Discard
	}
	p := &Poller{finder: finder, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForProcessState waits up to timeout for name/index to report a
// process state matching expected.
func (p *Poller) WaitForProcessState(ctx context.Context, name string, index int, expected string, timeout time.Duration) (dm.Instance, error) {
	return p.WaitForState(ctx, ProcessState, name, index, expected, DefaultConfig(timeout))
}

// WaitForInstanceState waits up to timeout for name/index to report a
// lifecycle state matching expected.
func (p *Poller) WaitForInstanceState(ctx context.Context, name string, index int, expected string, timeout time.Duration) (dm.Instance, error) {
	return p.WaitForState(ctx, State, name, index, expected, DefaultConfig(timeout))
}

// WaitForState resolves name/index up to cfg.Attempts times, sleeping
// cfg.Interval between attempts, until the field selected by kind matches
// expected. expected is an unanchored regular expression, so "running"
// also accepts "running (restarting)".
func (p *Poller) WaitForState(ctx context.Context, kind Kind, name string, index int, expected string, cfg Config) (dm.Instance, error) {
	pattern, err := regexp.Compile(expected)
	if err != nil {
		return dm.Instance{}, fmt.Errorf("expected %s %q: %w", kind.label(), expected, err)
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}

	logger := p.logger.With(
		lg.String("name", name),
		lg.Int("index", index),
		lg.String("kind", string(kind)),
		lg.String("expected", expected))
	logger.Info(fmt.Sprintf("Start waiting for instance %s to have %s %s", name, kind.label(), expected),
		lg.Int("attempts", cfg.Attempts),
		lg.Duration("interval", cfg.Interval))

	var (
		found    dm.Instance
		attempts int
	)
	operation := func() error {
		attempts++
		inst, ok, err := p.finder.FindInstance(ctx, name, index)
		if err != nil {
			return backoff.Permanent(err)
		}
		if ok && pattern.MatchString(kind.value(inst)) {
			found = inst
			return nil
		}
		return errNotYet
	}
	notify := func(_ error, next time.Duration) {
		logger.Debug("instance not in expected state yet",
			lg.Int("attempt", attempts),
			lg.Duration("next", next))
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Interval), uint64(cfg.Attempts-1)),
		ctx)

	err = backoff.RetryNotifyWithTimer(operation, schedule, notify, p.timer)
	switch {
	case err == nil:
		logger.Info(fmt.Sprintf("Finished waiting for instance %s have %s=%s", name, kind.label(), expected),
			lg.Int("attempts", attempts),
			lg.Any("instance", found))
		return found, nil
	case errors.Is(err, errNotYet):
		timeout := &StateTimeoutError{
			Kind:     kind,
			Name:     name,
			Index:    index,
			Expected: expected,
			Attempts: attempts,
			Budget:   cfg.Budget(),
		}
		logger.Error(timeout.Error(), lg.Int("attempts", attempts))
		return dm.Instance{}, timeout
	default:
		logger.Error("waiting for instance aborted", lg.Int("attempts", attempts), lg.Err(err))
		return dm.Instance{}, err
	}
}
