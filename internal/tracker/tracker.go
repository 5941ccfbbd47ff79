package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/expense-relay/internal/expensify"
)

// ErrAlreadyTracking is returned by Claim when a tracking task for the
// same correlation key is still in flight.
var ErrAlreadyTracking = errors.New("external ID is already being tracked")

// Outcome is the terminal state of a tracking task.
type Outcome string

const (
	OutcomeCompleted    Outcome = "COMPLETED"
	OutcomeError        Outcome = "ERROR"
	OutcomeTimedOut     Outcome = "TIMED_OUT"
	OutcomeLookupFailed Outcome = "LOOKUP_FAILED"
)

// Destination identifies the Slack thread a task reports into.
type Destination struct {
	Channel  string
	ThreadTS string
}

// Config holds polling behavior. Loaded once at startup and immutable
// afterwards.
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// Lookup fetches the current ledger-side record for a correlation key.
// A nil record means the backend has not indexed it yet.
type Lookup interface {
	FetchExpense(ctx context.Context, externalID string) (*expensify.Expense, error)
}

// Notifier delivers a status message into a Slack thread.
type Notifier interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
}

// OutcomeRecorder persists the terminal outcome of a task. Recording
// failures must not affect the state machine.
type OutcomeRecorder interface {
	RecordOutcome(externalID string, outcome Outcome) error
}

// Sleeper waits between poll cycles.
type Sleeper interface {
	Sleep(d time.Duration)
}

type defaultSleeper struct{}

func (s *defaultSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Registry owns all in-flight tracking tasks, keyed by correlation key.
// Claim/Track/Release make the "no second tracker for an active key"
// invariant atomic: the key is reserved before the expense is submitted
// and held until the spawned task reaches a terminal state.
type Registry struct {
	cfg      Config
	lookup   Lookup
	notifier Notifier
	recorder OutcomeRecorder
	sleeper  Sleeper
	location *time.Location

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New creates a Registry with the default sleeper and local time zone.
// recorder may be nil when no history is kept.
func New(cfg Config, lookup Lookup, notifier Notifier, recorder OutcomeRecorder) *Registry {
	return NewWithDeps(cfg, lookup, notifier, recorder, &defaultSleeper{}, time.Local)
}

// NewWithDeps creates a Registry with custom dependencies for testing.
func NewWithDeps(cfg Config, lookup Lookup, notifier Notifier, recorder OutcomeRecorder, sleeper Sleeper, location *time.Location) *Registry {
	return &Registry{
		cfg:      cfg,
		lookup:   lookup,
		notifier: notifier,
		recorder: recorder,
		sleeper:  sleeper,
		location: location,
		active:   make(map[string]struct{}),
	}
}

// Claim reserves a correlation key for a new tracking task.
func (r *Registry) Claim(externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[externalID]; ok {
		return ErrAlreadyTracking
	}
	r.active[externalID] = struct{}{}
	return nil
}

// Release drops a claim whose submission never went through.
func (r *Registry) Release(externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, externalID)
}

// Track spawns the fire-and-forget polling task for a claimed key. The
// claim is released when the task reaches a terminal state. The caller
// does not wait on the task.
func (r *Registry) Track(externalID string, dest Destination) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.Release(externalID)

		outcome := r.poll(externalID, dest)
		slog.Info("Tracking finished", "external_id", externalID, "outcome", outcome)

		if r.recorder != nil {
			if err := r.recorder.RecordOutcome(externalID, outcome); err != nil {
				slog.Warn("Failed to record outcome", "external_id", externalID, "error", err)
			}
		}
	}()
}

// InFlight reports how many tracking tasks are currently running.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until every spawned task has reached a terminal state.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// poll runs the lifecycle state machine for one receipt: up to MaxAttempts
// cycles, each preceded by a PollInterval sleep (the first included), one
// lookup per cycle, one notification per cycle, exactly one terminal
// notification overall.
func (r *Registry) poll(externalID string, dest Destination) Outcome {
	ctx := context.Background()

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.sleeper.Sleep(r.cfg.PollInterval)

		exp, err := r.lookup.FetchExpense(ctx, externalID)
		if err != nil {
			// A transport or parse fault during lookup is not retried:
			// the same fixed schedule would hit the same fault, so the
			// operator is told once and the task stops.
			slog.Error("Lookup failed", "external_id", externalID, "error", err)
			r.notify(ctx, dest, lookupErrorMessage(err))
			return OutcomeLookupFailed
		}

		if exp == nil {
			slog.Info("Expense not yet visible", "external_id", externalID, "attempt", attempt)
			r.notify(ctx, dest, pendingMessage(attempt, r.cfg.MaxAttempts))
			continue
		}

		switch exp.Status() {
		case expensify.StatusProcessing:
			r.notify(ctx, dest, processingMessage(attempt, r.cfg.MaxAttempts))
		case expensify.StatusError:
			// The backend has already given up on this scan.
			slog.Error("SmartScan failed", "external_id", externalID, "detail", exp.ErrorDetail)
			r.notify(ctx, dest, scanErrorMessage(exp.ErrorDetail))
			return OutcomeError
		case expensify.StatusCompleted:
			r.notify(ctx, dest, completedMessage(exp, r.location))
			return OutcomeCompleted
		}
	}

	// Budget exhausted. The backend still completes the scan out-of-band,
	// so the notice says tracking stopped, not that anything failed.
	r.notify(ctx, dest, timedOutMessage())
	return OutcomeTimedOut
}

// notify delivers a status message fire-and-forget; delivery failures are
// logged and never retried.
func (r *Registry) notify(ctx context.Context, dest Destination, text string) {
	if err := r.notifier.PostMessage(ctx, dest.Channel, dest.ThreadTS, text); err != nil {
		slog.Warn("Failed to post status message", "channel", dest.Channel, "error", err)
	}
}
