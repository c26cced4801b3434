// Package indexer drives the catch-up loop that folds chain events into the
// read model.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tracefold/tracefold/internal/chain"
	"github.com/tracefold/tracefold/internal/services/provenance/projector"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

// State is the loop's position in its processing cycle.
type State int

// Loop states.
const (
	// StateCatchingUp means the loop is behind the source head and will
	// fetch the next range immediately.
	StateCatchingUp State = iota
	// StateIdleWait means the loop has reached the source head and sleeps
	// for the poll interval before checking again.
	StateIdleWait
	// StateFailedRetry means the last range failed and will be re-fetched
	// in full after the retry backoff.
	StateFailedRetry
)

func (s State) String() string {
	switch s {
	case StateCatchingUp:
		return "catching_up"
	case StateIdleWait:
		return "idle_wait"
	case StateFailedRetry:
		return "failed_retry"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Applier projects one fetched range into the read model.
type Applier interface {
	ApplyRange(ctx context.Context, events []chain.Event) error
}

// Checkpoints is the durable cursor recording the last fully applied block.
type Checkpoints interface {
	Checkpoint(ctx context.Context) (uint64, bool, error)
	SetCheckpoint(ctx context.Context, position uint64) error
}

// Config controls loop pacing. Zero values fall back to defaults.
type Config struct {
	// StartBlock is where indexing begins when no checkpoint exists.
	StartBlock uint64
	// BatchSize caps how many blocks one range covers.
	BatchSize uint64
	// PollInterval is the idle sleep once the loop reaches the head.
	PollInterval time.Duration
	// RetryBackoff is the fixed sleep before re-fetching a failed range.
	RetryBackoff time.Duration
}

const (
	defaultBatchSize    = 1000
	defaultPollInterval = 15 * time.Second
	defaultRetryBackoff = 5 * time.Second
)

func (c Config) normalized() Config {
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Loop is the indexing state machine. It is the read model's only writer.
// Step advances one cycle at a time so tests can drive it directly; Run
// loops until cancellation.
type Loop struct {
	source      chain.Source
	applier     Applier
	checkpoints Checkpoints
	cfg         Config

	state State
	// retryFrom/retryTo hold the failed range re-fetched on the next step.
	retryFrom uint64
	retryTo   uint64
}

// New returns a loop reading from source and applying through applier.
func New(source chain.Source, applier Applier, checkpoints Checkpoints, cfg Config) *Loop {
	return &Loop{
		source:      source,
		applier:     applier,
		checkpoints: checkpoints,
		cfg:         cfg.normalized(),
		state:       StateCatchingUp,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return l.state
}

// Step runs one processing cycle: pick the next range, fetch it, project it,
// and advance the checkpoint. Transient failures move the loop to
// StateFailedRetry and are not returned as errors; a non-nil error means an
// invariant is broken and the loop must stop.
func (l *Loop) Step(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return l.state, err
	}

	from, to, ok, err := l.nextRange(ctx)
	if err != nil {
		l.fail(from, to, "plan range", err)
		return l.state, nil
	}
	if !ok {
		l.state = StateIdleWait
		return l.state, nil
	}

	events, err := l.source.FetchRange(ctx, from, to)
	if err != nil {
		l.fail(from, to, "fetch range", err)
		return l.state, nil
	}
	if err := l.applier.ApplyRange(ctx, events); err != nil {
		if errors.Is(err, projector.ErrOrderViolation) {
			return l.state, fmt.Errorf("project range [%d,%d]: %w", from, to, err)
		}
		l.fail(from, to, "project range", err)
		return l.state, nil
	}
	// The checkpoint advance is the last write of the cycle. A crash before
	// it lands replays the range, which projection absorbs.
	if err := l.checkpoints.SetCheckpoint(ctx, to); err != nil {
		if errors.Is(err, storage.ErrCheckpointRegression) {
			return l.state, fmt.Errorf("advance checkpoint to %d: %w", to, err)
		}
		l.fail(from, to, "advance checkpoint", err)
		return l.state, nil
	}

	l.retryFrom, l.retryTo = 0, 0
	log.Printf("indexed range [%d,%d]: %d events", from, to, len(events))
	l.state = StateCatchingUp
	return l.state, nil
}

// nextRange picks the range for this cycle. A failed range is retried
// verbatim; otherwise the range continues from the checkpoint, or from the
// configured start block when no checkpoint exists. ok is false when the
// loop has caught up with the source head.
func (l *Loop) nextRange(ctx context.Context) (from, to uint64, ok bool, err error) {
	if l.state == StateFailedRetry && l.retryTo != 0 {
		return l.retryFrom, l.retryTo, true, nil
	}

	position, exists, err := l.checkpoints.Checkpoint(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	from = l.cfg.StartBlock
	if exists {
		from = position + 1
	}

	head, err := l.source.HeadBlock(ctx)
	if err != nil {
		return from, 0, false, fmt.Errorf("read head block: %w", err)
	}
	if from > head {
		return from, 0, false, nil
	}
	to = min(from+l.cfg.BatchSize-1, head)
	return from, to, true, nil
}

func (l *Loop) fail(from, to uint64, op string, err error) {
	l.retryFrom, l.retryTo = from, to
	l.state = StateFailedRetry
	log.Printf("indexer %s [%d,%d]: %v (retrying in %s)", op, from, to, err, l.cfg.RetryBackoff)
}

// Run steps the loop until ctx is cancelled. An in-flight range either
// finishes or is abandoned without advancing the checkpoint, so the next
// start replays it. A non-nil error means an invariant broke and the
// process should exit.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		state, err := l.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		var pause time.Duration
		switch state {
		case StateIdleWait:
			pause = l.cfg.PollInterval
		case StateFailedRetry:
			pause = l.cfg.RetryBackoff
		default:
			continue
		}
		if err := sleep(ctx, pause); err != nil {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
