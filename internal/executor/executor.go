// Package executor consumes stage messages and runs one action per message.
//
// A run of a zap with N actions moves through stages 0..N-1. Processing
// stage i performs actions[i] and, unless i is the last stage, publishes
// stage i+1 keyed by the run id. The consumer position is committed only
// after that, so a crash anywhere before the commit redelivers the stage.
//
// Outcomes per message:
//
//   - data anomaly (malformed value, unknown run or zap, stage out of
//     range): logged, committed, no side effect, no next stage
//   - action failure after every attempt: logged, then the chain advances,
//     or stops for that run with halt-on-failure
//   - infrastructure failure (store unreachable, next-stage publish
//     failed): not committed; the message is processed again
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/ledger"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/telemetry"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// Defaults for an executor built without options.
const (
	DefaultStageTimeout   = 30 * time.Second
	DefaultAttempts       = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultRetryDelay     = time.Second
)

// Store is the read side the executor needs. *store.Store implements it.
// Missing rows must be reported with store.ErrNotFound.
type Store interface {
	GetRun(ctx context.Context, runID string) (workflow.Run, error)
	GetZap(ctx context.Context, zapID string) (workflow.Zap, error)
}

// Ledger remembers stages whose side effect already succeeded.
// *ledger.Redis implements it.
type Ledger interface {
	Seen(ctx context.Context, runID string, stage int) (bool, error)
	Record(ctx context.Context, runID string, stage int) error
}

// Outcome is what processing a message amounted to.
type Outcome string

const (
	// OutcomeAdvanced means the stage ran and the next stage was published.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted means the last stage ran; the run is done.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means the message was a data anomaly.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeHalted means the action failed and halt-on-failure stopped the run.
	OutcomeHalted Outcome = "halted"
)

// Result reports the processing of one message. A message with any
// Result is safe to commit.
type Result struct {
	Outcome  Outcome
	RunID    string
	Stage    int
	Action   string
	Attempts int
	// Duplicate is set when the ledger showed the side effect already done.
	Duplicate bool
	// Err holds the anomaly or the exhausted action failure.
	Err error
}

// Executor runs stages.
type Executor struct {
	store          Store
	publisher      broker.Publisher
	registry       *Registry
	ledger         Ledger
	topic          string
	stageTimeout   time.Duration
	attempts       int
	initialBackoff time.Duration
	retryDelay     time.Duration
	haltOnFailure  bool
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithTopic sets the topic next-stage messages are published to.
func WithTopic(topic string) Option { return func(e *Executor) { e.topic = topic } }

// WithStageTimeout bounds each attempt of an action side effect.
func WithStageTimeout(d time.Duration) Option { return func(e *Executor) { e.stageTimeout = d } }

// WithAttempts sets how many times a failing action is tried.
func WithAttempts(n int) Option { return func(e *Executor) { e.attempts = n } }

// WithInitialBackoff sets the delay before the second attempt; later
// delays grow exponentially.
func WithInitialBackoff(d time.Duration) Option { return func(e *Executor) { e.initialBackoff = d } }

// WithRetryDelay sets the pause between reprocessing attempts after an
// infrastructure failure.
func WithRetryDelay(d time.Duration) Option { return func(e *Executor) { e.retryDelay = d } }

// WithHaltOnFailure stops a run when its action fails after every attempt.
func WithHaltOnFailure(halt bool) Option { return func(e *Executor) { e.haltOnFailure = halt } }

// WithLedger enables duplicate suppression through l.
func WithLedger(l Ledger) Option { return func(e *Executor) { e.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithTracer sets the tracer for executor.stage spans.
func WithTracer(t trace.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// New creates an executor.
func New(s Store, publisher broker.Publisher, registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		store:          s,
		publisher:      publisher,
		registry:       registry,
		ledger:         ledger.Nop{},
		topic:          workflow.DefaultTopic,
		stageTimeout:   DefaultStageTimeout,
		attempts:       DefaultAttempts,
		initialBackoff: DefaultInitialBackoff,
		retryDelay:     DefaultRetryDelay,
		logger:         slog.Default(),
		tracer:         otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.stageTimeout <= 0 {
		e.stageTimeout = DefaultStageTimeout
	}
	if e.attempts < 1 {
		e.attempts = 1
	}
	if e.retryDelay <= 0 {
		e.retryDelay = DefaultRetryDelay
	}
	return e
}

// ProcessOne handles one message without committing it.
//
// A nil error means the message may be committed; the Result says what
// happened. A non-nil error is an infrastructure failure and the message
// must be processed again.
func (e *Executor) ProcessOne(ctx context.Context, msg broker.Message) (Result, error) {
	sm, err := workflow.DecodeStageMessage(msg.Value)
	if err != nil {
		return e.skip(ctx, Result{}, newStageError(ErrCodeMalformedMessage, "", 0, err,
			"cannot decode message at %s/%d@%d", msg.Topic, msg.Partition, msg.Offset))
	}

	ctx, span := e.tracer.Start(ctx, "executor.stage", trace.WithAttributes(
		attribute.String("run.id", sm.RunID),
		attribute.Int("run.stage", sm.Stage),
	))
	defer span.End()

	res, err := e.process(ctx, sm)
	span.SetAttributes(attribute.String("stage.outcome", string(res.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res.Err != nil {
		span.RecordError(res.Err)
	}
	return res, err
}

func (e *Executor) process(ctx context.Context, sm workflow.StageMessage) (Result, error) {
	res := Result{RunID: sm.RunID, Stage: sm.Stage}

	run, err := e.store.GetRun(ctx, sm.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return e.skip(ctx, res, newStageError(ErrCodeRunNotFound, sm.RunID, sm.Stage, err, "run does not exist"))
	}
	if err != nil {
		return res, fmt.Errorf("load run %s: %w", sm.RunID, err)
	}

	zap, err := e.store.GetZap(ctx, run.ZapID)
	if errors.Is(err, store.ErrNotFound) {
		return e.skip(ctx, res, newStageError(ErrCodeZapNotFound, sm.RunID, sm.Stage, err, "zap %s does not exist", run.ZapID))
	}
	if err != nil {
		return res, fmt.Errorf("load zap %s: %w", run.ZapID, err)
	}

	action, ok := zap.ActionAt(sm.Stage)
	if !ok {
		return e.skip(ctx, res, newStageError(ErrCodeStageOutOfRange, sm.RunID, sm.Stage, nil,
			"zap %s has %d actions", zap.ID, zap.StageCount()))
	}
	res.Action = action.TypeID

	seen, err := e.ledger.Seen(ctx, sm.RunID, sm.Stage)
	if err != nil {
		e.logger.WarnContext(ctx, "stage ledger unavailable, running side effect", "run_id", sm.RunID, "stage", sm.Stage, "error", err)
		seen = false
	}

	if seen {
		res.Duplicate = true
		e.logger.InfoContext(ctx, "stage already done, skipping side effect", "run_id", sm.RunID, "stage", sm.Stage)
	} else {
		attempts, actionErr := e.runAction(ctx, run, action)
		res.Attempts = attempts
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if actionErr != nil {
			res.Err = newStageError(ErrCodeActionFailed, sm.RunID, sm.Stage, actionErr,
				"action %s (%s) failed after %d attempts", action.ID, action.TypeID, attempts)
			e.logger.ErrorContext(ctx, "action failed", "run_id", sm.RunID, "stage", sm.Stage,
				"action_id", action.ID, "action_type", action.TypeID, "attempts", attempts, "error", actionErr)
			if e.haltOnFailure {
				res.Outcome = OutcomeHalted
				return res, nil
			}
		} else if err := e.ledger.Record(ctx, sm.RunID, sm.Stage); err != nil {
			e.logger.WarnContext(ctx, "failed to record stage in ledger", "run_id", sm.RunID, "stage", sm.Stage, "error", err)
		}
	}

	if zap.IsLastStage(sm.Stage) {
		res.Outcome = OutcomeCompleted
		e.logger.InfoContext(ctx, "run completed", "run_id", sm.RunID, "stages", zap.StageCount())
		return res, nil
	}

	next := sm.Next()
	value, err := next.Encode()
	if err != nil {
		return res, fmt.Errorf("encode next stage: %w", err)
	}
	if err := e.publisher.Publish(ctx, e.topic, broker.Message{Key: next.Key(), Value: value}); err != nil {
		return res, fmt.Errorf("publish stage %d of run %s: %w", next.Stage, next.RunID, err)
	}
	res.Outcome = OutcomeAdvanced
	e.logger.DebugContext(ctx, "published next stage", "run_id", sm.RunID, "stage", next.Stage)
	return res, nil
}

// runAction dispatches action to its handler, retrying failures with
// exponential backoff. Each attempt gets its own stage timeout. Unknown
// action types are a no-op.
func (e *Executor) runAction(ctx context.Context, run workflow.Run, action workflow.Action) (int, error) {
	handler, ok := e.registry.Lookup(action.TypeID)
	if !ok {
		e.logger.WarnContext(ctx, "no handler for action type, skipping", "run_id", run.ID, "action_type", action.TypeID)
		return 0, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initialBackoff
	policy.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
		err := e.safeHandle(attemptCtx, handler, run, action)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "action attempt failed, retrying", "run_id", run.ID, "action_id", action.ID,
			"attempt", attempts, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.attempts-1)), ctx),
		notify)
	return attempts, err
}

func (e *Executor) safeHandle(ctx context.Context, h ActionHandler, run workflow.Run, action workflow.Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, run, action)
}

func (e *Executor) skip(ctx context.Context, res Result, se *StageError) (Result, error) {
	res.Outcome = OutcomeSkipped
	res.Err = se
	e.logger.WarnContext(ctx, "skipping stage message", "code", string(se.Code), "run_id", se.RunID, "stage", se.Stage, "error", se)
	return res, nil
}

// Run consumes sub until ctx is cancelled or the subscriber closes.
// Messages are processed one at a time and committed after processing.
// An infrastructure failure is retried every retry delay without
// committing, so the run never skips a stage.
func (e *Executor) Run(ctx context.Context, sub broker.Subscriber) error {
	e.logger.InfoContext(ctx, "executor started", "topic", e.topic)
	defer e.logger.Info("executor stopped")

	for {
		msg, err := sub.Fetch(ctx)
		if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
			return nil
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "fetch failed", "error", err)
			if !e.sleep(ctx) {
				return nil
			}
			continue
		}

		if !e.processUntilDone(ctx, msg) {
			return nil
		}

		if err := sub.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				return nil
			}
			e.logger.ErrorContext(ctx, "commit failed, message will be redelivered", "error", err,
				"partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// processUntilDone retries msg until it may be committed. It returns false
// when ctx ended first.
func (e *Executor) processUntilDone(ctx context.Context, msg broker.Message) bool {
	for {
		res, err := e.safeProcessOne(ctx, msg)
		if err == nil {
			e.logger.DebugContext(ctx, "stage processed", "run_id", res.RunID, "stage", res.Stage, "outcome", string(res.Outcome))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		e.logger.ErrorContext(ctx, "stage processing failed, will retry", "run_id", res.RunID, "stage", res.Stage,
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		if !e.sleep(ctx) {
			return false
		}
	}
}

// safeProcessOne turns a panic into a skipped message.
func (e *Executor) safeProcessOne(ctx context.Context, msg broker.Message) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.ErrorContext(ctx, "stage processing panicked, skipping message", "panic", fmt.Sprint(p),
				"partition", msg.Partition, "offset", msg.Offset)
			res, err = Result{Outcome: OutcomeSkipped, Err: fmt.Errorf("panic: %v", p)}, nil
		}
	}()
	return e.ProcessOne(ctx, msg)
}

func (e *Executor) sleep(ctx context.Context) bool {
	t := time.NewTimer(e.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
