// Package relay drains the transactional outbox into the broker.
//
// Each pending relay marker becomes one stage-0 message keyed by its run
// id. Markers are deleted only after the broker accepted the publish, so a
// crash or publish failure leaves them for the next iteration and delivery
// is at-least-once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/telemetry"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// Defaults for a relay built without options.
const (
	DefaultBatchSize = 10
	DefaultInterval  = time.Second
)

// Claimer hands batches of pending relay markers to publish and deletes
// them once publish succeeds. *store.Store implements it.
type Claimer interface {
	ClaimPendingRelays(ctx context.Context, limit int, publish func([]workflow.PendingRelay) error) (int, error)
}

// Result reports the outcome of one relay iteration.
type Result struct {
	// Relayed is the number of markers published and deleted.
	Relayed int
	// Failed is the number of markers whose publish failed; they remain
	// pending.
	Failed int
}

// publishError marks a failure of the broker publish as opposed to the
// store claim or delete.
type publishError struct {
	batch int
	err   error
}

func (e *publishError) Error() string { return fmt.Sprintf("publish %d messages: %v", e.batch, e.err) }
func (e *publishError) Unwrap() error { return e.err }

// Relay moves pending relay markers to the broker.
type Relay struct {
	claimer   Claimer
	publisher broker.Publisher
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Relay.
type Option func(*Relay)

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(r *Relay) { r.topic = topic }
}

// WithBatchSize sets how many markers one iteration claims.
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

// WithInterval sets the sleep after an empty or failed iteration.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithTracer sets the tracer for relay.batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// New creates a relay reading from claimer and publishing to publisher.
func New(claimer Claimer, publisher broker.Publisher, opts ...Option) *Relay {
	r := &Relay{
		claimer:   claimer,
		publisher: publisher,
		topic:     workflow.DefaultTopic,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		logger:    slog.Default(),
		tracer:    otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	return r
}

// RelayOnce runs exactly one iteration: claim a batch, publish it, delete
// it. A publish failure is reported both in Result.Failed and as the
// returned error.
func (r *Relay) RelayOnce(ctx context.Context) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "relay.batch")
	defer span.End()

	n, err := r.claimer.ClaimPendingRelays(ctx, r.batchSize, func(batch []workflow.PendingRelay) error {
		return r.publish(ctx, batch)
	})
	span.SetAttributes(attribute.Int("relay.relayed", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *publishError
		if errors.As(err, &pe) {
			return Result{Failed: pe.batch}, err
		}
		return Result{}, fmt.Errorf("relay: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "relayed pending runs", "count", n, "topic", r.topic)
	}
	return Result{Relayed: n}, nil
}

func (r *Relay) publish(ctx context.Context, batch []workflow.PendingRelay) error {
	msgs := make([]broker.Message, 0, len(batch))
	for _, pr := range batch {
		sm := workflow.StageMessage{RunID: pr.RunID, Stage: 0}
		value, err := sm.Encode()
		if err != nil {
			return &publishError{batch: len(batch), err: err}
		}
		msgs = append(msgs, broker.Message{Key: sm.Key(), Value: value})
	}
	if err := r.publisher.Publish(ctx, r.topic, msgs...); err != nil {
		return &publishError{batch: len(batch), err: err}
	}
	return nil
}

// Run loops until ctx is cancelled. A non-empty batch is followed
// immediately by the next iteration; an empty batch or an error sleeps the
// interval.
// Errors and panics inside an iteration are logged and never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay started", "topic", r.topic, "batch", r.batchSize, "interval", r.interval)
	defer r.logger.Info("relay stopped")

	for {
		res, err := r.safeRelayOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "relay iteration failed", "error", err, "pending", res.Failed)
		}
		if err == nil && res.Relayed > 0 {
			continue
		}

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Relay) safeRelayOnce(ctx context.Context) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("relay: panic: %v", p)
		}
	}()
	return r.RelayOnce(ctx)
}
