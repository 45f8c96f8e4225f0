package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/broker/memory"
	"github.com/Atif-27/AutoChain/internal/executor"
	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/ingest"
	"github.com/Atif-27/AutoChain/internal/mailer"
	"github.com/Atif-27/AutoChain/internal/relay"
	"github.com/Atif-27/AutoChain/internal/store"
	"github.com/Atif-27/AutoChain/internal/testutil"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

const (
	consumerGroup = "harness"

	// maxSteps bounds the relay/consume loop so a scenario that never
	// settles fails instead of hanging.
	maxSteps = 1000

	// maxRedeliveries bounds in-place retries of one message.
	maxRedeliveries = 20
)

// Run executes a scenario and returns the trace, final state and the
// outcome of its assertions.
//
// Execution steps:
//  1. Open an in-memory SQLite store and create the scenario zap
//  2. Ingest every event through the webhook writer
//  3. Alternate one relay batch and one consumed message until idle
//  4. Collect final state counters
//  5. Evaluate assertions against trace and state
//
// Run returns an error only when the scenario cannot be executed. Failed
// assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	clock := testutil.NewStepClock(time.Millisecond)
	s, err := store.Open("sqlite3", ":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	zap, err := createZap(ctx, s, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b := memory.NewBroker(1)
	defer b.Close()

	relayPub := &tracingPublisher{
		inner:  &testutil.FlakyPublisher{Inner: b, Failures: scenario.Faults.RelayPublishFailures},
		source: "relay",
		result: result,
	}
	stagePub := &tracingPublisher{
		inner:  &testutil.FlakyPublisher{Inner: b, Failures: scenario.Faults.StagePublishFailures},
		source: "executor",
		result: result,
	}
	mail := &tracingMailer{
		inner:  &testutil.RecordingMailer{Failures: scenario.Faults.MailFailures},
		result: result,
	}

	writer := ingest.NewWriter(s, ids.NewSequenceGenerator("id"), logger)
	for i, ev := range scenario.Events {
		user := ev.User
		if user == "" {
			user = zap.UserID
		}
		run, err := writer.Ingest(ctx, user, zap.ID, ev.Payload)
		if errors.Is(err, ingest.ErrZapNotFound) {
			result.record(EventIngestRejected, map[string]any{"user": user})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		result.record(EventIngest, map[string]any{"run": run.ID})
	}

	r := relay.New(s, relayPub, relay.WithLogger(logger))

	execOpts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithInitialBackoff(time.Millisecond),
		executor.WithHaltOnFailure(scenario.Options.HaltOnFailure),
	}
	if scenario.Options.Attempts > 0 {
		execOpts = append(execOpts, executor.WithAttempts(scenario.Options.Attempts))
	}
	if scenario.Options.Ledger {
		execOpts = append(execOpts, executor.WithLedger(newMapLedger()))
	}
	exec := executor.New(s, stagePub, executor.DefaultRegistry(mail), execOpts...)

	d := &driver{
		relay:   r,
		exec:    exec,
		broker:  b,
		sub:     b.Subscribe(consumerGroup, workflow.DefaultTopic),
		restart: scenario.Restart,
		result:  result,
	}
	if err := d.drive(ctx); err != nil {
		return nil, err
	}
	defer d.sub.Close()

	if err := collectState(ctx, s, b, zap.ID, result); err != nil {
		return nil, err
	}

	for i, a := range scenario.Assertions {
		if err := checkAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertion[%d] (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

func createZap(ctx context.Context, s *store.Store, scenario *Scenario) (workflow.Zap, error) {
	def := scenario.Zap
	if def.Trigger.Type == "" {
		def.Trigger.Type = workflow.TriggerWebhook
	}
	if def.ID == "" {
		def.ID = "zap-1"
	}

	triggers, err := s.AvailableTriggers(ctx)
	if err != nil {
		return workflow.Zap{}, err
	}
	actions, err := s.AvailableActions(ctx)
	if err != nil {
		return workflow.Zap{}, err
	}
	if err := def.CheckCatalog(triggers, actions); err != nil {
		return workflow.Zap{}, fmt.Errorf("zap: %w", err)
	}

	zap, err := s.CreateZap(ctx, def.ToZap(ids.NewSequenceGenerator(def.ID)))
	if err != nil {
		return workflow.Zap{}, fmt.Errorf("create zap: %w", err)
	}
	return zap, nil
}

// driver steps the relay and the consumer on one goroutine.
type driver struct {
	relay   *relay.Relay
	exec    *executor.Executor
	broker  *memory.Broker
	sub     *memory.Subscriber
	restart *Restart
	result  *Result

	processed int
	restarted bool
}

func (d *driver) drive(ctx context.Context) error {
	for step := 0; step < maxSteps; step++ {
		res, relayErr := d.relay.RelayOnce(ctx)

		msg, ok := d.fetchReady()
		if !ok {
			if res.Relayed == 0 && relayErr == nil {
				return nil
			}
			continue
		}
		if err := d.consume(ctx, msg); err != nil {
			return err
		}
	}
	return fmt.Errorf("scenario did not settle after %d steps", maxSteps)
}

// fetchReady returns the next message if one is already available.
func (d *driver) fetchReady() (broker.Message, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg, err := d.sub.Fetch(ctx)
	return msg, err == nil
}

func (d *driver) consume(ctx context.Context, msg broker.Message) error {
	sm, _ := workflow.DecodeStageMessage(msg.Value)

	for attempt := 0; ; attempt++ {
		res, err := d.exec.ProcessOne(ctx, msg)
		if err == nil {
			d.result.record(EventStage, stageFields(sm, res))
			break
		}
		d.result.record(EventStageError, map[string]any{"run": sm.RunID, "stage": sm.Stage})
		if attempt >= maxRedeliveries {
			return fmt.Errorf("run %s stage %d: still failing after %d redeliveries: %w",
				sm.RunID, sm.Stage, maxRedeliveries, err)
		}
	}

	d.processed++
	if d.restart != nil && !d.restarted && d.processed == d.restart.AfterMessages {
		d.restarted = true
		_ = d.sub.Close()
		d.result.record(EventRestart, map[string]any{"after": d.processed})
		d.sub = d.broker.Subscribe(consumerGroup, workflow.DefaultTopic)
		return nil
	}

	if err := d.sub.Commit(ctx, msg); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.result.record(EventCommit, map[string]any{"run": sm.RunID, "stage": sm.Stage})
	return nil
}

func stageFields(sm workflow.StageMessage, res executor.Result) map[string]any {
	fields := map[string]any{
		"run":      sm.RunID,
		"stage":    sm.Stage,
		"outcome":  string(res.Outcome),
		"attempts": res.Attempts,
	}
	if res.Duplicate {
		fields["duplicate"] = true
	}
	if res.Err != nil {
		fields["failed"] = true
	}
	return fields
}

func collectState(ctx context.Context, s *store.Store, b *memory.Broker, zapID string, result *Result) error {
	pending, err := s.CountPendingRelays(ctx)
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(ctx, zapID)
	if err != nil {
		return err
	}
	result.State["pending_relays"] = pending
	result.State["runs"] = len(runs)
	result.State["uncommitted"] = int(b.Lag(consumerGroup, workflow.DefaultTopic))
	return nil
}

// tracingPublisher records one publish or publish_failed event per message.
type tracingPublisher struct {
	inner  broker.Publisher
	source string
	result *Result
}

func (p *tracingPublisher) Publish(ctx context.Context, topic string, msgs ...broker.Message) error {
	err := p.inner.Publish(ctx, topic, msgs...)
	eventType := EventPublish
	if err != nil {
		eventType = EventPublishFailed
	}
	for _, m := range msgs {
		sm, _ := workflow.DecodeStageMessage(m.Value)
		p.result.record(eventType, map[string]any{
			"source": p.source,
			"run":    sm.RunID,
			"stage":  sm.Stage,
		})
	}
	return err
}

func (p *tracingPublisher) Close() error { return nil }

// tracingMailer records one email or email_failed event per send attempt.
type tracingMailer struct {
	inner  mailer.Mailer
	result *Result
}

func (m *tracingMailer) Send(ctx context.Context, email mailer.Email) error {
	to := strings.Join(email.To, ", ")
	if err := m.inner.Send(ctx, email); err != nil {
		m.result.record(EventEmailFailed, map[string]any{"to": to})
		return err
	}
	fields := map[string]any{"to": to, "body": email.Body}
	if email.Subject != "" {
		fields["subject"] = email.Subject
	}
	m.result.record(EventEmail, fields)
	return nil
}

// mapLedger is an in-process stage ledger.
type mapLedger struct {
	mu   sync.Mutex
	done map[string]bool
}

func newMapLedger() *mapLedger {
	return &mapLedger{done: make(map[string]bool)}
}

func (l *mapLedger) Seen(_ context.Context, runID string, stage int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[fmt.Sprintf("%s:%d", runID, stage)], nil
}

func (l *mapLedger) Record(_ context.Context, runID string, stage int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[fmt.Sprintf("%s:%d", runID, stage)] = true
	return nil
}
