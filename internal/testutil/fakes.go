// Package testutil holds deterministic clocks, fakes and seeding helpers
// shared by package tests and the scenario harness.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Atif-27/AutoChain/internal/broker"
	"github.com/Atif-27/AutoChain/internal/mailer"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// RecordingMailer records every email it is asked to send.
// The first Failures sends return ErrInjected and are not recorded.
type RecordingMailer struct {
	mu       sync.Mutex
	sent     []mailer.Email
	attempts int
	Failures int
}

var _ mailer.Mailer = (*RecordingMailer)(nil)

// Send records email, or fails while injected failures remain.
func (m *RecordingMailer) Send(ctx context.Context, email mailer.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.Failures > 0 {
		m.Failures--
		return ErrInjected
	}
	m.sent = append(m.sent, email)
	return nil
}

// Sent returns a copy of the recorded emails in send order.
func (m *RecordingMailer) Sent() []mailer.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Email(nil), m.sent...)
}

// Attempts returns how many times Send was called.
func (m *RecordingMailer) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// FlakyPublisher wraps a publisher and fails the first Failures calls
// without forwarding them.
type FlakyPublisher struct {
	Inner    broker.Publisher
	mu       sync.Mutex
	Failures int
	calls    int
}

var _ broker.Publisher = (*FlakyPublisher)(nil)

// Publish forwards msgs to Inner unless an injected failure remains.
func (p *FlakyPublisher) Publish(ctx context.Context, topic string, msgs ...broker.Message) error {
	p.mu.Lock()
	p.calls++
	fail := p.Failures > 0
	if fail {
		p.Failures--
	}
	p.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return p.Inner.Publish(ctx, topic, msgs...)
}

// Calls returns how many times Publish was called.
func (p *FlakyPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Close is a no-op; the inner publisher is owned by the caller.
func (p *FlakyPublisher) Close() error { return nil }
