package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/Atif-27/AutoChain/internal/mailer"
	"github.com/Atif-27/AutoChain/internal/template"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

// ActionHandler performs the side effect of one action for one run.
//
// Handle may be called more than once for the same run and stage, since
// delivery is at-least-once. Returning a backoff.Permanent error stops the
// retry loop early.
type ActionHandler interface {
	Handle(ctx context.Context, run workflow.Run, action workflow.Action) error
}

// HandlerFunc adapts a function to ActionHandler.
type HandlerFunc func(ctx context.Context, run workflow.Run, action workflow.Action) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, run workflow.Run, action workflow.Action) error {
	return f(ctx, run, action)
}

// Registry maps catalog action type ids to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ActionHandler)}
}

// Register binds handler to typeID, replacing any previous handler.
func (r *Registry) Register(typeID string, handler ActionHandler) error {
	if typeID == "" {
		return errors.New("register handler: empty action type")
	}
	if handler == nil {
		return fmt.Errorf("register handler %q: nil handler", typeID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeID] = handler
	return nil
}

// Lookup returns the handler for typeID.
func (r *Registry) Lookup(typeID string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typeID]
	return h, ok
}

// DefaultRegistry returns a registry with the email handler bound to m.
func DefaultRegistry(m mailer.Mailer) *Registry {
	r := NewRegistry()
	_ = r.Register(workflow.ActionEmail, &EmailHandler{Mailer: m})
	return r
}

// EmailHandler sends the email action. Recipient, body and the optional
// subject are interpolated against the run's payload snapshot.
type EmailHandler struct {
	Mailer mailer.Mailer
}

// Handle renders and sends the email. A recipient that resolves to no
// address, or to something that is not an address, is permanent and is
// not retried.
func (h *EmailHandler) Handle(ctx context.Context, run workflow.Run, action workflow.Action) error {
	email := RenderEmail(run, action)
	if len(email.To) == 0 {
		return backoff.Permanent(fmt.Errorf("email action %s: %w", action.ID, mailer.ErrNoRecipients))
	}
	if err := h.Mailer.Send(ctx, email); err != nil {
		if errors.Is(err, mailer.ErrNoRecipients) || errors.Is(err, mailer.ErrInvalidRecipient) {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("email action %s: %w", action.ID, err)
	}
	return nil
}

// RenderEmail interpolates the email action metadata with run.Metadata.
func RenderEmail(run workflow.Run, action workflow.Action) mailer.Email {
	meta := action.Metadata
	return mailer.Email{
		To:      mailer.ParseRecipients(template.Interpolate(meta[workflow.MetaEmail], run.Metadata)),
		Subject: template.Interpolate(meta[workflow.MetaSubject], run.Metadata),
		Body:    template.Interpolate(meta[workflow.MetaBody], run.Metadata),
	}
}
