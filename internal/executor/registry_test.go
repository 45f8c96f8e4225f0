package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atif-27/AutoChain/internal/mailer"
	"github.com/Atif-27/AutoChain/internal/testutil"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("email")
	assert.False(t, ok)

	require.Error(t, r.Register("", HandlerFunc(nil)))
	require.Error(t, r.Register("email", nil))

	called := false
	require.NoError(t, r.Register("email", HandlerFunc(func(context.Context, workflow.Run, workflow.Action) error {
		called = true
		return nil
	})))
	h, ok := r.Lookup("email")
	require.True(t, ok)
	require.NoError(t, h.Handle(context.Background(), workflow.Run{}, workflow.Action{}))
	assert.True(t, called)
}

func TestDefaultRegistry_OnlyEmail(t *testing.T) {
	r := DefaultRegistry(&testutil.RecordingMailer{})
	_, ok := r.Lookup(workflow.ActionEmail)
	assert.True(t, ok)
	_, ok = r.Lookup(workflow.ActionSolana)
	assert.False(t, ok)
}

func TestRenderEmail(t *testing.T) {
	run := workflow.Run{Metadata: map[string]any{
		"to":   "a@b.com, c@d.com",
		"user": map[string]any{"name": "Ann"},
		"tags": []any{"x", "y"},
	}}
	action := workflow.Action{Metadata: map[string]string{
		workflow.MetaEmail:   "{to}",
		workflow.MetaSubject: "Welcome {user.name}",
		workflow.MetaBody:    "Hello {user.name}, tags {tags}, first {tags.0}, {unknown}",
	}}

	email := RenderEmail(run, action)
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, email.To)
	assert.Equal(t, "Welcome Ann", email.Subject)
	assert.Equal(t, `Hello Ann, tags ["x","y"], first x, {unknown}`, email.Body)
}

func TestEmailHandler_SendsRenderedEmail(t *testing.T) {
	m := &testutil.RecordingMailer{}
	h := &EmailHandler{Mailer: m}
	run := workflow.Run{Metadata: map[string]any{"email": "a@b.com"}}
	action := workflow.Action{ID: "a1", Metadata: map[string]string{"email": "{email}", "body": "hi"}}

	require.NoError(t, h.Handle(context.Background(), run, action))
	assert.Equal(t, []mailer.Email{{To: []string{"a@b.com"}, Body: "hi"}}, m.Sent())
}

func TestEmailHandler_NoRecipients(t *testing.T) {
	h := &EmailHandler{Mailer: &testutil.RecordingMailer{}}
	err := h.Handle(context.Background(), workflow.Run{}, workflow.Action{ID: "a1"})
	assert.ErrorIs(t, err, mailer.ErrNoRecipients)
}

func TestEmailHandler_InvalidRecipientIsPermanent(t *testing.T) {
	var logs bytes.Buffer
	h := &EmailHandler{Mailer: mailer.NewLogMailer(slog.New(slog.NewTextHandler(&logs, nil)))}
	run := workflow.Run{Metadata: map[string]any{"email": "a@b.com\r\nBcc: evil@x.com"}}
	action := workflow.Action{ID: "a1", Metadata: map[string]string{"email": "{email}", "body": "hi"}}

	err := h.Handle(context.Background(), run, action)
	require.ErrorIs(t, err, mailer.ErrInvalidRecipient)
	var permanent *backoff.PermanentError
	assert.True(t, errors.As(err, &permanent), "invalid recipients are not retried")
	assert.NotContains(t, logs.String(), "evil@x.com")
}
