package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-suite/meridian/internal/workflow"
)

type stubSender struct {
	to, subject, body string
	err               error
}

func (s *stubSender) Send(ctx context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func TestSendEmailHandlerDeliversPayload(t *testing.T) {
	sender := &stubSender{}
	handler := NewSendEmailHandler(sender)

	task, err := NewSendEmailTask(SendEmailPayload{
		To:      "ops@meridian.test",
		Subject: "nightly report",
		Body:    "all green",
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, "ops@meridian.test", sender.to)
	require.Equal(t, "nightly report", sender.subject)
	require.Equal(t, "all green", sender.body)
}

func TestSendEmailHandlerSkipsMalformedPayload(t *testing.T) {
	sender := &stubSender{}
	handler := NewSendEmailHandler(sender)

	err := handler(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, sender.to)
}

func TestSendEmailHandlerPropagatesSendError(t *testing.T) {
	sender := &stubSender{err: errors.New("relay refused")}
	handler := NewSendEmailHandler(sender)

	task, err := NewSendEmailTask(SendEmailPayload{To: "ops@meridian.test", Subject: "x"})
	require.NoError(t, err)
	require.Error(t, handler(context.Background(), task))
}

type stubDispatcher struct {
	event      workflow.Event
	executions []workflow.WorkflowExecution
	err        error
	calls      int
}

func (d *stubDispatcher) Dispatch(ctx context.Context, evt workflow.Event) ([]workflow.WorkflowExecution, error) {
	d.calls++
	d.event = evt
	return d.executions, d.err
}

func TestWorkflowEventHandlerDispatches(t *testing.T) {
	dispatcher := &stubDispatcher{
		executions: []workflow.WorkflowExecution{{ID: 1, Status: workflow.ExecutionSuccess}},
	}
	handler := NewWorkflowEventHandler(dispatcher, nil)

	task, err := NewWorkflowEventTask(workflow.Event{
		Trigger: workflow.TriggerInvoiceIssued,
		Context: workflow.Context{"invoice_id": {"42"}},
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, dispatcher.calls)
	require.Equal(t, workflow.TriggerInvoiceIssued, dispatcher.event.Trigger)
	value, ok := dispatcher.event.Context.First("invoice_id")
	require.True(t, ok)
	require.Equal(t, "42", value)
}

func TestWorkflowEventHandlerDropsUnknownTrigger(t *testing.T) {
	dispatcher := &stubDispatcher{err: workflow.ErrUnknownTrigger}
	handler := NewWorkflowEventHandler(dispatcher, nil)

	task, err := NewWorkflowEventTask(workflow.Event{Trigger: workflow.TriggerKind("NOPE")})
	require.NoError(t, err)

	require.ErrorIs(t, handler(context.Background(), task), asynq.SkipRetry)
}

func TestWorkflowEventHandlerSkipsMalformedPayload(t *testing.T) {
	dispatcher := &stubDispatcher{}
	handler := NewWorkflowEventHandler(dispatcher, nil)

	err := handler(context.Background(), asynq.NewTask(TaskTypeWorkflowEvent, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, dispatcher.calls)
}
