package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeLedgerIntegrity is the task type for the ledger totals scan.
	TaskTypeLedgerIntegrity = "ledger:integrity"
	// TaskTypeExecutionRetention is the task type for pruning old workflow
	// execution records.
	TaskTypeExecutionRetention = "workflow:retention"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewLedgerIntegrityTask constructs the scheduled ledger scan task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLedgerIntegrity, nil)
}

// NewExecutionRetentionTask constructs the scheduled retention task.
func NewExecutionRetentionTask() *asynq.Task {
	return asynq.NewTask(TaskTypeExecutionRetention, nil)
}

// MailSender delivers one email. The SMTP implementation lives outside this
// core.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewSendEmailHandler returns the Asynq handler for TaskTypeSendEmail.
func NewSendEmailHandler(sender MailSender) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return sender.Send(ctx, payload.To, payload.Subject, payload.Body)
	}
}

// QueueMailer implements the workflow Mailer port by enqueueing delivery
// onto the default queue, so step execution never blocks on SMTP.
type QueueMailer struct {
	client *Client
}

// NewQueueMailer constructs QueueMailer.
func NewQueueMailer(client *Client) *QueueMailer {
	return &QueueMailer{client: client}
}

// Send enqueues the email.
func (m *QueueMailer) Send(ctx context.Context, to, subject, body string) error {
	_, err := m.client.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body})
	return err
}
