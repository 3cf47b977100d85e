package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ActionHandler executes one step. A non-nil error marks the step (and the
// run) as failed; the returned message is accumulated into the execution
// record either way.
type ActionHandler interface {
	Handle(ctx context.Context, config map[string]string, event Context) (string, error)
}

// Registry maps action kinds to their handlers. Handlers are registered at
// startup; execution rejects unregistered kinds instead of skipping them.
type Registry struct {
	handlers map[ActionKind]ActionHandler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ActionKind]ActionHandler)}
}

// Register binds a handler to an action kind.
func (r *Registry) Register(kind ActionKind, handler ActionHandler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownAction, kind)
	}
	if handler == nil {
		return errors.New("workflow: nil handler")
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("workflow: handler for %s already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Handler looks up the handler for kind.
func (r *Registry) Handler(kind ActionKind) (ActionHandler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Transport ports implemented by external collaborators. The engine owns
// dispatch and failure semantics; delivery itself lives outside this core.

// Mailer sends plain emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// WebhookDoer performs an HTTP call to a configured endpoint.
type WebhookDoer interface {
	Call(ctx context.Context, method, url string, payload map[string]any) error
}

// FieldUpdater writes a field value onto an ERP record.
type FieldUpdater interface {
	UpdateField(ctx context.Context, entity, field, value string, event Context) error
}

// DocumentMailer sends templated emails for a referenced document.
type DocumentMailer interface {
	SendInvoiceEmail(ctx context.Context, invoiceID int64, recipient, template string) error
	SendDunningEmail(ctx context.Context, dunningID int64, recipient, template string) error
}

type sendEmailHandler struct {
	mailer Mailer
}

func (h sendEmailHandler) Handle(ctx context.Context, config map[string]string, event Context) (string, error) {
	to := config["to"]
	if err := h.mailer.Send(ctx, to, config["subject"], config["body"]); err != nil {
		return "", fmt.Errorf("send email to %s: %w", to, err)
	}
	return fmt.Sprintf("email sent to %s", to), nil
}

type callWebhookHandler struct {
	client WebhookDoer
}

func (h callWebhookHandler) Handle(ctx context.Context, config map[string]string, event Context) (string, error) {
	method := config["method"]
	if method == "" {
		method = "POST"
	}
	url := config["url"]
	payload := make(map[string]any, len(event))
	for key, values := range event {
		if len(values) == 1 {
			payload[key] = values[0]
			continue
		}
		payload[key] = []string(values)
	}
	if err := h.client.Call(ctx, method, url, payload); err != nil {
		return "", fmt.Errorf("call webhook %s: %w", url, err)
	}
	return fmt.Sprintf("webhook %s %s delivered", method, url), nil
}

type updateERPFieldHandler struct {
	updater FieldUpdater
}

func (h updateERPFieldHandler) Handle(ctx context.Context, config map[string]string, event Context) (string, error) {
	entity := config["entity"]
	field := config["field"]
	if err := h.updater.UpdateField(ctx, entity, field, config["value"], event); err != nil {
		return "", fmt.Errorf("update %s.%s: %w", entity, field, err)
	}
	return fmt.Sprintf("updated %s.%s", entity, field), nil
}

type sendInvoiceEmailHandler struct {
	mailer DocumentMailer
}

func (h sendInvoiceEmailHandler) Handle(ctx context.Context, config map[string]string, event Context) (string, error) {
	id, err := documentID(event, "invoice_id")
	if err != nil {
		return "", err
	}
	if err := h.mailer.SendInvoiceEmail(ctx, id, config["recipient"], config["template"]); err != nil {
		return "", fmt.Errorf("send invoice email for %d: %w", id, err)
	}
	return fmt.Sprintf("invoice email sent for invoice %d", id), nil
}

type sendDunningEmailHandler struct {
	mailer DocumentMailer
}

func (h sendDunningEmailHandler) Handle(ctx context.Context, config map[string]string, event Context) (string, error) {
	id, err := documentID(event, "dunning_id")
	if err != nil {
		return "", err
	}
	if err := h.mailer.SendDunningEmail(ctx, id, config["recipient"], config["template"]); err != nil {
		return "", fmt.Errorf("send dunning email for %d: %w", id, err)
	}
	return fmt.Sprintf("dunning email sent for dunning %d", id), nil
}

func documentID(event Context, key string) (int64, error) {
	raw, ok := event.First(key)
	if !ok {
		return 0, fmt.Errorf("context is missing %s", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("context %s is not a valid id: %q", key, raw)
	}
	return id, nil
}

// NewStandardRegistry registers one handler per action kind.
func NewStandardRegistry(mailer Mailer, webhooks WebhookDoer, erp FieldUpdater, documents DocumentMailer) (*Registry, error) {
	registry := NewRegistry()
	bindings := []struct {
		kind    ActionKind
		handler ActionHandler
	}{
		{ActionSendEmail, sendEmailHandler{mailer: mailer}},
		{ActionCallWebhook, callWebhookHandler{client: webhooks}},
		{ActionUpdateERPField, updateERPFieldHandler{updater: erp}},
		{ActionSendInvoiceEmail, sendInvoiceEmailHandler{mailer: documents}},
		{ActionSendDunningEmail, sendDunningEmailHandler{mailer: documents}},
	}
	for _, b := range bindings {
		if err := registry.Register(b.kind, b.handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
