package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookClient delivers workflow events to external HTTP endpoints as JSON.
type WebhookClient struct {
	httpClient *http.Client
}

// NewWebhookClient constructs a WebhookClient.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Call posts the payload to the endpoint. Any status >= 400 is a delivery
// failure.
func (c *WebhookClient) Call(ctx context.Context, method, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// erpFieldTargets maps the entity names steps may address onto their table,
// the context key carrying the record id, and the writable columns. Task
// status is deliberately absent: status changes must pass admission.
var erpFieldTargets = map[string]struct {
	table   string
	idKey   string
	columns map[string]bool
}{
	"project": {table: "projects", idKey: "project_id", columns: map[string]bool{"name": true}},
	"task":    {table: "tasks", idKey: "task_id", columns: map[string]bool{"title": true}},
}

// ERPFieldWriter implements the FieldUpdater port against the local tables.
// Entity and field names are matched against a fixed allowlist, never
// interpolated from user input.
type ERPFieldWriter struct {
	pool *pgxpool.Pool
}

// NewERPFieldWriter constructs ERPFieldWriter.
func NewERPFieldWriter(pool *pgxpool.Pool) *ERPFieldWriter {
	return &ERPFieldWriter{pool: pool}
}

// UpdateField writes one allowlisted column of the record named by the event
// context.
func (w *ERPFieldWriter) UpdateField(ctx context.Context, entity, field, value string, event Context) error {
	target, ok := erpFieldTargets[entity]
	if !ok {
		return fmt.Errorf("workflow: entity %q is not writable", entity)
	}
	if !target.columns[field] {
		return fmt.Errorf("workflow: field %s.%s is not writable", entity, field)
	}
	raw, ok := event.First(target.idKey)
	if !ok {
		return fmt.Errorf("context is missing %s", target.idKey)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("context %s is not a valid id: %q", target.idKey, raw)
	}
	cmd, err := w.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s=$2, updated_at=NOW() WHERE id=$1`, target.table, field), id, value)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("workflow: %s %d not found", entity, id)
	}
	return nil
}

// DocumentEmailer renders invoice and dunning notifications on top of a plain
// Mailer. Document lookup and template bodies stay with the host system; this
// adapter only fixes the subjects and routing.
type DocumentEmailer struct {
	mailer Mailer
}

// NewDocumentEmailer constructs a DocumentEmailer.
func NewDocumentEmailer(mailer Mailer) *DocumentEmailer {
	return &DocumentEmailer{mailer: mailer}
}

// SendInvoiceEmail sends the invoice notification.
func (d *DocumentEmailer) SendInvoiceEmail(ctx context.Context, invoiceID int64, recipient, template string) error {
	subject := fmt.Sprintf("Invoice #%d", invoiceID)
	body := template
	if body == "" {
		body = fmt.Sprintf("Please find invoice #%d attached to your account.", invoiceID)
	}
	return d.mailer.Send(ctx, recipient, subject, body)
}

// SendDunningEmail sends the dunning notification.
func (d *DocumentEmailer) SendDunningEmail(ctx context.Context, dunningID int64, recipient, template string) error {
	subject := fmt.Sprintf("Payment reminder #%d", dunningID)
	body := template
	if body == "" {
		body = fmt.Sprintf("This is a reminder for open dunning #%d.", dunningID)
	}
	return d.mailer.Send(ctx, recipient, subject, body)
}
