package workflow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Per-action config schemas. Step configs arrive as flat string maps from
// the workflow editor; each action kind imposes its own required keys,
// checked at save time so execution never trips over malformed config.

type sendEmailConfig struct {
	To      string `validate:"required,email"`
	Subject string `validate:"required"`
	Body    string
}

type callWebhookConfig struct {
	URL    string `validate:"required,url"`
	Method string `validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
}

type updateERPFieldConfig struct {
	Entity string `validate:"required"`
	Field  string `validate:"required"`
	Value  string `validate:"required"`
}

type documentEmailConfig struct {
	Recipient string `validate:"omitempty,email"`
	Template  string
}

// ValidateStepConfig checks a step config against the schema of its action
// kind.
func ValidateStepConfig(kind ActionKind, config map[string]string) error {
	switch kind {
	case ActionSendEmail:
		return wrapConfigErr(kind, validate.Struct(sendEmailConfig{
			To:      config["to"],
			Subject: config["subject"],
			Body:    config["body"],
		}))
	case ActionCallWebhook:
		return wrapConfigErr(kind, validate.Struct(callWebhookConfig{
			URL:    config["url"],
			Method: config["method"],
		}))
	case ActionUpdateERPField:
		return wrapConfigErr(kind, validate.Struct(updateERPFieldConfig{
			Entity: config["entity"],
			Field:  config["field"],
			Value:  config["value"],
		}))
	case ActionSendInvoiceEmail, ActionSendDunningEmail:
		return wrapConfigErr(kind, validate.Struct(documentEmailConfig{
			Recipient: config["recipient"],
			Template:  config["template"],
		}))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, kind)
	}
}

func wrapConfigErr(kind ActionKind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("workflow: invalid %s config: %w", kind, err)
}

// ValidateWorkflow checks a workflow definition before it is saved.
func ValidateWorkflow(w Workflow) error {
	if w.Name == "" {
		return errors.New("workflow: name required")
	}
	if !w.Trigger.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, w.Trigger)
	}
	for key := range w.Filter {
		if key == "" {
			return errors.New("workflow: filter keys must be non-empty")
		}
	}
	return nil
}

// ValidateStep checks a step definition before it is saved.
func ValidateStep(s WorkflowStep) error {
	if s.WorkflowID == 0 {
		return errors.New("workflow: step requires a workflow")
	}
	if s.Name == "" {
		return errors.New("workflow: step name required")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownAction, s.Action)
	}
	return ValidateStepConfig(s.Action, s.Config)
}
