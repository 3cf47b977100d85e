// Package workflow holds user-defined automation workflows and executes
// their ordered action steps against domain events.
package workflow

import (
	"encoding/json"
	"errors"
	"time"
)

// TriggerKind enumerates the domain events a workflow can react to.
type TriggerKind string

const (
	TriggerManual                TriggerKind = "MANUAL"
	TriggerInvoiceIssued         TriggerKind = "INVOICE_ISSUED"
	TriggerDunningCreated        TriggerKind = "DUNNING_CREATED"
	TriggerERPOrderStatusChanged TriggerKind = "ERP_ORDER_STATUS_CHANGED"
	TriggerCRMLeadStatusChanged  TriggerKind = "CRM_LEAD_STATUS_CHANGED"
	TriggerCRMOpportunityStage   TriggerKind = "CRM_OPPORTUNITY_STAGE_CHANGED"
	TriggerMarketingAssetStatus  TriggerKind = "MARKETING_ASSET_STATUS_CHANGED"
)

// Valid reports whether the trigger kind is part of the closed enum.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerManual, TriggerInvoiceIssued, TriggerDunningCreated,
		TriggerERPOrderStatusChanged, TriggerCRMLeadStatusChanged,
		TriggerCRMOpportunityStage, TriggerMarketingAssetStatus:
		return true
	}
	return false
}

// ActionKind enumerates the step actions a workflow may execute.
type ActionKind string

const (
	ActionSendEmail        ActionKind = "SEND_EMAIL"
	ActionCallWebhook      ActionKind = "CALL_WEBHOOK"
	ActionUpdateERPField   ActionKind = "UPDATE_ERP_FIELD"
	ActionSendInvoiceEmail ActionKind = "SEND_INVOICE_EMAIL"
	ActionSendDunningEmail ActionKind = "SEND_DUNNING_EMAIL"
)

// Valid reports whether the action kind is part of the closed enum.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionSendEmail, ActionCallWebhook, ActionUpdateERPField,
		ActionSendInvoiceEmail, ActionSendDunningEmail:
		return true
	}
	return false
}

// ExecutionStatus enumerates the run state machine:
// QUEUED -> RUNNING -> {SUCCESS | FAILED}. Terminal states are final.
type ExecutionStatus string

const (
	ExecutionQueued  ExecutionStatus = "QUEUED"
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// StringList is a JSON value that may be a single string or a list of
// strings. Trigger filters and event context both use it.
type StringList []string

// UnmarshalJSON accepts either "x" or ["x","y"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// MarshalJSON keeps single values as plain strings.
func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// Contains reports whether v is a member.
func (l StringList) Contains(v string) bool {
	for _, item := range l {
		if item == v {
			return true
		}
	}
	return false
}

// Filter constrains workflow matching: every key must be present in the
// event context with an equal (scalar) or member (list) value.
type Filter map[string]StringList

// Context carries the event payload handed to every step handler.
type Context map[string]StringList

// First returns the first value for key, if any.
func (c Context) First(key string) (string, bool) {
	values, ok := c[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Event is the trigger feed consumed by the execution engine.
type Event struct {
	Trigger TriggerKind
	Context Context
}

// Workflow is a user-defined automation: a trigger, a filter, and ordered
// steps.
type Workflow struct {
	ID        int64
	Name      string
	IsActive  bool
	Trigger   TriggerKind
	Filter    Filter
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches reports whether the workflow applies to the event. Inactive
// workflows and filter keys absent from the context never match
// (fail-closed); an empty filter matches unconditionally.
func (w Workflow) Matches(evt Event) bool {
	if !w.IsActive || w.Trigger != evt.Trigger {
		return false
	}
	for key, want := range w.Filter {
		got, ok := evt.Context[key]
		if !ok {
			return false
		}
		matched := false
		for _, value := range got {
			if want.Contains(value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// WorkflowStep is one ordered action of a workflow. Steps run in ascending
// Order; ties break on lowest id. Order values need not be contiguous.
type WorkflowStep struct {
	ID         int64
	WorkflowID int64
	Name       string
	Action     ActionKind
	Config     map[string]string
	Order      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkflowExecution is the audit record of one run. It is created fresh per
// run and never mutated after reaching a terminal state.
type WorkflowExecution struct {
	ID         int64
	WorkflowID int64
	Status     ExecutionStatus
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

var (
	// ErrWorkflowNotFound indicates a missing workflow.
	ErrWorkflowNotFound = errors.New("workflow: not found")
	// ErrWorkflowInactive indicates a manual run of a deactivated workflow.
	ErrWorkflowInactive = errors.New("workflow: inactive")
	// ErrUnknownTrigger indicates a trigger kind outside the closed enum.
	ErrUnknownTrigger = errors.New("workflow: unknown trigger kind")
	// ErrUnknownAction indicates an action kind outside the closed enum.
	ErrUnknownAction = errors.New("workflow: unknown action kind")
)
