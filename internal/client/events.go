package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// EventType names a notification event.
type EventType string

const (
	EventStepAvailable        EventType = "step_available"
	EventRequestTerminal      EventType = "request_terminal"
	EventRequestStatusChanged EventType = "request_status_changed"
)

// Event is the JSON payload published for every notification.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	RequestID      string    `json:"request_id"`
	ReferenceCode  string    `json:"reference_code,omitempty"`
	StepID         string    `json:"step_id,omitempty"`
	TemplateOrder  int       `json:"template_order,omitempty"`
	StepName       string    `json:"step_name,omitempty"`
	AllowedRoles   []string  `json:"allowed_roles,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher delivers events after a change has been committed. Delivery
// failures are handled by the publisher and never returned.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event)
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...Event) {}

// StepAvailable builds the event announcing that a step can be acted on.
func StepAvailable(req *workflow.ClearanceRequest, tmpl workflow.StepTemplate, step *workflow.StepInstance) Event {
	return Event{
		ID:            fmt.Sprintf("%s.%s.%s", req.ID, step.ID, step.Status),
		Type:          EventStepAvailable,
		RequestID:     req.ID,
		ReferenceCode: req.ReferenceCode,
		StepID:        step.ID,
		TemplateOrder: step.TemplateOrder,
		StepName:      tmpl.Name,
		AllowedRoles:  tmpl.AllowedRoles,
		Status:        string(step.Status),
		OccurredAt:    step.LastUpdatedAt,
	}
}

// StatusChanged builds the macro-status events for one transition: always a
// request_status_changed, plus request_terminal when to is terminal.
func StatusChanged(req *workflow.ClearanceRequest, from, to workflow.RequestStatus) []Event {
	base := Event{
		RequestID:      req.ID,
		ReferenceCode:  req.ReferenceCode,
		Status:         string(to),
		PreviousStatus: string(from),
		OccurredAt:     req.UpdatedAt,
	}

	changed := base
	changed.Type = EventRequestStatusChanged
	changed.ID = fmt.Sprintf("%s.request.%s", req.ID, to)
	events := []Event{changed}

	if to.IsTerminal() {
		terminal := base
		terminal.Type = EventRequestTerminal
		terminal.ID = fmt.Sprintf("%s.terminal.%s", req.ID, to)
		events = append(events, terminal)
	}
	return events
}
