package repository

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// AuditAction names an accepted action in the audit log.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditCleared  AuditAction = "cleared"
	AuditRejected AuditAction = "rejected"
	AuditArchived AuditAction = "archived"
)

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"request_id"`
	StepID        *string        `json:"step_id,omitempty"`
	Action        AuditAction    `json:"action"`
	PerformedBy   string         `json:"performed_by"`
	PerformedRole string         `json:"performed_role,omitempty"`
	StatusBefore  string         `json:"status_before,omitempty"`
	StatusAfter   string         `json:"status_after,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PerformedAt   time.Time      `json:"performed_at"`
}

// Store persists clearance requests, their step instances and audit trail.
type Store interface {
	// CreateRequest inserts a request, all of its instances and the given
	// audit entries atomically.
	CreateRequest(ctx context.Context, req *workflow.ClearanceRequest, steps []*workflow.StepInstance, audit ...*AuditEntry) error

	// WithRequest runs fn with exclusive access to one request. Changes made
	// through the Unit are persisted only if fn returns nil.
	WithRequest(ctx context.Context, requestID string, fn func(*Unit) error) error

	GetRequest(ctx context.Context, requestID string) (*workflow.ClearanceRequest, error)
	ListSteps(ctx context.Context, requestID string) ([]*workflow.StepInstance, error)

	// RequestIDForStep returns the request owning stepID.
	RequestIDForStep(ctx context.Context, stepID string) (string, error)

	ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error)

	Ping(ctx context.Context) error
}

// Unit is a private working copy of one request inside Store.WithRequest.
type Unit struct {
	Request *workflow.ClearanceRequest
	Steps   []*workflow.StepInstance

	changed map[string]bool
	audit   []*AuditEntry
}

func newUnit(req *workflow.ClearanceRequest, steps []*workflow.StepInstance) *Unit {
	return &Unit{Request: req, Steps: steps, changed: make(map[string]bool)}
}

// MarkChanged schedules steps to be written back.
func (u *Unit) MarkChanged(steps ...*workflow.StepInstance) {
	for _, s := range steps {
		if s != nil {
			u.changed[s.ID] = true
		}
	}
}

// Audit schedules an audit entry to be appended.
func (u *Unit) Audit(entry *AuditEntry) {
	if entry.RequestID == "" {
		entry.RequestID = u.Request.ID
	}
	u.audit = append(u.audit, entry)
}

// ChangedSteps returns the steps marked changed, in unit order.
func (u *Unit) ChangedSteps() []*workflow.StepInstance {
	out := make([]*workflow.StepInstance, 0, len(u.changed))
	for _, s := range u.Steps {
		if u.changed[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// AuditEntries returns the scheduled audit entries.
func (u *Unit) AuditEntries() []*AuditEntry {
	return slices.Clone(u.audit)
}

func cloneSteps(steps []*workflow.StepInstance) []*workflow.StepInstance {
	out := make([]*workflow.StepInstance, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

func stampAudit(entries []*AuditEntry, now time.Time) {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.PerformedAt.IsZero() {
			e.PerformedAt = now
		}
	}
}
