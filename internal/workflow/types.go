package workflow

import (
	"maps"
	"time"
)

// StepStatus is the state of one step instance.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusAvailable StepStatus = "available"
	StatusCleared   StepStatus = "cleared"
	StatusRejected  StepStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change.
func (s StepStatus) IsTerminal() bool {
	return s == StatusCleared || s == StatusRejected
}

// Rank orders statuses along pending < available < {cleared, rejected}.
func (s StepStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAvailable:
		return 1
	case StatusCleared, StatusRejected:
		return 2
	}
	return -1
}

// ParseOutcome accepts the two resolution outcomes.
func ParseOutcome(s string) (StepStatus, bool) {
	switch StepStatus(s) {
	case StatusCleared, StatusRejected:
		return StepStatus(s), true
	}
	return "", false
}

// StepInstance is the per-request realization of one template.
type StepInstance struct {
	ID               string     `json:"id"`
	RequestID        string     `json:"request_id"`
	TemplateOrder    int        `json:"template_order"`
	Status           StepStatus `json:"status"`
	CanProcess       bool       `json:"can_process"`
	ActedBy          string     `json:"acted_by,omitempty"`
	ActedRole        string     `json:"acted_role,omitempty"`
	Comment          string     `json:"comment,omitempty"`
	SignaturePayload string     `json:"signature_payload,omitempty"`
	LastUpdatedAt    time.Time  `json:"last_updated_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Clone returns a copy of the instance.
func (s *StepInstance) Clone() *StepInstance {
	c := *s
	return &c
}

// RequestStatus is the coarse macro-state of a clearance request.
type RequestStatus string

const (
	RequestInitiated            RequestStatus = "initiated"
	RequestDepartmentalReview   RequestStatus = "departmental_review"
	RequestConditionalClearance RequestStatus = "conditional_clearance"
	RequestFinancialClearance   RequestStatus = "financial_clearance"
	RequestFinalApproval        RequestStatus = "final_approval"
	RequestCompleted            RequestStatus = "completed"
	RequestArchived             RequestStatus = "archived"
	RequestFailed               RequestStatus = "failed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestArchived || s == RequestFailed
}

// ClearanceRequest is one staff member's exit or transfer clearance.
type ClearanceRequest struct {
	ID                 string            `json:"id"`
	ReferenceCode      string            `json:"reference_code"`
	StaffID            string            `json:"staff_id"`
	Purpose            string            `json:"purpose"`
	Status             RequestStatus     `json:"status"`
	InitiatedBy        string            `json:"initiated_by"`
	InitiatorMeta      map[string]string `json:"initiator_meta,omitempty"`
	VPInitialSignedBy  string            `json:"vp_initial_signed_by,omitempty"`
	VPInitialSignature string            `json:"vp_initial_signature,omitempty"`
	VPInitialSignedAt  *time.Time        `json:"vp_initial_signed_at,omitempty"`
	VPFinalSignedBy    string            `json:"vp_final_signed_by,omitempty"`
	VPFinalSignature   string            `json:"vp_final_signature,omitempty"`
	VPFinalSignedAt    *time.Time        `json:"vp_final_signed_at,omitempty"`
	IsArchived         bool              `json:"is_archived"`
	ArchivedBy         string            `json:"archived_by,omitempty"`
	ArchivedAt         *time.Time        `json:"archived_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the request.
func (r *ClearanceRequest) Clone() *ClearanceRequest {
	c := *r
	c.InitiatorMeta = maps.Clone(r.InitiatorMeta)
	c.VPInitialSignedAt = cloneTime(r.VPInitialSignedAt)
	c.VPFinalSignedAt = cloneTime(r.VPFinalSignedAt)
	c.ArchivedAt = cloneTime(r.ArchivedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// Resolution is an authorized actor's decision on one step.
type Resolution struct {
	Outcome      StepStatus
	ActingRole   string
	ActingUserID string
	Comment      string
	Signature    string
	SignatureTag SignatureTag
	At           time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func indexByOrder(instances []*StepInstance) map[int]*StepInstance {
	idx := make(map[int]*StepInstance, len(instances))
	for _, inst := range instances {
		idx[inst.TemplateOrder] = inst
	}
	return idx
}
