package workflow

import (
	"time"
)

type phase struct {
	status  RequestStatus
	governs func(StepTemplate) bool
}

func stagePhase(status RequestStatus, stage Stage) phase {
	return phase{status: status, governs: func(t StepTemplate) bool { return t.Stage == stage }}
}

// phases lists the non-terminal macro statuses in progress order, each with
// the templates that must all clear before the request moves on.
var phases = []phase{
	stagePhase(RequestInitiated, StageInitiation),
	stagePhase(RequestDepartmentalReview, StageDepartmental),
	stagePhase(RequestConditionalClearance, StageConditional),
	stagePhase(RequestFinancialClearance, StageFinancial),
	{
		status:  RequestFinalApproval,
		governs: func(t StepTemplate) bool { return t.Stage == StageFinal && t.SignatureTag != TagArchive },
	},
	{
		status:  RequestCompleted,
		governs: func(t StepTemplate) bool { return t.SignatureTag == TagArchive },
	},
}

func phaseIndex(status RequestStatus) int {
	for i, p := range phases {
		if p.status == status {
			return i
		}
	}
	return 0
}

// Lifecycle drives a request's macro status from aggregate step state. The
// macro status is a coarse progress indicator; eligibility is always decided
// per instance.
type Lifecycle struct {
	catalog *Catalog
}

// NewLifecycle creates a Lifecycle over catalog.
func NewLifecycle(catalog *Catalog) *Lifecycle {
	return &Lifecycle{catalog: catalog}
}

// Next returns the macro status implied by instances, starting from current.
// It never moves backwards and never leaves a terminal status.
func (l *Lifecycle) Next(current RequestStatus, instances []*StepInstance) RequestStatus {
	if current.IsTerminal() {
		return current
	}
	for _, inst := range instances {
		if inst.Status == StatusRejected {
			return RequestFailed
		}
	}

	byOrder := indexByOrder(instances)
	idx := phaseIndex(current)
	for idx < len(phases) && l.phaseCleared(phases[idx], byOrder) {
		idx++
	}
	if idx == len(phases) {
		return RequestArchived
	}
	return phases[idx].status
}

// phaseCleared reports whether every governed instance is cleared. The
// archive phase is never cleared vacuously: archiving needs an explicit step.
func (l *Lifecycle) phaseCleared(p phase, byOrder map[int]*StepInstance) bool {
	governed := 0
	for _, tmpl := range l.catalog.templates {
		if !p.governs(tmpl) {
			continue
		}
		governed++
		inst := byOrder[tmpl.Order]
		if inst == nil || inst.Status != StatusCleared {
			return false
		}
	}
	if p.status == RequestCompleted {
		return governed > 0
	}
	return true
}

// CheckActionable rejects any step action on a request in a terminal state.
func (l *Lifecycle) CheckActionable(req *ClearanceRequest) error {
	if req.Status.IsTerminal() {
		return InvalidTransition(req.ID, "request %s is %s and accepts no further actions", req.ReferenceCode, req.Status)
	}
	return nil
}

// CheckArchive ensures req can be archived: every other step, including the
// final vice-president signature, must be cleared.
func (l *Lifecycle) CheckArchive(req *ClearanceRequest) error {
	if _, ok := l.catalog.TemplateByTag(TagArchive); !ok {
		return InvalidTransition(req.ID, "workflow defines no archiving step")
	}
	if req.Status != RequestCompleted {
		return InvalidTransition(req.ID, "request %s cannot be archived from status %s", req.ReferenceCode, req.Status)
	}
	return nil
}

// Apply records the effect of a resolved step on the request: bookend
// signature fields, archive markers and the advanced macro status. It returns
// the status before and after.
func (l *Lifecycle) Apply(req *ClearanceRequest, resolved *StepInstance, instances []*StepInstance, at time.Time) (RequestStatus, RequestStatus) {
	from := req.Status

	if tmpl, ok := l.catalog.Template(resolved.TemplateOrder); ok && resolved.Status == StatusCleared {
		signedAt := at
		switch tmpl.SignatureTag {
		case TagVPInitial:
			req.VPInitialSignedBy = resolved.ActedBy
			req.VPInitialSignature = resolved.SignaturePayload
			req.VPInitialSignedAt = &signedAt
		case TagVPFinal:
			req.VPFinalSignedBy = resolved.ActedBy
			req.VPFinalSignature = resolved.SignaturePayload
			req.VPFinalSignedAt = &signedAt
		case TagArchive:
			req.IsArchived = true
			req.ArchivedBy = resolved.ActedBy
			req.ArchivedAt = &signedAt
		}
	}

	to := l.Next(from, instances)
	if (to == RequestCompleted || to == RequestArchived) && req.CompletedAt == nil {
		completedAt := at
		req.CompletedAt = &completedAt
	}
	req.Status = to
	req.UpdatedAt = at
	return from, to
}
