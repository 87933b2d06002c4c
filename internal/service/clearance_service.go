package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-clearance/internal/client"
	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/logger"
	"github.com/pesio-ai/be-hr-clearance/internal/metrics"
	"github.com/pesio-ai/be-hr-clearance/internal/repository"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// referenceAttempts bounds retries when a generated reference code collides.
const referenceAttempts = 3

// ClearanceService runs clearance requests through the workflow engine. Every
// mutation happens inside the store's per-request critical section; events
// are published only after the change has been committed.
type ClearanceService struct {
	store     repository.Store
	engine    *workflow.Engine
	publisher client.EventPublisher
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewClearanceService creates a ClearanceService. publisher and m may be nil.
func NewClearanceService(
	store repository.Store,
	engine *workflow.Engine,
	publisher client.EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *ClearanceService {
	if publisher == nil {
		publisher = client.NoopPublisher{}
	}
	return &ClearanceService{
		store:     store,
		engine:    engine,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ── Inputs and results ───────────────────────────────────────────────────────

type CreateRequestInput struct {
	StaffID       string            `json:"staff_id"`
	Purpose       string            `json:"purpose"`
	InitiatedBy   string            `json:"initiated_by"`
	InitiatorMeta map[string]string `json:"initiator_meta,omitempty"`
}

type ResolveStepInput struct {
	StepID       string `json:"step_id"`
	ActingRole   string `json:"acting_role"`
	ActingUserID string `json:"acting_user_id"`
	Outcome      string `json:"outcome"`
	Comment      string `json:"comment,omitempty"`
	Signature    string `json:"signature,omitempty"`
	SignatureTag string `json:"signature_tag,omitempty"`
}

type BookendInput struct {
	RequestID    string `json:"request_id"`
	Tag          string `json:"tag"`
	ActingRole   string `json:"acting_role"`
	ActingUserID string `json:"acting_user_id"`
	Outcome      string `json:"outcome"`
	Comment      string `json:"comment,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

type ArchiveInput struct {
	RequestID    string `json:"request_id"`
	ActingRole   string `json:"acting_role"`
	ActingUserID string `json:"acting_user_id"`
	Signature    string `json:"signature,omitempty"`
}

// ResolveResult describes one accepted resolution.
type ResolveResult struct {
	Updated *workflow.StepInstance     `json:"updated"`
	Changed []*workflow.StepInstance   `json:"changed"`
	Request *workflow.ClearanceRequest `json:"request"`
}

// ── Create ───────────────────────────────────────────────────────────────────

// CreateRequest creates a request and its full set of step instances.
func (s *ClearanceService) CreateRequest(ctx context.Context, in CreateRequestInput) (*workflow.ClearanceRequest, error) {
	in.StaffID = strings.TrimSpace(in.StaffID)
	in.InitiatedBy = strings.TrimSpace(in.InitiatedBy)
	if in.StaffID == "" {
		return nil, errors.InvalidInput("staff_id", "is required")
	}
	if in.InitiatedBy == "" {
		return nil, errors.InvalidInput("initiated_by", "is required")
	}

	var (
		req   *workflow.ClearanceRequest
		steps []*workflow.StepInstance
		err   error
	)
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		now := s.now()
		req = &workflow.ClearanceRequest{
			ID:            uuid.NewString(),
			ReferenceCode: newReferenceCode(now),
			StaffID:       in.StaffID,
			Purpose:       strings.TrimSpace(in.Purpose),
			InitiatedBy:   in.InitiatedBy,
			InitiatorMeta: in.InitiatorMeta,
			CreatedAt:     now,
		}
		steps = s.engine.Instantiate(req)

		err = s.store.CreateRequest(ctx, req, steps, &repository.AuditEntry{
			RequestID:   req.ID,
			Action:      repository.AuditCreated,
			PerformedBy: in.InitiatedBy,
			StatusAfter: string(req.Status),
			Metadata:    map[string]any{"reference_code": req.ReferenceCode, "steps": len(steps)},
			PerformedAt: now,
		})
		if !errors.IsCode(err, errors.ErrCodeConflict) {
			break
		}
		s.log.Warn().Str("reference_code", req.ReferenceCode).Msg("Reference code collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RequestCreated()
	s.log.Info().
		Str("request_id", req.ID).
		Str("reference_code", req.ReferenceCode).
		Str("staff_id", req.StaffID).
		Int("steps", len(steps)).
		Msg("Clearance request created")

	var events []client.Event
	for _, st := range steps {
		if st.Status == workflow.StatusAvailable {
			events = append(events, s.stepAvailable(req, st))
		}
	}
	s.publisher.Publish(ctx, events...)

	return req, nil
}

// ── Resolve ──────────────────────────────────────────────────────────────────

// ResolveStep clears or rejects one step.
func (s *ClearanceService) ResolveStep(ctx context.Context, in ResolveStepInput) (*ResolveResult, error) {
	if in.StepID == "" {
		return nil, errors.InvalidInput("step_id", "is required")
	}
	res, err := s.resolution(in.Outcome, in.ActingRole, in.ActingUserID, in.Comment, in.Signature)
	if err != nil {
		return nil, err
	}
	if in.SignatureTag != "" {
		tag, err := workflow.ParseSignatureTag(in.SignatureTag)
		if err != nil {
			return nil, errors.InvalidInput("signature_tag", err.Error())
		}
		res.SignatureTag = tag
	}

	requestID, err := s.store.RequestIDForStep(ctx, in.StepID)
	if err != nil {
		s.metrics.Resolution(string(res.Outcome), resultLabel(err))
		return nil, err
	}

	return s.mutate(ctx, requestID, "resolve", res, func(req *workflow.ClearanceRequest, steps []*workflow.StepInstance) (*workflow.Outcome, error) {
		return s.engine.Resolve(req, steps, in.StepID, res)
	})
}

// SignBookend resolves the vice-president initial or final signature step.
// The archive tag is routed through ArchiveRequest.
func (s *ClearanceService) SignBookend(ctx context.Context, in BookendInput) (*ResolveResult, error) {
	if in.RequestID == "" {
		return nil, errors.InvalidInput("request_id", "is required")
	}
	tag, err := workflow.ParseSignatureTag(in.Tag)
	if err != nil {
		return nil, errors.InvalidInput("tag", err.Error())
	}
	if tag == workflow.TagArchive {
		return s.archive(ctx, ArchiveInput{
			RequestID:    in.RequestID,
			ActingRole:   in.ActingRole,
			ActingUserID: in.ActingUserID,
			Signature:    in.Signature,
		})
	}

	res, err := s.resolution(in.Outcome, in.ActingRole, in.ActingUserID, in.Comment, in.Signature)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, in.RequestID, "bookend", res, func(req *workflow.ClearanceRequest, steps []*workflow.StepInstance) (*workflow.Outcome, error) {
		return s.engine.SignBookend(req, steps, tag, res)
	})
}

// ArchiveRequest archives a completed request.
func (s *ClearanceService) ArchiveRequest(ctx context.Context, in ArchiveInput) (*workflow.ClearanceRequest, error) {
	result, err := s.archive(ctx, in)
	if err != nil {
		return nil, err
	}
	return result.Request, nil
}

func (s *ClearanceService) archive(ctx context.Context, in ArchiveInput) (*ResolveResult, error) {
	if in.RequestID == "" {
		return nil, errors.InvalidInput("request_id", "is required")
	}
	if in.ActingRole == "" {
		return nil, errors.InvalidInput("acting_role", "is required")
	}
	res := workflow.Resolution{
		Outcome:      workflow.StatusCleared,
		ActingRole:   in.ActingRole,
		ActingUserID: in.ActingUserID,
		Signature:    in.Signature,
	}
	return s.mutate(ctx, in.RequestID, "archive", res, func(req *workflow.ClearanceRequest, steps []*workflow.StepInstance) (*workflow.Outcome, error) {
		return s.engine.Archive(req, steps, res)
	})
}

// mutate runs action inside the per-request critical section, records the
// audit entry and, after commit, metrics and events.
func (s *ClearanceService) mutate(
	ctx context.Context,
	requestID, operation string,
	res workflow.Resolution,
	action func(*workflow.ClearanceRequest, []*workflow.StepInstance) (*workflow.Outcome, error),
) (*ResolveResult, error) {
	started := time.Now()
	defer s.metrics.ObserveDuration(operation, started)

	var (
		out *workflow.Outcome
		req *workflow.ClearanceRequest
	)
	err := s.store.WithRequest(ctx, requestID, func(u *repository.Unit) error {
		var err error
		out, err = action(u.Request, u.Steps)
		if err != nil {
			return err
		}
		u.MarkChanged(out.Updated)
		u.MarkChanged(out.Changed...)
		u.Audit(s.auditFor(operation, u.Request, out, res))
		req = u.Request.Clone()
		return nil
	})
	if err != nil {
		s.metrics.Resolution(string(res.Outcome), resultLabel(err))
		s.log.Debug().Err(err).
			Str("request_id", requestID).
			Str("operation", operation).
			Str("acting_role", res.ActingRole).
			Msg("Resolution refused")
		return nil, err
	}

	s.metrics.Resolution(string(out.Updated.Status), "ok")
	if out.StatusChanged() {
		s.metrics.StatusTransition(string(out.StatusTo), out.StatusTo.IsTerminal())
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("step_id", out.Updated.ID).
		Int("order", out.Updated.TemplateOrder).
		Str("outcome", string(out.Updated.Status)).
		Str("acted_by", out.Updated.ActedBy).
		Int("newly_available", len(out.Changed)).
		Str("status", string(out.StatusTo)).
		Msg("Clearance step resolved")

	s.publisher.Publish(ctx, s.eventsFor(req, out)...)

	changed := out.Changed
	if changed == nil {
		changed = []*workflow.StepInstance{}
	}
	return &ResolveResult{Updated: out.Updated, Changed: changed, Request: req}, nil
}

func (s *ClearanceService) resolution(outcome, role, userID, comment, signature string) (workflow.Resolution, error) {
	o, ok := workflow.ParseOutcome(outcome)
	if !ok {
		return workflow.Resolution{}, errors.InvalidInput("outcome", "must be cleared or rejected")
	}
	if role == "" {
		return workflow.Resolution{}, errors.InvalidInput("acting_role", "is required")
	}
	return workflow.Resolution{
		Outcome:      o,
		ActingRole:   role,
		ActingUserID: userID,
		Comment:      comment,
		Signature:    signature,
	}, nil
}

func (s *ClearanceService) auditFor(operation string, req *workflow.ClearanceRequest, out *workflow.Outcome, res workflow.Resolution) *repository.AuditEntry {
	action := repository.AuditCleared
	switch {
	case operation == "archive":
		action = repository.AuditArchived
	case out.Updated.Status == workflow.StatusRejected:
		action = repository.AuditRejected
	}

	stepID := out.Updated.ID
	meta := map[string]any{
		"order":           out.Updated.TemplateOrder,
		"newly_available": orders(out.Changed),
	}
	if tmpl, ok := s.engine.Catalog().Template(out.Updated.TemplateOrder); ok {
		meta["step"] = tmpl.Name
		if tmpl.SignatureTag != workflow.TagNone {
			meta["signature_tag"] = string(tmpl.SignatureTag)
		}
	}
	if res.Comment != "" {
		meta["comment"] = res.Comment
	}

	return &repository.AuditEntry{
		RequestID:     req.ID,
		StepID:        &stepID,
		Action:        action,
		PerformedBy:   res.ActingUserID,
		PerformedRole: res.ActingRole,
		StatusBefore:  string(out.StatusFrom),
		StatusAfter:   string(out.StatusTo),
		Metadata:      meta,
		PerformedAt:   out.Updated.LastUpdatedAt,
	}
}

func (s *ClearanceService) eventsFor(req *workflow.ClearanceRequest, out *workflow.Outcome) []client.Event {
	events := make([]client.Event, 0, len(out.Changed)+2)
	for _, st := range out.Changed {
		events = append(events, s.stepAvailable(req, st))
	}
	if out.StatusChanged() {
		events = append(events, client.StatusChanged(req, out.StatusFrom, out.StatusTo)...)
	}
	return events
}

func (s *ClearanceService) stepAvailable(req *workflow.ClearanceRequest, st *workflow.StepInstance) client.Event {
	tmpl, _ := s.engine.Catalog().Template(st.TemplateOrder)
	return client.StepAvailable(req, tmpl, st)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetStatus returns the aggregate progress of a request.
func (s *ClearanceService) GetStatus(ctx context.Context, requestID string) (*workflow.WorkflowStatus, error) {
	req, steps, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.engine.Summarize(req, steps)
}

// ListSteps returns every step of a request in template order. Steps of a
// failed or archived request are never processable.
func (s *ClearanceService) ListSteps(ctx context.Context, requestID string) ([]workflow.StepSummary, error) {
	req, steps, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := s.engine.Summaries(steps)
	if req.Status.IsTerminal() {
		for i := range out {
			out[i].CanProcess = false
		}
	}
	return out, nil
}

// ListAvailableForRole returns the steps role can act on right now.
func (s *ClearanceService) ListAvailableForRole(ctx context.Context, requestID, role string) ([]workflow.StepSummary, error) {
	status, err := s.GetStatus(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]workflow.StepSummary, 0)
	for _, st := range status.NextAvailableSteps {
		if slices.Contains(st.AllowedRoles, role) {
			out = append(out, st)
		}
	}
	return out, nil
}

// GetHistory returns a request's audit trail oldest-first.
func (s *ClearanceService) GetHistory(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	return s.store.ListAudit(ctx, requestID)
}

// Catalog exposes the workflow definition for read-only listing.
func (s *ClearanceService) Catalog() []workflow.StepTemplate {
	return s.engine.Catalog().Templates()
}

func (s *ClearanceService) load(ctx context.Context, requestID string) (*workflow.ClearanceRequest, []*workflow.StepInstance, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, steps, nil
}

// newReferenceCode returns CLR-YYYYMMDD-XXXXXXXX.
func newReferenceCode(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("CLR-%s-%s", at.Format("20060102"), suffix)
}

func resultLabel(err error) string {
	if kind := workflow.KindOf(err); kind != "" {
		return string(kind)
	}
	return string(errors.CodeOf(err))
}

func orders(steps []*workflow.StepInstance) []int {
	out := make([]int, 0, len(steps))
	for _, st := range steps {
		out = append(out, st.TemplateOrder)
	}
	return out
}
