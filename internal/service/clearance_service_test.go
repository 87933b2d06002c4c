package service

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-clearance/internal/client"
	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/logger"
	"github.com/pesio-ai/be-hr-clearance/internal/metrics"
	"github.com/pesio-ai/be-hr-clearance/internal/repository"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []client.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...client.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) ofType(t client.EventType) []client.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []client.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type harness struct {
	svc       *ClearanceService
	store     *repository.MemoryStore
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewClearanceService(
		store,
		workflow.NewEngine(workflow.DefaultCatalog()),
		pub,
		metrics.New(prometheus.NewRegistry()),
		logger.Nop(),
	)
	return &harness{svc: svc, store: store, publisher: pub}
}

func (h *harness) create(t *testing.T) *workflow.ClearanceRequest {
	t.Helper()
	req, err := h.svc.CreateRequest(context.Background(), CreateRequestInput{
		StaffID:     "staff-42",
		Purpose:     "retirement",
		InitiatedBy: "hr-admin",
	})
	require.NoError(t, err)
	return req
}

func (h *harness) stepID(t *testing.T, requestID string, order int) string {
	t.Helper()
	steps, err := h.svc.ListSteps(context.Background(), requestID)
	require.NoError(t, err)
	for _, st := range steps {
		if st.Order == order {
			return st.StepID
		}
	}
	t.Fatalf("no step with order %d", order)
	return ""
}

func (h *harness) clear(t *testing.T, requestID string, order int, role string) *ResolveResult {
	t.Helper()
	res, err := h.svc.ResolveStep(context.Background(), ResolveStepInput{
		StepID:       h.stepID(t, requestID, order),
		ActingRole:   role,
		ActingUserID: "user-" + role,
		Outcome:      "cleared",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) signInitial(t *testing.T, requestID string) {
	t.Helper()
	_, err := h.svc.SignBookend(context.Background(), BookendInput{
		RequestID:    requestID,
		Tag:          "vp_initial",
		ActingRole:   workflow.RoleVicePresident,
		ActingUserID: "vp-1",
		Outcome:      "cleared",
		Signature:    "vp-sig-1",
	})
	require.NoError(t, err)
}

func TestCreateRequest(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)

	assert.NotEmpty(t, req.ID)
	assert.Regexp(t, regexp.MustCompile(`^CLR-\d{8}-[0-9A-F]{8}$`), req.ReferenceCode)
	assert.Equal(t, workflow.RequestInitiated, req.Status)
	assert.Equal(t, "retirement", req.Purpose)

	steps, err := h.svc.ListSteps(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 13)

	available := h.publisher.ofType(client.EventStepAvailable)
	require.Len(t, available, 1)
	assert.Equal(t, 1, available[0].TemplateOrder)

	history, err := h.svc.GetHistory(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, repository.AuditCreated, history[0].Action)
	assert.Equal(t, "hr-admin", history[0].PerformedBy)
}

func TestCreateRequest_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateRequest(context.Background(), CreateRequestInput{InitiatedBy: "hr"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = h.svc.CreateRequest(context.Background(), CreateRequestInput{StaffID: "  s-1 "})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestClearance_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.create(t)

	h.signInitial(t, req.ID)
	status, err := h.svc.GetStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestDepartmentalReview, status.Status)
	assert.Len(t, status.NextAvailableSteps, 5)

	roles := map[int]string{
		2: workflow.RoleHeadOfDepartment, 3: workflow.RoleDean, 4: workflow.RoleLibrarian,
		5: workflow.RoleICTOfficer, 6: workflow.RoleStoreOfficer, 7: workflow.RoleWorksStoreOfficer,
		8: workflow.RolePropertyDirector, 9: workflow.RoleBursar, 10: workflow.RoleInternalAuditor,
		11: workflow.RoleHROfficer,
	}
	for order := 2; order <= 11; order++ {
		h.clear(t, req.ID, order, roles[order])
	}

	res, err := h.svc.SignBookend(ctx, BookendInput{
		RequestID:    req.ID,
		Tag:          "vp_final",
		ActingRole:   workflow.RoleVicePresident,
		ActingUserID: "vp-1",
		Outcome:      "cleared",
		Signature:    "vp-sig-2",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestCompleted, res.Request.Status)
	assert.Equal(t, "vp-sig-2", res.Request.VPFinalSignature)

	archived, err := h.svc.ArchiveRequest(ctx, ArchiveInput{
		RequestID:    req.ID,
		ActingRole:   workflow.RoleRecordsOfficer,
		ActingUserID: "records-1",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestArchived, archived.Status)
	assert.True(t, archived.IsArchived)

	status, err = h.svc.GetStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.CompletionPercentage)

	terminal := h.publisher.ofType(client.EventRequestTerminal)
	require.Len(t, terminal, 1)
	assert.Equal(t, "archived", terminal[0].Status)

	history, err := h.svc.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 14)
	assert.Equal(t, repository.AuditArchived, history[13].Action)
	assert.Equal(t, "completed", history[13].StatusBefore)
	assert.Equal(t, "archived", history[13].StatusAfter)

	_, err = h.svc.ArchiveRequest(ctx, ArchiveInput{RequestID: req.ID, ActingRole: workflow.RoleRecordsOfficer})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestResolveStep_PropertyDirectorWaitsForBothStores(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	h.signInitial(t, req.ID)
	h.publisher.reset()

	res := h.clear(t, req.ID, 6, workflow.RoleStoreOfficer)
	assert.Empty(t, res.Changed)
	assert.Empty(t, h.publisher.ofType(client.EventStepAvailable))

	_, err := h.svc.ResolveStep(context.Background(), ResolveStepInput{
		StepID:     h.stepID(t, req.ID, 8),
		ActingRole: workflow.RolePropertyDirector,
		Outcome:    "cleared",
	})
	assert.ErrorIs(t, err, workflow.ErrInterdependencyIncomplete)

	res = h.clear(t, req.ID, 7, workflow.RoleWorksStoreOfficer)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, 8, res.Changed[0].TemplateOrder)

	events := h.publisher.ofType(client.EventStepAvailable)
	require.Len(t, events, 1)
	assert.Equal(t, 8, events[0].TemplateOrder)
	assert.Equal(t, []string{workflow.RolePropertyDirector}, events[0].AllowedRoles)
}

func TestResolveStep_RoleMismatchChangesNothing(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	h.signInitial(t, req.ID)
	h.publisher.reset()

	_, err := h.svc.ResolveStep(context.Background(), ResolveStepInput{
		StepID:     h.stepID(t, req.ID, 4),
		ActingRole: workflow.RoleBursar,
		Outcome:    "cleared",
	})
	assert.ErrorIs(t, err, workflow.ErrRoleMismatch)
	assert.Empty(t, h.publisher.events)

	history, err := h.svc.GetHistory(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestResolveStep_RejectionFailsRequest(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	h.signInitial(t, req.ID)

	res, err := h.svc.ResolveStep(context.Background(), ResolveStepInput{
		StepID:     h.stepID(t, req.ID, 5),
		ActingRole: workflow.RoleICTOfficer,
		Outcome:    "rejected",
		Comment:    "laptop not returned",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestFailed, res.Request.Status)
	assert.Equal(t, "laptop not returned", res.Updated.Comment)

	terminal := h.publisher.ofType(client.EventRequestTerminal)
	require.Len(t, terminal, 1)
	assert.Equal(t, "failed", terminal[0].Status)

	_, err = h.svc.ResolveStep(context.Background(), ResolveStepInput{
		StepID:     h.stepID(t, req.ID, 4),
		ActingRole: workflow.RoleLibrarian,
		Outcome:    "cleared",
	})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	status, err := h.svc.GetStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, status.BlockedSteps)
	assert.Empty(t, status.NextAvailableSteps, "a failed request advertises nothing to act on")
	for _, st := range status.Stages {
		assert.False(t, st.CanStageProgress, "stage %s", st.Stage)
	}

	mine, err := h.svc.ListAvailableForRole(context.Background(), req.ID, workflow.RoleLibrarian)
	require.NoError(t, err)
	assert.Empty(t, mine)

	steps, err := h.svc.ListSteps(context.Background(), req.ID)
	require.NoError(t, err)
	for _, st := range steps {
		assert.False(t, st.CanProcess, "order %d", st.Order)
	}
}

func TestResolveStep_ConcurrentResolutionsOfOneStep(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	h.signInitial(t, req.ID)
	stepID := h.stepID(t, req.ID, 4)

	const attempts = 12
	var ok, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ResolveStep(context.Background(), ResolveStepInput{
				StepID:     stepID,
				ActingRole: workflow.RoleLibrarian,
				Outcome:    "cleared",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case workflow.KindOf(err) == workflow.KindAlreadyResolved:
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, attempts-1, already.Load())
}

func TestResolveStep_ConcurrentSiblingStores(t *testing.T) {
	for round := 0; round < 10; round++ {
		h := newHarness(t)
		req := h.create(t)
		h.signInitial(t, req.ID)

		inputs := []ResolveStepInput{
			{StepID: h.stepID(t, req.ID, 6), ActingRole: workflow.RoleStoreOfficer, Outcome: "cleared"},
			{StepID: h.stepID(t, req.ID, 7), ActingRole: workflow.RoleWorksStoreOfficer, Outcome: "cleared"},
		}
		results := make([]*ResolveResult, len(inputs))
		errs := make([]error, len(inputs))
		var wg sync.WaitGroup
		for i, in := range inputs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = h.svc.ResolveStep(context.Background(), in)
			}()
		}
		wg.Wait()

		unlocked := 0
		for i := range inputs {
			require.NoError(t, errs[i])
			for _, st := range results[i].Changed {
				if st.TemplateOrder == 8 {
					unlocked++
				}
			}
		}
		assert.Equal(t, 1, unlocked, "order 8 is unlocked by exactly one of the two stores")

		steps, err := h.svc.ListSteps(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusAvailable, steps[7].Status)
		assert.Equal(t, 8, steps[7].Order)
	}
}

func TestResolveStep_InputErrors(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	ctx := context.Background()

	_, err := h.svc.ResolveStep(ctx, ResolveStepInput{ActingRole: "x", Outcome: "cleared"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = h.svc.ResolveStep(ctx, ResolveStepInput{StepID: h.stepID(t, req.ID, 1), ActingRole: "x", Outcome: "approved"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = h.svc.ResolveStep(ctx, ResolveStepInput{StepID: h.stepID(t, req.ID, 1), ActingRole: "x", Outcome: "cleared", SignatureTag: "vp_middle"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = h.svc.ResolveStep(ctx, ResolveStepInput{StepID: "missing", ActingRole: "x", Outcome: "cleared"})
	assert.ErrorIs(t, err, workflow.ErrStepNotFound)

	_, err = h.svc.SignBookend(ctx, BookendInput{RequestID: req.ID, Tag: "nope", ActingRole: "x", Outcome: "cleared"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestSignBookend_ArchiveTagRoutesToArchive(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)

	_, err := h.svc.SignBookend(context.Background(), BookendInput{
		RequestID:  req.ID,
		Tag:        "archive",
		ActingRole: workflow.RoleRecordsOfficer,
	})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition, "archiving needs a completed request")
}

func TestListAvailableForRole(t *testing.T) {
	h := newHarness(t)
	req := h.create(t)
	ctx := context.Background()

	steps, err := h.svc.ListAvailableForRole(ctx, req.ID, workflow.RoleLibrarian)
	require.NoError(t, err)
	assert.Empty(t, steps)

	h.signInitial(t, req.ID)
	steps, err = h.svc.ListAvailableForRole(ctx, req.ID, workflow.RoleLibrarian)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 4, steps[0].Order)
}

func TestQueries_UnknownRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrRequestNotFound)
	_, err = h.svc.ListSteps(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrRequestNotFound)
	_, err = h.svc.GetHistory(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrRequestNotFound)
	_, err = h.svc.ArchiveRequest(ctx, ArchiveInput{RequestID: "missing", ActingRole: "x"})
	assert.ErrorIs(t, err, workflow.ErrRequestNotFound)
}
